package symbolprice

// History is the bounded FIFO of accepted raw prices, oldest first.
type History []Price

// Accept appends sample, evicting from the front until the result fits
// within maxPrices. The receiver is not modified.
func (h History) Accept(sample Price, maxPrices uint32) History {
	if maxPrices == 0 {
		return History{}
	}
	next := make(History, 0, len(h)+1)
	next = append(next, h...)
	next = append(next, sample)
	if over := len(next) - int(maxPrices); over > 0 {
		next = append(History(nil), next[over:]...)
	}
	return next
}

// Latest returns the most recently accepted sample.
func (h History) Latest() (Price, bool) {
	if len(h) == 0 {
		return 0, false
	}
	return h[len(h)-1], true
}

func (h History) encode() []uint64 {
	out := make([]uint64, len(h))
	for i, p := range h {
		out[i] = uint64(p)
	}
	return out
}

func decodeHistory(raw []uint64) History {
	out := make(History, len(raw))
	for i, v := range raw {
		out[i] = Price(v)
	}
	return out
}
