package symbolprice

var (
	pricesKey         = []byte("symbolprice/prices")
	predictedPriceKey = []byte("symbolprice/predicted")
	nextUnsignedAtKey = []byte("symbolprice/next-unsigned-at")
	signedNoncePrefix = []byte("symbolprice/nonce/")
)

// providesTagPrefix namespaces pool deduplication tags of unsigned submissions.
var providesTagPrefix = []byte("symbol-price-ocw")

func signedNonceKey(addr []byte) []byte {
	buf := make([]byte, len(signedNoncePrefix)+len(addr))
	copy(buf, signedNoncePrefix)
	copy(buf[len(signedNoncePrefix):], addr)
	return buf
}

func providesTag(slot uint64) []byte {
	buf := make([]byte, len(providesTagPrefix)+8)
	copy(buf, providesTagPrefix)
	for i := 0; i < 8; i++ {
		buf[len(providesTagPrefix)+i] = byte(slot >> (56 - 8*i))
	}
	return buf
}
