package symbolprice

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ExtractPrice finds the first QuoteCurrency key in a JSON object body and
// converts its numeric value to cents. The fractional part is truncated to
// two digits. Any malformed input yields false.
func ExtractPrice(body []byte) (Price, bool) {
	if !utf8.Valid(body) || !json.Valid(body) {
		return 0, false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return 0, false
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return 0, false
	}
	raw, found := findKey(dec, QuoteCurrency)
	if !found {
		return 0, false
	}
	return parsePrice(raw)
}

// findKey walks the token stream in document order until key appears as an
// object member name, then returns the token that follows it. The decoder is
// positioned just inside the top-level object on entry.
func findKey(dec *json.Decoder, key string) (json.Token, bool) {
	// stack records whether each open container is an object and, if so,
	// whether the next string token is a member name.
	type frame struct {
		object    bool
		expectKey bool
	}
	stack := []frame{{object: true, expectKey: true}}
	for len(stack) > 0 {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, false
		}
		if err != nil {
			return nil, false
		}
		top := &stack[len(stack)-1]
		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{', '[':
				if top.object {
					top.expectKey = true
				}
				stack = append(stack, frame{object: delim == '{', expectKey: delim == '{'})
			case '}', ']':
				stack = stack[:len(stack)-1]
			}
			continue
		}
		if top.object && top.expectKey {
			name, _ := tok.(string)
			if name == key {
				value, err := dec.Token()
				if err != nil {
					return nil, false
				}
				return value, true
			}
			top.expectKey = false
			continue
		}
		if top.object {
			top.expectKey = true
		}
	}
	return nil, false
}

func parsePrice(tok json.Token) (Price, bool) {
	num, ok := tok.(json.Number)
	if !ok {
		return 0, false
	}
	text := string(num)
	if strings.ContainsAny(text, "-+eE") {
		return 0, false
	}
	intPart, fracPart, _ := strings.Cut(text, ".")
	whole, err := strconv.ParseUint(intPart, 10, 64)
	if err != nil || whole > math.MaxUint64/100 {
		return 0, false
	}
	var fraction uint64
	if fracPart != "" {
		if len(fracPart) > 2 {
			fracPart = fracPart[:2]
		}
		fraction, err = strconv.ParseUint(fracPart, 10, 64)
		if err != nil {
			return 0, false
		}
	}
	cents := whole * 100
	if cents > math.MaxUint64-fraction {
		return 0, false
	}
	return Price(cents + fraction), true
}
