package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces sensitive values in log lines.
const RedactedValue = "[REDACTED]"

// Keys whose values are logged verbatim by MaskField.
var plainKeys = map[string]struct{}{
	"service":   {},
	"env":       {},
	"error":     {},
	"component": {},
	"address":   {},
	"height":    {},
	"mode":      {},
	"outcome":   {},
	"price":     {},
	"round_id":  {},
}

// IsPlain reports whether key is logged without masking.
func IsPlain(key string) bool {
	_, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute that hides value unless key is plain or the
// value is empty.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsPlain(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// SafeURL keeps the scheme, host and path of raw and masks its query, which
// price feeds commonly use for API keys.
func SafeURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return RedactedValue
	}
	parsed.User = nil
	if parsed.RawQuery != "" {
		parsed.RawQuery = RedactedValue
	}
	return parsed.String()
}
