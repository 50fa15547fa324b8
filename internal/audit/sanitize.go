package audit

import "strings"

// redactedValue replaces any value stored under a sensitive key.
const redactedValue = "***REDACTED***"

// sensitiveKeys is the denylist of key substrings, matched case-insensitively,
// whose values never reach the audit trail.
var sensitiveKeys = []string{
	"password",
	"token",
	"secret",
	"api_key",
	"access_token",
	"refresh_token",
	"authorization",
	"credit_card",
	"ssn",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Sanitize walks v and replaces every value under a sensitive key with the
// redaction marker. Maps and slices are copied; the input is never mutated.
func Sanitize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if isSensitiveKey(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = Sanitize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Sanitize(item)
		}
		return out
	default:
		return v
	}
}

// SanitizeMap is Sanitize specialized for the map payloads audit surfaces
// receive. A nil map stays nil.
func SanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return Sanitize(m).(map[string]any)
}
