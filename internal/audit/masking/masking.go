// Package masking redacts external billing identifiers before they reach
// the audit trail.
package masking

import "strings"

const maskToken = "****"

// sensitiveKeys hold ids that let support act on a customer in the billing
// dashboard. They are kept recognisable but not usable.
var sensitiveKeys = map[string]struct{}{
	"external_customer_id": {},
	"external_payment_id":  {},
	"client_secret":        {},
	"ephemeral_key":        {},
}

// MaskID keeps the provider prefix and the last four characters, e.g.
// "pi_3Nx8...abcd" becomes "pi_****abcd".
func MaskID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskMetadata returns a copy with every sensitive string value masked.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := sensitiveKeys[key]; ok {
			if s, isString := value.(string); isString {
				out[key] = MaskID(s)
				continue
			}
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// splitPrefix splits "cus_abc" into "cus_" and "abc".
func splitPrefix(value string) (string, string) {
	idx := strings.Index(value, "_")
	if idx == -1 || idx == len(value)-1 {
		return "", value
	}
	return value[:idx+1], value[idx+1:]
}
