package service

import (
	"encoding/json"
	"strings"
)

const redactedMarker = "[REDACTED]"

var sensitiveKeyParts = []string{
	"password", "passwd", "token", "secret", "apikey", "privatekey",
	"signature", "authorization", "credential", "passphrase",
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	k = strings.NewReplacer("_", "", "-", "").Replace(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// Redact returns a deep copy of v with values under sensitive keys replaced.
func Redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = redactedMarker
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case map[string]string:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = redactedMarker
				continue
			}
			out[k] = val
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}

// RedactMetadata copies metadata with sensitive values masked.
func RedactMetadata(md map[string]interface{}) map[string]interface{} {
	if md == nil {
		return nil
	}
	return Redact(md).(map[string]interface{})
}

// RedactBody parses a JSON request body and masks sensitive fields. Bodies
// that are not JSON are dropped rather than stored verbatim.
func RedactBody(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "[non-JSON body omitted]"
	}
	return Redact(parsed)
}
