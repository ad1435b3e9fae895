package session

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// IsJWT reports whether s looks like a JWT: three non-empty base64url
// segments whose first decodes to a JSON header carrying "alg".
func IsJWT(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[0], "="))
	if err != nil {
		return false
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return false
	}
	return header.Alg != ""
}
