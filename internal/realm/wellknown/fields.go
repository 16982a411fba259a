package wellknown

import (
	"encoding/json"

	id "aegis/pkg/domain"
)

// asString reads a raw JSON value as a string.
func asString(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// asURL reads a raw JSON value as an absolute http(s) URL.
func asURL(raw json.RawMessage) (id.URL, bool) {
	s, ok := asString(raw)
	if !ok {
		return "", false
	}
	u, err := id.ParseURL(s)
	if err != nil {
		return "", false
	}
	return u, true
}
