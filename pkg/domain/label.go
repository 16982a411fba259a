package domain

import (
	"fmt"
	"net/url"
	"regexp"
)

// Label identifies a realm. It is the aggregate identity and the shard key.
var labelRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

type Label string

// ParseLabel validates the raw string against the label alphabet.
func ParseLabel(raw string) (Label, error) {
	if !labelRegex.MatchString(raw) {
		return "", fmt.Errorf("illegal label %q: must match [A-Za-z0-9_-]{1,32}", raw)
	}
	return Label(raw), nil
}

func (l Label) String() string {
	return string(l)
}

// PersistenceID returns the journal persistence id for this label.
func (l Label) PersistenceID() string {
	return "realms-" + string(l)
}

// URL is an absolute HTTP(S) URL kept in its raw string form.
type URL string

// ParseURL validates the raw string as an absolute http(s) URL.
func ParseURL(raw string) (URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("illegal url %q: %w", raw, err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("illegal url %q: must be an absolute http(s) url", raw)
	}
	return URL(raw), nil
}

func (u URL) String() string {
	return string(u)
}
