package types

import (
	"fmt"
	"net/url"
	"strings"
)

type SubjectID string
type RecordID string

// Record kinds understood by this module. Relay list documents are
// owner-published declarations; only the newest one per owner is
// authoritative.
const (
	KindRelayList        = 10002
	KindPrivateRelayList = 10050
)

// Endpoint describes a single relay and the axes it is used on.
type Endpoint struct {
	URL   string `json:"url"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

// Validate checks the endpoint invariants: a canonical URL and at least one
// active axis.
func (e Endpoint) Validate() error {
	if e.URL == "" {
		return fmt.Errorf("endpoint url cannot be empty")
	}
	if !e.Read && !e.Write {
		return fmt.Errorf("endpoint %s must be readable or writable", e.URL)
	}
	return nil
}

// Record is a retrieved, identity-bearing record. CreatedAt is the logical
// timestamp in unix seconds used for latest-wins deduplication.
type Record struct {
	ID        RecordID   `json:"id"`
	Author    SubjectID  `json:"author"`
	Kind      int        `json:"kind"`
	CreatedAt int64      `json:"created_at"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
}

// Filter selects records by kind, author and tag criteria. A zero Filter is
// invalid; at least one criterion must be set.
type Filter struct {
	Kinds   []int               `json:"kinds,omitempty"`
	Authors []SubjectID         `json:"authors,omitempty"`
	Tags    map[string][]string `json:"tags,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
}

// Validate checks the filter at construction time.
func (f Filter) Validate() error {
	if len(f.Kinds) == 0 && len(f.Authors) == 0 && len(f.Tags) == 0 {
		return fmt.Errorf("filter must have at least one criterion")
	}
	for _, a := range f.Authors {
		if a == "" {
			return fmt.Errorf("filter author cannot be empty")
		}
	}
	if f.Limit < 0 {
		return fmt.Errorf("filter limit cannot be negative")
	}
	return nil
}

// NormalizeURL canonicalizes a relay URL: scheme-qualified (wss assumed when
// no scheme is given), lowercase scheme and host, no trailing slash.
// Normalization is idempotent.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url cannot be empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "/" {
		u.Path = ""
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}
