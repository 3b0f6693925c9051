package relay

import (
	"relaymesh/pkg/types"
)

// ExtractHints pulls embedded relay hints out of a record's reference tags:
// every "p" tag naming a subject with an attached relay URL. Hints are
// ephemeral and only widen a single discovery operation. Per subject the
// first-seen URL order is preserved and exact duplicates collapse.
func ExtractHints(rec types.Record) map[types.SubjectID][]string {
	hints := make(map[types.SubjectID][]string)
	for _, tag := range rec.Tags {
		if len(tag) < 3 || tag[0] != "p" || tag[1] == "" {
			continue
		}
		u, err := types.NormalizeURL(tag[2])
		if err != nil {
			continue
		}
		id := types.SubjectID(tag[1])
		if containsURL(hints[id], u) {
			continue
		}
		hints[id] = append(hints[id], u)
	}
	return hints
}

// DiscoveryEndpoints guesses where a referenced record may live before a
// targeted fetch: the caller's configured relays, widened by every hint on
// the record and, when supplied, by cached read relays of each hinted
// subject. Order is preserved, duplicates collapse.
func DiscoveryEndpoints(rec types.Record, configured []string, cachedRead map[types.SubjectID][]string) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(raw string) {
		u, err := types.NormalizeURL(raw)
		if err != nil {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	for _, u := range configured {
		add(u)
	}

	// Walk the tags directly so hinted subjects keep their tag order.
	for _, tag := range rec.Tags {
		if len(tag) < 3 || tag[0] != "p" || tag[1] == "" {
			continue
		}
		add(tag[2])
		if cachedRead != nil {
			for _, u := range cachedRead[types.SubjectID(tag[1])] {
				add(u)
			}
		}
	}

	return out
}

func containsURL(urls []string, u string) bool {
	for _, v := range urls {
		if v == u {
			return true
		}
	}
	return false
}
