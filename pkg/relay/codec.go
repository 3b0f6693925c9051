package relay

import (
	"fmt"

	"relaymesh/pkg/types"

	"go.uber.org/zap"
)

// Codec parses published relay-list documents into endpoint descriptors.
// Publishing is an external collaborator's job; the codec only reads.
type Codec struct {
	logger *zap.Logger
}

// NewCodec creates a codec. A nil logger is replaced with a no-op logger.
func NewCodec(logger *zap.Logger) *Codec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{logger: logger}
}

// ParseRelayList extracts the endpoint entries from a general relay-list
// document. It fails with ErrFormat when the record kind does not match.
func (c *Codec) ParseRelayList(rec types.Record) ([]types.Endpoint, error) {
	return c.parse(rec, types.KindRelayList)
}

// ParsePrivateRelayList extracts entries from a private-delivery relay list.
// Private lists are resolved independently and never merged with the
// general list.
func (c *Codec) ParsePrivateRelayList(rec types.Record) ([]types.Endpoint, error) {
	return c.parse(rec, types.KindPrivateRelayList)
}

func (c *Codec) parse(rec types.Record, kind int) ([]types.Endpoint, error) {
	if rec.Kind != kind {
		return nil, fmt.Errorf("kind %d: %w", rec.Kind, ErrFormat)
	}

	seen := make(map[string]struct{})
	var entries []types.Endpoint
	for _, tag := range rec.Tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}
		u, err := types.NormalizeURL(tag[1])
		if err != nil {
			c.logger.Debug("skipping invalid relay url",
				zap.String("url", tag[1]),
				zap.Error(err))
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}

		// Default is read+write; an explicit marker narrows to one axis.
		ep := types.Endpoint{URL: u, Read: true, Write: true}
		if len(tag) >= 3 && tag[2] != "" {
			switch tag[2] {
			case "read":
				ep.Write = false
			case "write":
				ep.Read = false
			default:
				// An unknown marker would otherwise produce a dead entry;
				// coerce to read+write and treat as recoverable.
				c.logger.Warn("unknown relay marker, keeping read+write",
					zap.String("url", u),
					zap.String("marker", tag[2]))
			}
		}

		seen[u] = struct{}{}
		entries = append(entries, ep)
	}

	return entries, nil
}
