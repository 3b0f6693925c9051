// Package transport contains the reference relay transport. Everything the
// engine needs from a transport is the one-method relay.Transport contract;
// connection management and retry policy stay on this side of the boundary.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relaymesh/pkg/types"

	"go.uber.org/zap"
)

// HTTP queries relays over a plain JSON-over-HTTP bridge: the filter is
// POSTed to <relay>/req and the response body is a JSON record array. The
// per-request context carries timeout and cancellation.
type HTTP struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTP creates the HTTP transport. A nil logger is replaced with a no-op
// logger.
func NewHTTP(logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Query implements relay.Transport.
func (t *HTTP) Query(ctx context.Context, filter types.Filter, relayURL string) ([]types.Record, error) {
	endpoint, err := requestURL(relayURL)
	if err != nil {
		return nil, fmt.Errorf("relay %s: %w", relayURL, err)
	}

	body, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("relay %s: failed to encode filter: %w", relayURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("relay %s: %w", relayURL, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay %s: %w", relayURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay %s: unexpected status %d", relayURL, resp.StatusCode)
	}

	var records []types.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("relay %s: failed to decode response: %w", relayURL, err)
	}

	t.logger.Debug("relay responded",
		zap.String("relay", relayURL),
		zap.Int("records", len(records)))

	return records, nil
}

// requestURL maps a canonical relay URL onto its HTTP bridge endpoint.
func requestURL(relayURL string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/req"
	return u.String(), nil
}
