package relay

import (
	"context"

	"relaymesh/pkg/types"
)

// Transport executes a single query against a single relay. Connection
// management, retries and the wire protocol are entirely the collaborator's
// responsibility; the context carries the per-dispatch timeout and
// cancellation.
type Transport interface {
	Query(ctx context.Context, filter types.Filter, relayURL string) ([]types.Record, error)
}
