// Package store provides the key-value persistence collaborator owning the
// installation's configuration blob.
package store

import "context"

// KV is a minimal key-value store. Get reports presence explicitly so a
// missing key is not an error.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
