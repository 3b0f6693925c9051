package relay

import "errors"

var (
	// ErrFormat indicates a document whose declared kind is not a relay
	// list. The resolver treats it as absent and falls through to the next
	// precedence tier.
	ErrFormat = errors.New("not a relay list document")

	// ErrDuplicateEndpoint is returned when adding a URL already present in
	// the configured set.
	ErrDuplicateEndpoint = errors.New("duplicate endpoint")

	// ErrLastEndpoint is returned when a removal would leave the configured
	// set empty.
	ErrLastEndpoint = errors.New("cannot remove last endpoint")
)
