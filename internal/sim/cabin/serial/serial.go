// Package serial allocates cabin instance serials. Every allocation returns a value
// strictly greater than all earlier ones, including those handed out by other
// processes sharing the same counter.
package serial

import "context"

// Allocator hands out monotonically increasing serials.
type Allocator interface {
	Allocate(ctx context.Context) (uint64, error)
}

// Counter is an Allocator whose current value can be inspected and repaired.
type Counter interface {
	Allocator
	Peek(ctx context.Context) (uint64, error)
	// Set overwrites the counter. Used by operators after manual repair.
	Set(ctx context.Context, v uint64) error
}
