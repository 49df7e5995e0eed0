package order

import "context"

// Store persists order aggregates.
//
// Update serializes all writes to one transaction id at the storage layer:
// implementations run fn inside a transaction holding the row, so two
// concurrent callbacks for the same transaction cannot race the state
// change. Callbacks for different transactions proceed concurrently.
type Store interface {
	// Create inserts a fresh aggregate.
	Create(ctx context.Context, o Order) error
	// Supersede replaces any existing aggregate with the same ExternalURN.
	// Used when a re-select restarts the draft.
	Supersede(ctx context.Context, o Order) error
	// Get returns the aggregate for a transaction id.
	Get(ctx context.Context, externalURN string) (Order, error)
	// Update loads the row for writing, applies fn, and persists the result.
	// fn returning an error aborts without writing.
	Update(ctx context.Context, externalURN string, fn func(*Order) error) (Order, error)
}
