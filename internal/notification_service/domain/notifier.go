package domain

import (
	"context"

	"github.com/numberdrop/golang_services/internal/platform/database"
)

// Notifier is used by other services to add feed items as a side effect of their
// own operations.
type Notifier interface {
	// Notify inserts n using q, so it commits or rolls back with the caller's transaction.
	Notify(ctx context.Context, q database.Querier, n *Notification) error
	// Announce publishes n to the event bus. Call it after the transaction committed.
	Announce(ctx context.Context, n *Notification)
}
