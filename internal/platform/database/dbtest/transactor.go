// Package dbtest holds test doubles for the database package.
package dbtest

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
)

// Transactor runs every fn inline with a nil pgx.Tx. Repositories in tests are mocks,
// so the transaction handle is never dereferenced.
type Transactor struct {
	mu      sync.Mutex
	Calls   int
	Commits int
	// FailOn makes the n-th call (1-based) return Err without running fn.
	FailOn int
	Err    error
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	t.mu.Lock()
	t.Calls++
	call := t.Calls
	t.mu.Unlock()

	if t.FailOn != 0 && call == t.FailOn {
		return t.Err
	}
	if err := fn(nil); err != nil {
		return err
	}
	t.mu.Lock()
	t.Commits++
	t.mu.Unlock()
	return nil
}
