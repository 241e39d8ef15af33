package repository

import (
	"context"

	"github.com/numberdrop/golang_services/internal/billing_service/domain"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/shopspring/decimal"
)

// LedgerFilter narrows ListByUser. Zero values mean "any".
type LedgerFilter struct {
	Kind   domain.EntryKind
	Status domain.EntryStatus
	Limit  int
	Offset int
}

// WalletRepository persists wallets. Every method takes the querier it runs on, so
// callers decide the transaction boundary.
type WalletRepository interface {
	// Ensure creates the wallet if it does not exist yet. Safe to call concurrently.
	Ensure(ctx context.Context, q database.Querier, userID, currency string) error
	// GetForUpdate locks the wallet row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, q database.Querier, userID string) (*domain.Wallet, error)
	Get(ctx context.Context, q database.Querier, userID string) (*domain.Wallet, error)
	UpdateBalance(ctx context.Context, q database.Querier, userID string, balance decimal.Decimal) error
}

type LedgerRepository interface {
	// Create fails with database.ErrDuplicate when the reference is already taken.
	Create(ctx context.Context, q database.Querier, entry *domain.LedgerEntry) error
	// GetByReference returns core_domain.ErrNotFound when no entry has the reference.
	GetByReference(ctx context.Context, q database.Querier, reference string) (*domain.LedgerEntry, error)
	// GetByReferenceForUpdate locks the entry row.
	GetByReferenceForUpdate(ctx context.Context, q database.Querier, reference string) (*domain.LedgerEntry, error)
	// UpdateStatus settles a pending entry. Settled entries are never rewritten.
	UpdateStatus(ctx context.Context, q database.Querier, id string, status domain.EntryStatus, balanceAfter *decimal.Decimal, metadata domain.LedgerMetadata) error
	ListByUser(ctx context.Context, q database.Querier, userID string, filter LedgerFilter) ([]*domain.LedgerEntry, int, error)
	CountByStatus(ctx context.Context, q database.Querier, userID string, status domain.EntryStatus) (int, error)
}
