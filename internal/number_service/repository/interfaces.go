package repository

import (
	"context"
	"time"

	"github.com/numberdrop/golang_services/internal/number_service/domain"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/shopspring/decimal"
)

// CatalogFilter narrows SearchCatalog. Zero values mean "any".
type CatalogFilter struct {
	Country       string
	Locality      string
	SupportsSMS   bool
	SupportsVoice bool
	PriceMin      *decimal.Decimal
	PriceMax      *decimal.Decimal
	FeaturedOnly  bool
	Limit         int
	Offset        int
}

type CatalogRepository interface {
	Create(ctx context.Context, q database.Querier, n *domain.AvailableNumber) error
	// Search returns rows that are available for purchase, including reservations
	// that expired before now.
	Search(ctx context.Context, q database.Querier, f CatalogFilter, now time.Time) ([]*domain.AvailableNumber, int, error)
	Get(ctx context.Context, q database.Querier, id string) (*domain.AvailableNumber, error)
	GetForUpdate(ctx context.Context, q database.Querier, id string) (*domain.AvailableNumber, error)
	Reserve(ctx context.Context, q database.Querier, id, userID string, until time.Time) error
	// Release puts a row reserved by userID back on sale. Rows in any other state,
	// or reserved by someone else, are left alone.
	Release(ctx context.Context, q database.Querier, id, userID string) error
	// MarkSold returns core_domain.ErrNotFound unless userID still holds the reservation.
	MarkSold(ctx context.Context, q database.Querier, id, userID string) error
}

type OwnedNumberRepository interface {
	Create(ctx context.Context, q database.Querier, n *domain.OwnedNumber) error
	Get(ctx context.Context, q database.Querier, id string) (*domain.OwnedNumber, error)
	GetForUpdate(ctx context.Context, q database.Querier, id string) (*domain.OwnedNumber, error)
	GetByPurchaseReference(ctx context.Context, q database.Querier, reference string) (*domain.OwnedNumber, error)
	// FindByPhone returns the non-cancelled number with the given E.164 value.
	FindByPhone(ctx context.Context, q database.Querier, phone string) (*domain.OwnedNumber, error)
	ListByUser(ctx context.Context, q database.Querier, userID string, status domain.OwnedStatus) ([]*domain.OwnedNumber, error)
	// Update writes the mutable fields: friendly_name, status, auto_renew, expires_at.
	Update(ctx context.Context, q database.Querier, n *domain.OwnedNumber) error
	// ListDueForRenewal returns active auto-renew numbers expiring before `before`.
	ListDueForRenewal(ctx context.Context, q database.Querier, before time.Time) ([]*domain.OwnedNumber, error)
	// ListLapsed returns active numbers without auto-renew that expired before now.
	ListLapsed(ctx context.Context, q database.Querier, now time.Time) ([]*domain.OwnedNumber, error)
	CountActive(ctx context.Context, q database.Querier, userID string) (int, error)
}
