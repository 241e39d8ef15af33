package repository

import (
	"context"

	"github.com/numberdrop/golang_services/internal/messaging_service/domain"
	"github.com/numberdrop/golang_services/internal/platform/database"
)

type MessageFilter struct {
	NumberID  string
	Direction domain.Direction
	Status    string
	Limit     int
	Offset    int
}

type CallFilter struct {
	NumberID  string
	Direction domain.Direction
	Status    string
	Limit     int
	Offset    int
}

type MessageRepository interface {
	// Create returns core_domain.ErrDuplicateExternalID when provider_id is taken.
	Create(ctx context.Context, q database.Querier, m *domain.MessageRecord) error
	Get(ctx context.Context, q database.Querier, id string) (*domain.MessageRecord, error)
	GetByProviderID(ctx context.Context, q database.Querier, providerID string) (*domain.MessageRecord, error)
	GetByLedgerReference(ctx context.Context, q database.Querier, reference string) (*domain.MessageRecord, error)
	List(ctx context.Context, q database.Querier, userID string, f MessageFilter) ([]*domain.MessageRecord, int, error)
	// Update writes provider_id, status, error fields and sent_at.
	Update(ctx context.Context, q database.Querier, m *domain.MessageRecord) error
	Count(ctx context.Context, q database.Querier, userID string) (int, error)
}

type CallRepository interface {
	Create(ctx context.Context, q database.Querier, c *domain.CallRecord) error
	GetByProviderID(ctx context.Context, q database.Querier, providerID string) (*domain.CallRecord, error)
	List(ctx context.Context, q database.Querier, userID string, f CallFilter) ([]*domain.CallRecord, int, error)
	// Update writes status, duration_seconds, price and ended_at.
	Update(ctx context.Context, q database.Querier, c *domain.CallRecord) error
	Count(ctx context.Context, q database.Querier, userID string) (int, error)
}
