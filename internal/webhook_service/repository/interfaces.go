package repository

import (
	"context"
	"time"

	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/webhook_service/domain"
)

type WebhookEventRepository interface {
	Create(ctx context.Context, q database.Querier, e *domain.WebhookEvent) error
	Get(ctx context.Context, q database.Querier, id string) (*domain.WebhookEvent, error)
	// UpdateOutcome writes processed, processing_error and processed_at.
	UpdateOutcome(ctx context.Context, q database.Querier, e *domain.WebhookEvent) error
	// ListUnprocessed returns unprocessed events received after since, oldest first.
	ListUnprocessed(ctx context.Context, q database.Querier, since time.Time, limit int) ([]*domain.WebhookEvent, error)
}
