package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/webhook_service/domain"
	"github.com/numberdrop/golang_services/internal/webhook_service/repository"
)

const eventColumns = `id, provider_event_id, event_type, account_id, payload, processed,
	processing_error, received_at, processed_at`

type pgWebhookEventRepository struct{}

func NewPgWebhookEventRepository() repository.WebhookEventRepository {
	return &pgWebhookEventRepository{}
}

func (r *pgWebhookEventRepository) Create(ctx context.Context, q database.Querier, e *domain.WebhookEvent) error {
	_, err := q.Exec(ctx, `
		INSERT INTO webhook_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.ProviderEventID, string(e.EventType), e.AccountID, e.Payload, e.Processed,
		e.ProcessingError, e.ReceivedAt, e.ProcessedAt)
	return database.MapError(err, "webhook event", e.ProviderEventID)
}

func (r *pgWebhookEventRepository) Get(ctx context.Context, q database.Querier, id string) (*domain.WebhookEvent, error) {
	e, err := scanEvent(q.QueryRow(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, id))
	if err != nil {
		return nil, database.MapError(err, "webhook event", id)
	}
	return e, nil
}

func (r *pgWebhookEventRepository) UpdateOutcome(ctx context.Context, q database.Querier, e *domain.WebhookEvent) error {
	tag, err := q.Exec(ctx, `
		UPDATE webhook_events SET processed = $2, processing_error = $3, processed_at = $4
		WHERE id = $1
	`, e.ID, e.Processed, e.ProcessingError, e.ProcessedAt)
	if err != nil {
		return database.MapError(err, "webhook event", e.ID)
	}
	if tag.RowsAffected() == 0 {
		return database.MapError(pgx.ErrNoRows, "webhook event", e.ID)
	}
	return nil
}

func (r *pgWebhookEventRepository) ListUnprocessed(ctx context.Context, q database.Querier, since time.Time, limit int) ([]*domain.WebhookEvent, error) {
	rows, err := q.Query(ctx, `
		SELECT `+eventColumns+` FROM webhook_events
		WHERE processed = FALSE AND received_at > $1
		ORDER BY received_at
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, database.MapError(err, "webhook events", "unprocessed")
	}
	defer rows.Close()

	items := make([]*domain.WebhookEvent, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func scanEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var (
		e   domain.WebhookEvent
		typ string
	)
	if err := row.Scan(&e.ID, &e.ProviderEventID, &typ, &e.AccountID, &e.Payload, &e.Processed,
		&e.ProcessingError, &e.ReceivedAt, &e.ProcessedAt); err != nil {
		return nil, err
	}
	e.EventType = domain.EventType(typ)
	return &e, nil
}
