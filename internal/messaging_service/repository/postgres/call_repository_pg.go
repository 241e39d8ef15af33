package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/numberdrop/golang_services/internal/core_domain"
	"github.com/numberdrop/golang_services/internal/messaging_service/domain"
	"github.com/numberdrop/golang_services/internal/messaging_service/repository"
	"github.com/numberdrop/golang_services/internal/platform/database"
)

const callColumns = `id, provider_id, user_id, number_id, from_number, to_number, direction, status,
	duration_seconds, price, started_at, ended_at, created_at, updated_at`

type pgCallRepository struct{}

func NewPgCallRepository() repository.CallRepository {
	return &pgCallRepository{}
}

func (r *pgCallRepository) Create(ctx context.Context, q database.Querier, c *domain.CallRecord) error {
	_, err := q.Exec(ctx, `
		INSERT INTO calls (`+callColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, c.ID, c.ProviderID, c.UserID, c.NumberID, c.From, c.To, string(c.Direction), c.Status,
		c.DurationSeconds, c.Price, c.StartedAt, c.EndedAt, c.CreatedAt, c.UpdatedAt)
	if database.IsUniqueViolation(err, "calls_provider_id_key") {
		return fmt.Errorf("call %s: %w", c.ProviderID, core_domain.ErrDuplicateExternalID)
	}
	return database.MapError(err, "call", c.ProviderID)
}

func (r *pgCallRepository) GetByProviderID(ctx context.Context, q database.Querier, providerID string) (*domain.CallRecord, error) {
	c, err := scanCall(q.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE provider_id = $1`, providerID))
	if err != nil {
		return nil, database.MapError(err, "call", providerID)
	}
	return c, nil
}

func (r *pgCallRepository) List(ctx context.Context, q database.Querier, userID string, f repository.CallFilter) ([]*domain.CallRecord, int, error) {
	where := logFilter(userID, f.NumberID, f.Direction, f.Status)

	total, err := count(ctx, q, "calls", where)
	if err != nil {
		return nil, 0, database.MapError(err, "calls of user", userID)
	}

	sqlStr, args, err := database.Builder().Select(callColumns).From("calls").Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(f.Limit)).Offset(uint64(f.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, 0, database.MapError(err, "calls of user", userID)
	}
	defer rows.Close()

	items := make([]*domain.CallRecord, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *pgCallRepository) Update(ctx context.Context, q database.Querier, c *domain.CallRecord) error {
	c.UpdatedAt = time.Now().UTC()
	tag, err := q.Exec(ctx, `
		UPDATE calls
		SET status = $2, duration_seconds = $3, price = $4, ended_at = $5, updated_at = $6
		WHERE id = $1
	`, c.ID, c.Status, c.DurationSeconds, c.Price, c.EndedAt, c.UpdatedAt)
	if err != nil {
		return database.MapError(err, "call", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return database.MapError(pgx.ErrNoRows, "call", c.ID)
	}
	return nil
}

func (r *pgCallRepository) Count(ctx context.Context, q database.Querier, userID string) (int, error) {
	n, err := count(ctx, q, "calls", squirrel.Eq{"user_id": userID})
	return n, database.MapError(err, "calls of user", userID)
}

func scanCall(row pgx.Row) (*domain.CallRecord, error) {
	var (
		c         domain.CallRecord
		direction string
	)
	if err := row.Scan(&c.ID, &c.ProviderID, &c.UserID, &c.NumberID, &c.From, &c.To, &direction, &c.Status,
		&c.DurationSeconds, &c.Price, &c.StartedAt, &c.EndedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Direction = domain.Direction(direction)
	return &c, nil
}
