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

const messageColumns = `id, provider_id, user_id, number_id, from_number, to_number, body, direction,
	status, segments, price, error_code, error_message, ledger_reference, sent_at, created_at, updated_at`

type pgMessageRepository struct{}

func NewPgMessageRepository() repository.MessageRepository {
	return &pgMessageRepository{}
}

func (r *pgMessageRepository) Create(ctx context.Context, q database.Querier, m *domain.MessageRecord) error {
	_, err := q.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, m.ID, m.ProviderID, m.UserID, m.NumberID, m.From, m.To, m.Body, string(m.Direction),
		m.Status, m.Segments, m.Price, m.ErrorCode, m.ErrorMessage, m.LedgerReference, m.SentAt,
		m.CreatedAt, m.UpdatedAt)
	if database.IsUniqueViolation(err, "messages_provider_id_key") {
		return fmt.Errorf("message %s: %w", m.ProviderID, core_domain.ErrDuplicateExternalID)
	}
	return database.MapError(err, "message", m.ProviderID)
}

func (r *pgMessageRepository) Get(ctx context.Context, q database.Querier, id string) (*domain.MessageRecord, error) {
	return r.getOne(ctx, q, "id", id)
}

func (r *pgMessageRepository) GetByProviderID(ctx context.Context, q database.Querier, providerID string) (*domain.MessageRecord, error) {
	return r.getOne(ctx, q, "provider_id", providerID)
}

func (r *pgMessageRepository) GetByLedgerReference(ctx context.Context, q database.Querier, reference string) (*domain.MessageRecord, error) {
	return r.getOne(ctx, q, "ledger_reference", reference)
}

// column is never user input.
func (r *pgMessageRepository) getOne(ctx context.Context, q database.Querier, column, key string) (*domain.MessageRecord, error) {
	m, err := scanMessage(q.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE `+column+` = $1`, key))
	if err != nil {
		return nil, database.MapError(err, "message", key)
	}
	return m, nil
}

func (r *pgMessageRepository) List(ctx context.Context, q database.Querier, userID string, f repository.MessageFilter) ([]*domain.MessageRecord, int, error) {
	where := logFilter(userID, f.NumberID, f.Direction, f.Status)

	total, err := count(ctx, q, "messages", where)
	if err != nil {
		return nil, 0, database.MapError(err, "messages of user", userID)
	}

	sqlStr, args, err := database.Builder().Select(messageColumns).From("messages").Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(f.Limit)).Offset(uint64(f.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, 0, database.MapError(err, "messages of user", userID)
	}
	defer rows.Close()

	items := make([]*domain.MessageRecord, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *pgMessageRepository) Update(ctx context.Context, q database.Querier, m *domain.MessageRecord) error {
	m.UpdatedAt = time.Now().UTC()
	tag, err := q.Exec(ctx, `
		UPDATE messages
		SET provider_id = $2, status = $3, error_code = $4, error_message = $5, sent_at = $6, updated_at = $7
		WHERE id = $1
	`, m.ID, m.ProviderID, m.Status, m.ErrorCode, m.ErrorMessage, m.SentAt, m.UpdatedAt)
	if database.IsUniqueViolation(err, "messages_provider_id_key") {
		return fmt.Errorf("message %s: %w", m.ProviderID, core_domain.ErrDuplicateExternalID)
	}
	if err != nil {
		return database.MapError(err, "message", m.ID)
	}
	if tag.RowsAffected() == 0 {
		return database.MapError(pgx.ErrNoRows, "message", m.ID)
	}
	return nil
}

func (r *pgMessageRepository) Count(ctx context.Context, q database.Querier, userID string) (int, error) {
	n, err := count(ctx, q, "messages", squirrel.Eq{"user_id": userID})
	return n, database.MapError(err, "messages of user", userID)
}

func scanMessage(row pgx.Row) (*domain.MessageRecord, error) {
	var (
		m         domain.MessageRecord
		direction string
	)
	if err := row.Scan(&m.ID, &m.ProviderID, &m.UserID, &m.NumberID, &m.From, &m.To, &m.Body, &direction,
		&m.Status, &m.Segments, &m.Price, &m.ErrorCode, &m.ErrorMessage, &m.LedgerReference, &m.SentAt,
		&m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Direction = domain.Direction(direction)
	return &m, nil
}

func logFilter(userID, numberID string, direction domain.Direction, status string) squirrel.Eq {
	where := squirrel.Eq{"user_id": userID}
	if numberID != "" {
		where["number_id"] = numberID
	}
	if direction != "" {
		where["direction"] = string(direction)
	}
	if status != "" {
		where["status"] = domain.NormalizeStatus(status)
	}
	return where
}

func count(ctx context.Context, q database.Querier, table string, where squirrel.Sqlizer) (int, error) {
	sqlStr, args, err := database.Builder().Select("COUNT(*)").From(table).Where(where).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	err = q.QueryRow(ctx, sqlStr, args...).Scan(&n)
	return n, err
}
