package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/numberdrop/golang_services/internal/number_service/domain"
	"github.com/numberdrop/golang_services/internal/number_service/repository"
	"github.com/numberdrop/golang_services/internal/platform/database"
)

const ownedColumns = `id, user_id, source_number_id, provider_id, phone_number, friendly_name,
	sms_enabled, mms_enabled, voice_enabled, fax_enabled,
	status, monthly_price, purchase_reference, auto_renew, purchased_at, expires_at,
	created_at, updated_at`

type pgOwnedNumberRepository struct{}

func NewPgOwnedNumberRepository() repository.OwnedNumberRepository {
	return &pgOwnedNumberRepository{}
}

func (r *pgOwnedNumberRepository) Create(ctx context.Context, q database.Querier, n *domain.OwnedNumber) error {
	_, err := q.Exec(ctx, `
		INSERT INTO owned_numbers (`+ownedColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, n.ID, n.UserID, n.SourceNumberID, n.ProviderID, n.PhoneNumber, n.FriendlyName,
		n.Capabilities.SMS, n.Capabilities.MMS, n.Capabilities.Voice, n.Capabilities.Fax,
		string(n.Status), n.MonthlyPrice, n.PurchaseReference, n.AutoRenew, n.PurchasedAt, n.ExpiresAt,
		n.CreatedAt, n.UpdatedAt)
	return database.MapError(err, "owned number", n.PhoneNumber)
}

func (r *pgOwnedNumberRepository) Get(ctx context.Context, q database.Querier, id string) (*domain.OwnedNumber, error) {
	return r.getOne(ctx, q, id, `WHERE id = $1`)
}

func (r *pgOwnedNumberRepository) GetForUpdate(ctx context.Context, q database.Querier, id string) (*domain.OwnedNumber, error) {
	return r.getOne(ctx, q, id, `WHERE id = $1 FOR UPDATE`)
}

func (r *pgOwnedNumberRepository) GetByPurchaseReference(ctx context.Context, q database.Querier, reference string) (*domain.OwnedNumber, error) {
	return r.getOne(ctx, q, reference, `WHERE purchase_reference = $1`)
}

func (r *pgOwnedNumberRepository) FindByPhone(ctx context.Context, q database.Querier, phone string) (*domain.OwnedNumber, error) {
	return r.getOne(ctx, q, phone, `WHERE phone_number = $1 AND status <> 'cancelled' ORDER BY purchased_at DESC LIMIT 1`)
}

func (r *pgOwnedNumberRepository) getOne(ctx context.Context, q database.Querier, key, where string) (*domain.OwnedNumber, error) {
	n, err := scanOwned(q.QueryRow(ctx, `SELECT `+ownedColumns+` FROM owned_numbers `+where, key))
	if err != nil {
		return nil, database.MapError(err, "owned number", key)
	}
	return n, nil
}

func (r *pgOwnedNumberRepository) ListByUser(ctx context.Context, q database.Querier, userID string, status domain.OwnedStatus) ([]*domain.OwnedNumber, error) {
	sb := database.Builder().Select(ownedColumns).From("owned_numbers").
		Where("user_id = ?", userID).
		OrderBy("purchased_at DESC")
	if status != "" {
		sb = sb.Where("status = ?", string(status))
	}
	sqlStr, args, err := sb.ToSql()
	if err != nil {
		return nil, err
	}
	return r.list(ctx, q, userID, sqlStr, args...)
}

func (r *pgOwnedNumberRepository) Update(ctx context.Context, q database.Querier, n *domain.OwnedNumber) error {
	n.UpdatedAt = time.Now().UTC()
	tag, err := q.Exec(ctx, `
		UPDATE owned_numbers
		SET friendly_name = $2, status = $3, auto_renew = $4, expires_at = $5, updated_at = $6
		WHERE id = $1
	`, n.ID, n.FriendlyName, string(n.Status), n.AutoRenew, n.ExpiresAt, n.UpdatedAt)
	if err != nil {
		return database.MapError(err, "owned number", n.ID)
	}
	if tag.RowsAffected() == 0 {
		return database.MapError(pgx.ErrNoRows, "owned number", n.ID)
	}
	return nil
}

func (r *pgOwnedNumberRepository) ListDueForRenewal(ctx context.Context, q database.Querier, before time.Time) ([]*domain.OwnedNumber, error) {
	return r.list(ctx, q, "due for renewal", `
		SELECT `+ownedColumns+` FROM owned_numbers
		WHERE status = 'active' AND auto_renew AND expires_at < $1
		ORDER BY expires_at
	`, before)
}

func (r *pgOwnedNumberRepository) ListLapsed(ctx context.Context, q database.Querier, now time.Time) ([]*domain.OwnedNumber, error) {
	return r.list(ctx, q, "lapsed", `
		SELECT `+ownedColumns+` FROM owned_numbers
		WHERE status = 'active' AND NOT auto_renew AND expires_at < $1
		ORDER BY expires_at
	`, now)
}

func (r *pgOwnedNumberRepository) CountActive(ctx context.Context, q database.Querier, userID string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM owned_numbers WHERE user_id = $1 AND status = 'active'`, userID).Scan(&n)
	if err != nil {
		return 0, database.MapError(err, "owned numbers of user", userID)
	}
	return n, nil
}

func (r *pgOwnedNumberRepository) list(ctx context.Context, q database.Querier, key, query string, args ...any) ([]*domain.OwnedNumber, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, database.MapError(err, "owned numbers", key)
	}
	defer rows.Close()

	items := make([]*domain.OwnedNumber, 0)
	for rows.Next() {
		n, err := scanOwned(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func scanOwned(row pgx.Row) (*domain.OwnedNumber, error) {
	var (
		n      domain.OwnedNumber
		status string
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.SourceNumberID, &n.ProviderID, &n.PhoneNumber, &n.FriendlyName,
		&n.Capabilities.SMS, &n.Capabilities.MMS, &n.Capabilities.Voice, &n.Capabilities.Fax,
		&status, &n.MonthlyPrice, &n.PurchaseReference, &n.AutoRenew, &n.PurchasedAt, &n.ExpiresAt,
		&n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Status = domain.OwnedStatus(status)
	return &n, nil
}
