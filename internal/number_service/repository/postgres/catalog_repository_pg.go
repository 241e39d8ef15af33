package postgres

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/numberdrop/golang_services/internal/number_service/domain"
	"github.com/numberdrop/golang_services/internal/number_service/repository"
	"github.com/numberdrop/golang_services/internal/platform/database"
)

const catalogColumns = `id, phone_number, friendly_name, country_code, region, locality,
	sms_enabled, mms_enabled, voice_enabled, fax_enabled,
	cost_price, resale_price, monthly_price, featured, state, reserved_by, reserved_until,
	created_at, updated_at`

type pgCatalogRepository struct{}

func NewPgCatalogRepository() repository.CatalogRepository {
	return &pgCatalogRepository{}
}

func (r *pgCatalogRepository) Create(ctx context.Context, q database.Querier, n *domain.AvailableNumber) error {
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = n.CreatedAt
	if n.State == "" {
		n.State = domain.StateAvailable
	}
	_, err := q.Exec(ctx, `
		INSERT INTO available_numbers (`+catalogColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, n.ID, n.PhoneNumber, n.FriendlyName, n.CountryCode, n.Region, n.Locality,
		n.Capabilities.SMS, n.Capabilities.MMS, n.Capabilities.Voice, n.Capabilities.Fax,
		n.CostPrice, n.ResalePrice, n.MonthlyPrice, n.Featured, string(n.State), n.ReservedBy, n.ReservedUntil,
		n.CreatedAt, n.UpdatedAt)
	return database.MapError(err, "catalog number", n.PhoneNumber)
}

func (r *pgCatalogRepository) Search(ctx context.Context, q database.Querier, f repository.CatalogFilter, now time.Time) ([]*domain.AvailableNumber, int, error) {
	where := squirrel.And{
		squirrel.Or{
			squirrel.Eq{"state": string(domain.StateAvailable)},
			squirrel.And{squirrel.Eq{"state": string(domain.StateReserved)}, squirrel.Lt{"reserved_until": now}},
		},
	}
	if f.Country != "" {
		where = append(where, squirrel.Eq{"country_code": f.Country})
	}
	if f.Locality != "" {
		where = append(where, squirrel.ILike{"locality": "%" + f.Locality + "%"})
	}
	if f.SupportsSMS {
		where = append(where, squirrel.Eq{"sms_enabled": true})
	}
	if f.SupportsVoice {
		where = append(where, squirrel.Eq{"voice_enabled": true})
	}
	if f.PriceMin != nil {
		where = append(where, squirrel.GtOrEq{"resale_price": *f.PriceMin})
	}
	if f.PriceMax != nil {
		where = append(where, squirrel.LtOrEq{"resale_price": *f.PriceMax})
	}
	if f.FeaturedOnly {
		where = append(where, squirrel.Eq{"featured": true})
	}

	countSQL, countArgs, err := database.Builder().Select("COUNT(*)").From("available_numbers").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, database.MapError(err, "catalog", "search")
	}

	sqlStr, args, err := database.Builder().Select(catalogColumns).From("available_numbers").Where(where).
		OrderBy("featured DESC", "resale_price ASC", "phone_number ASC").
		Limit(uint64(f.Limit)).Offset(uint64(f.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, 0, database.MapError(err, "catalog", "search")
	}
	defer rows.Close()

	items := make([]*domain.AvailableNumber, 0)
	for rows.Next() {
		n, err := scanCatalogNumber(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *pgCatalogRepository) Get(ctx context.Context, q database.Querier, id string) (*domain.AvailableNumber, error) {
	return r.get(ctx, q, id, "")
}

func (r *pgCatalogRepository) GetForUpdate(ctx context.Context, q database.Querier, id string) (*domain.AvailableNumber, error) {
	return r.get(ctx, q, id, " FOR UPDATE")
}

func (r *pgCatalogRepository) get(ctx context.Context, q database.Querier, id, lock string) (*domain.AvailableNumber, error) {
	n, err := scanCatalogNumber(q.QueryRow(ctx, `SELECT `+catalogColumns+` FROM available_numbers WHERE id = $1`+lock, id))
	if err != nil {
		return nil, database.MapError(err, "catalog number", id)
	}
	return n, nil
}

func (r *pgCatalogRepository) Reserve(ctx context.Context, q database.Querier, id, userID string, until time.Time) error {
	return r.setState(ctx, q, id, `
		UPDATE available_numbers
		SET state = 'reserved', reserved_by = $2, reserved_until = $3, updated_at = now()
		WHERE id = $1 AND state <> 'sold'
	`, userID, until)
}

func (r *pgCatalogRepository) Release(ctx context.Context, q database.Querier, id, userID string) error {
	_, err := q.Exec(ctx, `
		UPDATE available_numbers
		SET state = 'available', reserved_by = NULL, reserved_until = NULL, updated_at = now()
		WHERE id = $1 AND state = 'reserved' AND reserved_by = $2
	`, id, userID)
	return database.MapError(err, "catalog number", id)
}

func (r *pgCatalogRepository) MarkSold(ctx context.Context, q database.Querier, id, userID string) error {
	// reserved_by is kept as the buyer.
	return r.setState(ctx, q, id, `
		UPDATE available_numbers
		SET state = 'sold', reserved_until = NULL, updated_at = now()
		WHERE id = $1 AND state = 'reserved' AND reserved_by = $2
	`, userID)
}

func (r *pgCatalogRepository) setState(ctx context.Context, q database.Querier, id, query string, args ...any) error {
	tag, err := q.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return database.MapError(err, "catalog number", id)
	}
	if tag.RowsAffected() == 0 {
		return database.MapError(pgx.ErrNoRows, "catalog number", id)
	}
	return nil
}

func scanCatalogNumber(row pgx.Row) (*domain.AvailableNumber, error) {
	var (
		n     domain.AvailableNumber
		state string
	)
	if err := row.Scan(&n.ID, &n.PhoneNumber, &n.FriendlyName, &n.CountryCode, &n.Region, &n.Locality,
		&n.Capabilities.SMS, &n.Capabilities.MMS, &n.Capabilities.Voice, &n.Capabilities.Fax,
		&n.CostPrice, &n.ResalePrice, &n.MonthlyPrice, &n.Featured, &state, &n.ReservedBy, &n.ReservedUntil,
		&n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.State = domain.CatalogState(state)
	return &n, nil
}
