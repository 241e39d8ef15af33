package postgres

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/numberdrop/golang_services/internal/billing_service/domain"
	"github.com/numberdrop/golang_services/internal/billing_service/repository"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/shopspring/decimal"
)

const ledgerColumns = `id, user_id, kind, amount, reference, status, balance_after, metadata, created_at, updated_at`

type pgLedgerRepository struct{}

// NewPgLedgerRepository returns a LedgerRepository for PostgreSQL.
func NewPgLedgerRepository() repository.LedgerRepository {
	return &pgLedgerRepository{}
}

func (r *pgLedgerRepository) Create(ctx context.Context, q database.Querier, e *domain.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.UpdatedAt = e.CreatedAt
	if e.Metadata.SchemaVersion == 0 {
		e.Metadata.SchemaVersion = domain.MetadataSchemaVersion
	}
	meta, err := e.Metadata.Value()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_entries (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = q.Exec(ctx, query,
		e.ID, e.UserID, string(e.Kind), e.Amount, e.Reference, string(e.Status),
		nullDecimal(e.BalanceAfter), meta, e.CreatedAt, e.UpdatedAt,
	)
	return database.MapError(err, "ledger entry", e.ReferenceValue())
}

func (r *pgLedgerRepository) GetByReference(ctx context.Context, q database.Querier, reference string) (*domain.LedgerEntry, error) {
	row := q.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE reference = $1`, reference)
	e, err := scanEntry(row)
	if err != nil {
		return nil, database.MapError(err, "ledger entry", reference)
	}
	return e, nil
}

func (r *pgLedgerRepository) GetByReferenceForUpdate(ctx context.Context, q database.Querier, reference string) (*domain.LedgerEntry, error) {
	row := q.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE reference = $1 FOR UPDATE`, reference)
	e, err := scanEntry(row)
	if err != nil {
		return nil, database.MapError(err, "ledger entry", reference)
	}
	return e, nil
}

func (r *pgLedgerRepository) UpdateStatus(ctx context.Context, q database.Querier, id string, status domain.EntryStatus, balanceAfter *decimal.Decimal, metadata domain.LedgerMetadata) error {
	meta, err := metadata.Value()
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE ledger_entries
		SET status = $1, balance_after = COALESCE($2, balance_after), metadata = $3, updated_at = $4
		WHERE id = $5 AND status = 'pending'
	`, string(status), nullDecimal(balanceAfter), meta, time.Now().UTC(), id)
	if err != nil {
		return database.MapError(err, "ledger entry", id)
	}
	if tag.RowsAffected() == 0 {
		return database.MapError(pgx.ErrNoRows, "pending ledger entry", id)
	}
	return nil
}

func (r *pgLedgerRepository) ListByUser(ctx context.Context, q database.Querier, userID string, f repository.LedgerFilter) ([]*domain.LedgerEntry, int, error) {
	where := squirrel.Eq{"user_id": userID}
	if f.Kind != "" {
		where["kind"] = string(f.Kind)
	}
	if f.Status != "" {
		where["status"] = string(f.Status)
	}

	countSQL, countArgs, err := database.Builder().Select("COUNT(*)").From("ledger_entries").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, database.MapError(err, "ledger entries of user", userID)
	}

	sb := database.Builder().Select(ledgerColumns).From("ledger_entries").Where(where).
		OrderBy("created_at DESC", "id DESC")
	if f.Limit > 0 {
		sb = sb.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		sb = sb.Offset(uint64(f.Offset))
	}
	sqlStr, args, err := sb.ToSql()
	if err != nil {
		return nil, 0, err
	}

	rows, err := q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, 0, database.MapError(err, "ledger entries of user", userID)
	}
	defer rows.Close()

	entries := make([]*domain.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *pgLedgerRepository) CountByStatus(ctx context.Context, q database.Querier, userID string, status domain.EntryStatus) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1 AND status = $2`, userID, string(status)).Scan(&n)
	if err != nil {
		return 0, database.MapError(err, "ledger entries of user", userID)
	}
	return n, nil
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var (
		e            domain.LedgerEntry
		kind, status string
		balanceAfter decimal.NullDecimal
		meta         []byte
	)
	if err := row.Scan(&e.ID, &e.UserID, &kind, &e.Amount, &e.Reference, &status,
		&balanceAfter, &meta, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Kind = domain.EntryKind(kind)
	e.Status = domain.EntryStatus(status)
	if balanceAfter.Valid {
		b := balanceAfter.Decimal
		e.BalanceAfter = &b
	}
	if err := e.Metadata.Scan(meta); err != nil {
		return nil, err
	}
	return &e, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
