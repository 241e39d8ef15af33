package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/numberdrop/golang_services/internal/billing_service/domain"
	"github.com/numberdrop/golang_services/internal/billing_service/repository"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/shopspring/decimal"
)

type pgWalletRepository struct{}

// NewPgWalletRepository returns a WalletRepository for PostgreSQL.
func NewPgWalletRepository() repository.WalletRepository {
	return &pgWalletRepository{}
}

func (r *pgWalletRepository) Ensure(ctx context.Context, q database.Querier, userID, currency string) error {
	query := `
		INSERT INTO wallets (user_id, balance, currency, created_at, updated_at)
		VALUES ($1, 0, $2, now(), now())
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := q.Exec(ctx, query, userID, currency)
	return database.MapError(err, "wallet", userID)
}

func (r *pgWalletRepository) GetForUpdate(ctx context.Context, q database.Querier, userID string) (*domain.Wallet, error) {
	return r.get(ctx, q, userID, " FOR UPDATE")
}

func (r *pgWalletRepository) Get(ctx context.Context, q database.Querier, userID string) (*domain.Wallet, error) {
	return r.get(ctx, q, userID, "")
}

func (r *pgWalletRepository) get(ctx context.Context, q database.Querier, userID, lock string) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	query := `SELECT user_id, balance, currency, created_at, updated_at FROM wallets WHERE user_id = $1` + lock
	err := q.QueryRow(ctx, query, userID).Scan(&w.UserID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, database.MapError(err, "wallet", userID)
	}
	return w, nil
}

func (r *pgWalletRepository) UpdateBalance(ctx context.Context, q database.Querier, userID string, balance decimal.Decimal) error {
	tag, err := q.Exec(ctx, `UPDATE wallets SET balance = $1, updated_at = $2 WHERE user_id = $3`,
		balance, time.Now().UTC(), userID)
	if err != nil {
		return database.MapError(err, "wallet", userID)
	}
	if tag.RowsAffected() == 0 {
		return database.MapError(pgx.ErrNoRows, "wallet", userID)
	}
	return nil
}
