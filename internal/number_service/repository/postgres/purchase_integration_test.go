package postgres_test

import (
	"context"
	"io"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	billingapp "github.com/numberdrop/golang_services/internal/billing_service/app"
	billingdomain "github.com/numberdrop/golang_services/internal/billing_service/domain"
	"github.com/numberdrop/golang_services/internal/billing_service/repository"
	billingpg "github.com/numberdrop/golang_services/internal/billing_service/repository/postgres"
	"github.com/numberdrop/golang_services/internal/core_domain"
	notifapp "github.com/numberdrop/golang_services/internal/notification_service/app"
	notifpg "github.com/numberdrop/golang_services/internal/notification_service/repository/postgres"
	"github.com/numberdrop/golang_services/internal/number_service/adapters/provisioning"
	"github.com/numberdrop/golang_services/internal/number_service/app"
	"github.com/numberdrop/golang_services/internal/number_service/domain"
	"github.com/numberdrop/golang_services/internal/number_service/repository/postgres"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/testhelper"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type purchaseEnv struct {
	pool     *pgxpool.Pool
	wallet   *billingapp.WalletService
	purchase *app.PurchaseService
	notif    *notifapp.Service
}

func newPurchaseEnv(t *testing.T, failRate float64) *purchaseEnv {
	pool := testhelper.SetupTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tx := database.NewTransactor(pool)

	notif := notifapp.NewService(notifpg.NewPgNotificationRepository(), pool, nil, logger)
	wallet := billingapp.NewWalletService(billingpg.NewPgWalletRepository(), billingpg.NewPgLedgerRepository(),
		notif, pool, tx, nil, billingapp.WalletConfig{}, logger)
	purchase := app.NewPurchaseService(postgres.NewPgCatalogRepository(), postgres.NewPgOwnedNumberRepository(),
		wallet, notif, provisioning.NewMockProvisioner(logger, failRate, 0), pool, tx, nil,
		app.PurchaseConfig{TermDays: 30, ProviderTimeout: time.Second}, logger)
	return &purchaseEnv{pool: pool, wallet: wallet, purchase: purchase, notif: notif}
}

func (e *purchaseEnv) fund(t *testing.T, userID, amount string) {
	t.Helper()
	_, err := e.wallet.Credit(context.Background(), billingapp.CreditRequest{
		UserID: userID, Amount: decimal.RequireFromString(amount), Kind: billingdomain.KindFund, Reference: "SEED-" + userID,
	})
	require.NoError(t, err)
}

func (e *purchaseEnv) listNumber(t *testing.T, price string) *domain.AvailableNumber {
	t.Helper()
	n := &domain.AvailableNumber{
		ID: uuid.NewString(), PhoneNumber: "+1555" + uuid.NewString()[:7], CountryCode: "US", Locality: "Austin",
		Capabilities: domain.Capabilities{SMS: true, Voice: true},
		CostPrice:    decimal.RequireFromString("1.00"), ResalePrice: decimal.RequireFromString(price),
		MonthlyPrice: decimal.RequireFromString("1.50"),
	}
	require.NoError(t, postgres.NewPgCatalogRepository().Create(context.Background(), e.pool, n))
	return n
}

func TestPurchase_DebitsAndSells(t *testing.T) {
	env := newPurchaseEnv(t, 0)
	ctx := context.Background()
	userID := uuid.NewString()
	env.fund(t, userID, "10.00")
	listed := env.listNumber(t, "7.50")

	res, err := env.purchase.Purchase(ctx, app.PurchaseRequest{UserID: userID, NumberID: listed.ID})
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(decimal.RequireFromString("2.50")))

	w, err := env.wallet.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("2.50")))

	entries, total, err := env.wallet.ListEntries(ctx, userID, repository.LedgerFilter{Kind: billingdomain.KindPurchase})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.True(t, entries[0].Amount.Equal(decimal.RequireFromString("7.50")))
	assert.Equal(t, billingdomain.StatusSuccess, entries[0].Status)

	row, err := postgres.NewPgCatalogRepository().Get(ctx, env.pool, listed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSold, row.State)

	owned, err := postgres.NewPgOwnedNumberRepository().ListByUser(ctx, env.pool, userID, "")
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	unread, err := env.notif.UnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestPurchase_InsufficientBalanceChangesNothing(t *testing.T) {
	env := newPurchaseEnv(t, 0)
	ctx := context.Background()
	userID := uuid.NewString()
	listed := env.listNumber(t, "5.00")

	_, err := env.purchase.Purchase(ctx, app.PurchaseRequest{UserID: userID, NumberID: listed.ID})
	assert.ErrorIs(t, err, core_domain.ErrInsufficientBalance)

	_, total, err := env.wallet.ListEntries(ctx, userID, repository.LedgerFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)

	row, err := postgres.NewPgCatalogRepository().Get(ctx, env.pool, listed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAvailable, row.State)
}

func TestPurchase_SameReferenceOnce(t *testing.T) {
	env := newPurchaseEnv(t, 0)
	ctx := context.Background()
	userID := uuid.NewString()
	env.fund(t, userID, "20.00")
	listed := env.listNumber(t, "7.50")

	req := app.PurchaseRequest{UserID: userID, NumberID: listed.ID, Reference: "client-key-1"}
	first, err := env.purchase.Purchase(ctx, req)
	require.NoError(t, err)
	second, err := env.purchase.Purchase(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Number.ID, second.Number.ID)
	_, total, err := env.wallet.ListEntries(ctx, userID, repository.LedgerFilter{Kind: billingdomain.KindPurchase})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestPurchase_ProviderFailureRefundsAndRelists(t *testing.T) {
	env := newPurchaseEnv(t, 1)
	ctx := context.Background()
	userID := uuid.NewString()
	env.fund(t, userID, "10.00")
	listed := env.listNumber(t, "7.50")

	_, err := env.purchase.Purchase(ctx, app.PurchaseRequest{UserID: userID, NumberID: listed.ID})
	assert.ErrorIs(t, err, core_domain.ErrUpstreamUnavailable)

	w, err := env.wallet.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("10.00")), "balance is %s", w.Balance)

	row, err := postgres.NewPgCatalogRepository().Get(ctx, env.pool, listed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAvailable, row.State)

	_, refunds, err := env.wallet.ListEntries(ctx, userID, repository.LedgerFilter{Kind: billingdomain.KindRefund})
	require.NoError(t, err)
	assert.Equal(t, 1, refunds)
}

func TestPurchase_RetryAfterRefundIsTerminal(t *testing.T) {
	env := newPurchaseEnv(t, 1)
	ctx := context.Background()
	userID := uuid.NewString()
	env.fund(t, userID, "10.00")
	listed := env.listNumber(t, "7.50")
	req := app.PurchaseRequest{UserID: userID, NumberID: listed.ID, Reference: "client-key-2"}

	_, err := env.purchase.Purchase(ctx, req)
	require.ErrorIs(t, err, core_domain.ErrUpstreamUnavailable)

	_, err = env.purchase.Purchase(ctx, req)
	assert.ErrorIs(t, err, domain.ErrPurchaseRefunded)
	assert.NotErrorIs(t, err, domain.ErrPurchaseInProgress)

	w, err := env.wallet.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("10.00")), "balance is %s", w.Balance)
	row, err := postgres.NewPgCatalogRepository().Get(ctx, env.pool, listed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAvailable, row.State)
}

func TestPurchase_ConcurrentBuyersOfOneNumber(t *testing.T) {
	env := newPurchaseEnv(t, 0)
	ctx := context.Background()
	buyers := []string{uuid.NewString(), uuid.NewString()}
	for _, b := range buyers {
		env.fund(t, b, "10.00")
	}
	listed := env.listNumber(t, "7.50")

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(buyers))
	)
	start := make(chan struct{})
	for i, b := range buyers {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			<-start
			_, errs[i] = env.purchase.Purchase(ctx, app.PurchaseRequest{UserID: userID, NumberID: listed.ID})
		}(i, b)
	}
	close(start)
	wg.Wait()

	winner, loser := -1, -1
	for i, err := range errs {
		switch {
		case err == nil:
			winner = i
		case errors.Is(err, domain.ErrNumberUnavailable):
			loser = i
		default:
			t.Errorf("buyer %d: unexpected error: %v", i, err)
		}
	}
	require.NotEqual(t, -1, winner, "no purchase succeeded")
	require.NotEqual(t, -1, loser, "both purchases succeeded")

	var owners int
	require.NoError(t, env.pool.QueryRow(ctx,
		`SELECT count(*) FROM owned_numbers WHERE source_number_id = $1`, listed.ID).Scan(&owners))
	assert.Equal(t, 1, owners)

	var purchases int
	require.NoError(t, env.pool.QueryRow(ctx,
		`SELECT count(*) FROM ledger_entries WHERE kind = 'purchase'`).Scan(&purchases))
	assert.Equal(t, 1, purchases)

	w, err := env.wallet.Balance(ctx, buyers[winner])
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("2.50")), "winner balance is %s", w.Balance)
	w, err = env.wallet.Balance(ctx, buyers[loser])
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("10.00")), "loser balance is %s", w.Balance)

	row, err := postgres.NewPgCatalogRepository().Get(ctx, env.pool, listed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSold, row.State)
}

func TestCatalog_ReleaseAndMarkSoldOnlyForHolder(t *testing.T) {
	env := newPurchaseEnv(t, 0)
	ctx := context.Background()
	repo := postgres.NewPgCatalogRepository()
	listed := env.listNumber(t, "7.50")
	first, second := uuid.NewString(), uuid.NewString()

	// first's reservation lapses and second takes the row over.
	require.NoError(t, repo.Reserve(ctx, env.pool, listed.ID, first, time.Now().Add(-time.Minute)))
	require.NoError(t, repo.Reserve(ctx, env.pool, listed.ID, second, time.Now().Add(domain.ReservationTTL)))

	require.NoError(t, repo.Release(ctx, env.pool, listed.ID, first))
	err := repo.MarkSold(ctx, env.pool, listed.ID, first)
	assert.ErrorIs(t, err, core_domain.ErrNotFound)

	row, err := repo.Get(ctx, env.pool, listed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReserved, row.State)
	require.NotNil(t, row.ReservedBy)
	assert.Equal(t, second, *row.ReservedBy)

	require.NoError(t, repo.MarkSold(ctx, env.pool, listed.ID, second))
	row, err = repo.Get(ctx, env.pool, listed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSold, row.State)
}
