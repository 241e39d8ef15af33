package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/numberdrop/golang_services/internal/billing_service/app"
	"github.com/numberdrop/golang_services/internal/billing_service/domain"
	"github.com/numberdrop/golang_services/internal/billing_service/repository"
	"github.com/numberdrop/golang_services/internal/billing_service/repository/postgres"
	"github.com/numberdrop/golang_services/internal/core_domain"
	notifdomain "github.com/numberdrop/golang_services/internal/notification_service/domain"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/testhelper"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, database.Querier, *notifdomain.Notification) error {
	return nil
}
func (discardNotifier) Announce(context.Context, *notifdomain.Notification) {}

func newService(t *testing.T) (*app.WalletService, database.Querier) {
	pool := testhelper.SetupTestDB(t)
	svc := app.NewWalletService(
		postgres.NewPgWalletRepository(),
		postgres.NewPgLedgerRepository(),
		discardNotifier{},
		pool,
		database.NewTransactor(pool),
		nil,
		app.WalletConfig{CommissionRate: decimal.RequireFromString("0.10")},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return svc, pool
}

func seed(t *testing.T, svc *app.WalletService, userID, amount string) {
	t.Helper()
	_, err := svc.Credit(context.Background(), app.CreditRequest{
		UserID: userID, Amount: decimal.RequireFromString(amount), Kind: domain.KindFund,
		Reference: "SEED-" + userID,
	})
	require.NoError(t, err)
}

func TestConcurrentDebits_NeverOverdraw(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	userID := uuid.NewString()
	seed(t, svc, userID, "1.00")

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Debit(ctx, app.DebitRequest{
				UserID: userID, Amount: decimal.RequireFromString("0.10"), Kind: domain.KindSMS,
				Reference: fmt.Sprintf("SMS-C%07d", i),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, core_domain.ErrInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, rejected)
	w, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero(), "balance is %s", w.Balance)
}

func TestConcurrentSameReference_AppliesOnce(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	userID := uuid.NewString()
	seed(t, svc, userID, "5.00")

	var wg sync.WaitGroup
	results := make([]*app.Posting, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := svc.Debit(ctx, app.DebitRequest{
				UserID: userID, Amount: decimal.RequireFromString("2.00"), Kind: domain.KindPurchase,
				Reference: "PURCHASE-SAMEONE1",
			})
			if assert.NoError(t, err) {
				results[i] = p
			}
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, p := range results {
		if p != nil && !p.Replayed {
			applied++
		}
	}
	assert.Equal(t, 1, applied)

	w, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.RequireFromString("3.00")), "balance is %s", w.Balance)

	entries, total, err := svc.ListEntries(ctx, userID, repository.LedgerFilter{Kind: domain.KindPurchase})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, entries, 1)
}

func TestFundingLifecycle(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	userID := uuid.NewString()

	pending, err := svc.FundWallet(ctx, userID, decimal.RequireFromString("12.50"), "card")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, pending.Entry.Status)

	count, err := svc.PendingCount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	confirmed, err := svc.ConfirmFunding(ctx, pending.Entry.ReferenceValue())
	require.NoError(t, err)
	assert.True(t, confirmed.Balance.Equal(decimal.RequireFromString("12.50")))

	again, err := svc.ConfirmFunding(ctx, pending.Entry.ReferenceValue())
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.True(t, again.Balance.Equal(decimal.RequireFromString("12.50")))

	_, err = svc.FailFunding(ctx, pending.Entry.ReferenceValue(), "chargeback")
	assert.ErrorIs(t, err, core_domain.ErrInvalidState)

	entry, err := svc.GetEntry(ctx, userID, pending.Entry.ReferenceValue())
	require.NoError(t, err)
	assert.Equal(t, "card", entry.Metadata.PaymentMethod)
	require.NotNil(t, entry.BalanceAfter)
	assert.True(t, entry.BalanceAfter.Equal(decimal.RequireFromString("12.50")))
}
