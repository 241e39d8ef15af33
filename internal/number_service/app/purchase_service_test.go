package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	billingapp "github.com/numberdrop/golang_services/internal/billing_service/app"
	billingdomain "github.com/numberdrop/golang_services/internal/billing_service/domain"
	"github.com/numberdrop/golang_services/internal/core_domain"
	notifdomain "github.com/numberdrop/golang_services/internal/notification_service/domain"
	"github.com/numberdrop/golang_services/internal/number_service/domain"
	"github.com/numberdrop/golang_services/internal/number_service/repository"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/platform/database/dbtest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type MockCatalogRepository struct {
	mock.Mock
}

func (m *MockCatalogRepository) Create(ctx context.Context, q database.Querier, n *domain.AvailableNumber) error {
	return m.Called(ctx, q, n).Error(0)
}

func (m *MockCatalogRepository) Search(ctx context.Context, q database.Querier, f repository.CatalogFilter, now time.Time) ([]*domain.AvailableNumber, int, error) {
	args := m.Called(ctx, q, f, now)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*domain.AvailableNumber), args.Int(1), args.Error(2)
}

func (m *MockCatalogRepository) Get(ctx context.Context, q database.Querier, id string) (*domain.AvailableNumber, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AvailableNumber), args.Error(1)
}

func (m *MockCatalogRepository) GetForUpdate(ctx context.Context, q database.Querier, id string) (*domain.AvailableNumber, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AvailableNumber), args.Error(1)
}

func (m *MockCatalogRepository) Reserve(ctx context.Context, q database.Querier, id, userID string, until time.Time) error {
	return m.Called(ctx, q, id, userID, until).Error(0)
}

func (m *MockCatalogRepository) Release(ctx context.Context, q database.Querier, id, userID string) error {
	return m.Called(ctx, q, id, userID).Error(0)
}

func (m *MockCatalogRepository) MarkSold(ctx context.Context, q database.Querier, id, userID string) error {
	return m.Called(ctx, q, id, userID).Error(0)
}

type MockOwnedNumberRepository struct {
	mock.Mock
}

func (m *MockOwnedNumberRepository) Create(ctx context.Context, q database.Querier, n *domain.OwnedNumber) error {
	return m.Called(ctx, q, n).Error(0)
}

func (m *MockOwnedNumberRepository) one(args mock.Arguments) (*domain.OwnedNumber, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OwnedNumber), args.Error(1)
}

func (m *MockOwnedNumberRepository) many(args mock.Arguments) ([]*domain.OwnedNumber, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.OwnedNumber), args.Error(1)
}

func (m *MockOwnedNumberRepository) Get(ctx context.Context, q database.Querier, id string) (*domain.OwnedNumber, error) {
	return m.one(m.Called(ctx, q, id))
}

func (m *MockOwnedNumberRepository) GetForUpdate(ctx context.Context, q database.Querier, id string) (*domain.OwnedNumber, error) {
	return m.one(m.Called(ctx, q, id))
}

func (m *MockOwnedNumberRepository) GetByPurchaseReference(ctx context.Context, q database.Querier, reference string) (*domain.OwnedNumber, error) {
	return m.one(m.Called(ctx, q, reference))
}

func (m *MockOwnedNumberRepository) FindByPhone(ctx context.Context, q database.Querier, phone string) (*domain.OwnedNumber, error) {
	return m.one(m.Called(ctx, q, phone))
}

func (m *MockOwnedNumberRepository) ListByUser(ctx context.Context, q database.Querier, userID string, status domain.OwnedStatus) ([]*domain.OwnedNumber, error) {
	return m.many(m.Called(ctx, q, userID, status))
}

func (m *MockOwnedNumberRepository) Update(ctx context.Context, q database.Querier, n *domain.OwnedNumber) error {
	return m.Called(ctx, q, n).Error(0)
}

func (m *MockOwnedNumberRepository) ListDueForRenewal(ctx context.Context, q database.Querier, before time.Time) ([]*domain.OwnedNumber, error) {
	return m.many(m.Called(ctx, q, before))
}

func (m *MockOwnedNumberRepository) ListLapsed(ctx context.Context, q database.Querier, now time.Time) ([]*domain.OwnedNumber, error) {
	return m.many(m.Called(ctx, q, now))
}

func (m *MockOwnedNumberRepository) CountActive(ctx context.Context, q database.Querier, userID string) (int, error) {
	args := m.Called(ctx, q, userID)
	return args.Int(0), args.Error(1)
}

type MockWallet struct {
	mock.Mock
}

func (m *MockWallet) DebitTx(ctx context.Context, q database.Querier, req billingapp.DebitRequest) (*billingapp.Posting, error) {
	args := m.Called(ctx, q, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billingapp.Posting), args.Error(1)
}

func (m *MockWallet) Refund(ctx context.Context, original *billingdomain.LedgerEntry, reason string) (*billingapp.Posting, error) {
	args := m.Called(ctx, original, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billingapp.Posting), args.Error(1)
}

func (m *MockWallet) GetEntry(ctx context.Context, userID, reference string) (*billingdomain.LedgerEntry, error) {
	args := m.Called(ctx, userID, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billingdomain.LedgerEntry), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, q database.Querier, n *notifdomain.Notification) error {
	return m.Called(ctx, q, n).Error(0)
}

func (m *MockNotifier) Announce(ctx context.Context, n *notifdomain.Notification) {
	m.Called(ctx, n)
}

type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) Provision(ctx context.Context, phone string) (string, error) {
	args := m.Called(ctx, phone)
	return args.String(0), args.Error(1)
}

func (m *MockProvisioner) Release(ctx context.Context, providerID string) error {
	return m.Called(ctx, providerID).Error(0)
}

func (m *MockProvisioner) GetName() string { return "mock" }

// --- Fixture ---

type purchaseFixture struct {
	catalog     *MockCatalogRepository
	owned       *MockOwnedNumberRepository
	wallet      *MockWallet
	notifier    *MockNotifier
	provisioner *MockProvisioner
	tx          *dbtest.Transactor
	svc         *PurchaseService
}

func newPurchaseFixture() *purchaseFixture {
	f := &purchaseFixture{
		catalog:     new(MockCatalogRepository),
		owned:       new(MockOwnedNumberRepository),
		wallet:      new(MockWallet),
		notifier:    new(MockNotifier),
		provisioner: new(MockProvisioner),
		tx:          &dbtest.Transactor{},
	}
	f.svc = NewPurchaseService(f.catalog, f.owned, f.wallet, f.notifier, f.provisioner, nil, f.tx, nil,
		PurchaseConfig{TermDays: 30, ProviderTimeout: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func catalogRow(state domain.CatalogState) *domain.AvailableNumber {
	return &domain.AvailableNumber{
		ID: "cat-1", PhoneNumber: "+15550001111", CountryCode: "US",
		Capabilities: domain.Capabilities{SMS: true, Voice: true},
		ResalePrice:  decimal.RequireFromString("7.50"), MonthlyPrice: decimal.RequireFromString("1.50"),
		State: state,
	}
}

func debitPosting(ref string) *billingapp.Posting {
	return &billingapp.Posting{
		Entry: &billingdomain.LedgerEntry{ID: "entry-1", UserID: "user-1", Kind: billingdomain.KindPurchase,
			Amount: decimal.RequireFromString("7.50"), Reference: &ref, Status: billingdomain.StatusSuccess},
		Balance: decimal.RequireFromString("2.50"),
	}
}

// --- Tests ---

func TestPurchase_Success(t *testing.T) {
	f := newPurchaseFixture()
	ref := "PURCHASE-KEY1"

	f.owned.On("GetByPurchaseReference", mock.Anything, mock.Anything, ref).Return(nil, core_domain.ErrNotFound)
	f.catalog.On("GetForUpdate", mock.Anything, mock.Anything, "cat-1").Return(catalogRow(domain.StateAvailable), nil)
	f.wallet.On("DebitTx", mock.Anything, mock.Anything, mock.MatchedBy(func(r billingapp.DebitRequest) bool {
		return r.Reference == ref && r.Kind == billingdomain.KindPurchase && r.Amount.Equal(decimal.RequireFromString("7.50")) &&
			r.Metadata.PhoneNumber == "+15550001111" && r.Metadata.NumberID == "cat-1"
	})).Return(debitPosting(ref), nil)
	f.catalog.On("Reserve", mock.Anything, mock.Anything, "cat-1", "user-1", mock.Anything).Return(nil)
	f.provisioner.On("Provision", mock.Anything, "+15550001111").Return("PN0001", nil)
	f.owned.On("Create", mock.Anything, mock.Anything, mock.MatchedBy(func(n *domain.OwnedNumber) bool {
		return n.ProviderID == "PN0001" && n.PurchaseReference == ref && n.Status == domain.OwnedActive &&
			n.ExpiresAt.Sub(n.PurchasedAt) == 30*24*time.Hour
	})).Return(nil)
	f.catalog.On("MarkSold", mock.Anything, mock.Anything, "cat-1", "user-1").Return(nil)
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.MatchedBy(func(n *notifdomain.Notification) bool {
		return n.Type == notifdomain.TypeNumber && n.Title == "Phone Number Purchased" &&
			n.Message == "You have successfully purchased +15550001111"
	})).Return(nil)
	f.notifier.On("Announce", mock.Anything, mock.Anything).Return()

	res, err := f.svc.Purchase(context.Background(), PurchaseRequest{UserID: "user-1", NumberID: "cat-1", Reference: "KEY1"})

	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.True(t, res.Balance.Equal(decimal.RequireFromString("2.50")))
	assert.Equal(t, "PN0001", res.Number.ProviderID)
	assert.Equal(t, 2, f.tx.Commits)
	f.wallet.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
	f.catalog.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestPurchase_InsufficientBalanceLeavesRowAvailable(t *testing.T) {
	f := newPurchaseFixture()

	f.owned.On("GetByPurchaseReference", mock.Anything, mock.Anything, mock.Anything).Return(nil, core_domain.ErrNotFound)
	f.catalog.On("GetForUpdate", mock.Anything, mock.Anything, "cat-1").Return(catalogRow(domain.StateAvailable), nil)
	f.wallet.On("DebitTx", mock.Anything, mock.Anything, mock.Anything).Return(nil, core_domain.ErrInsufficientBalance)

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{UserID: "user-1", NumberID: "cat-1"})

	assert.ErrorIs(t, err, core_domain.ErrInsufficientBalance)
	assert.Equal(t, 0, f.tx.Commits)
	f.catalog.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.provisioner.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything)
}

func TestPurchase_SoldRowIsUnavailable(t *testing.T) {
	f := newPurchaseFixture()

	f.owned.On("GetByPurchaseReference", mock.Anything, mock.Anything, mock.Anything).Return(nil, core_domain.ErrNotFound)
	f.catalog.On("GetForUpdate", mock.Anything, mock.Anything, "cat-1").Return(catalogRow(domain.StateSold), nil)

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{UserID: "user-1", NumberID: "cat-1"})

	assert.ErrorIs(t, err, domain.ErrNumberUnavailable)
	assert.ErrorIs(t, err, core_domain.ErrInvalidState)
	f.wallet.AssertNotCalled(t, "DebitTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestPurchase_OwnReservationIsInProgress(t *testing.T) {
	f := newPurchaseFixture()
	row := catalogRow(domain.StateReserved)
	user := "user-1"
	until := time.Now().Add(5 * time.Minute)
	row.ReservedBy, row.ReservedUntil = &user, &until

	f.owned.On("GetByPurchaseReference", mock.Anything, mock.Anything, mock.Anything).Return(nil, core_domain.ErrNotFound)
	f.catalog.On("GetForUpdate", mock.Anything, mock.Anything, "cat-1").Return(row, nil)

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{UserID: "user-1", NumberID: "cat-1", Reference: "K"})

	assert.ErrorIs(t, err, domain.ErrPurchaseInProgress)
}

func TestPurchase_ExpiredReservationCanBeBought(t *testing.T) {
	f := newPurchaseFixture()
	row := catalogRow(domain.StateReserved)
	other := "user-2"
	past := time.Now().Add(-time.Hour)
	row.ReservedBy, row.ReservedUntil = &other, &past

	f.owned.On("GetByPurchaseReference", mock.Anything, mock.Anything, mock.Anything).Return(nil, core_domain.ErrNotFound)
	f.catalog.On("GetForUpdate", mock.Anything, mock.Anything, "cat-1").Return(row, nil)
	f.wallet.On("DebitTx", mock.Anything, mock.Anything, mock.Anything).Return(debitPosting("PURCHASE-X"), nil)
	f.catalog.On("Reserve", mock.Anything, mock.Anything, "cat-1", "user-1", mock.Anything).Return(nil)
	f.provisioner.On("Provision", mock.Anything, mock.Anything).Return("PN0002", nil)
	f.owned.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.catalog.On("MarkSold", mock.Anything, mock.Anything, "cat-1", "user-1").Return(nil)
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.notifier.On("Announce", mock.Anything, mock.Anything).Return()

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{UserID: "user-1", NumberID: "cat-1"})
	require.NoError(t, err)
}

func TestPurchase_ReplayReturnsExistingNumber(t *testing.T) {
	f := newPurchaseFixture()
	ref := "PURCHASE-KEY1"
	existing := &domain.OwnedNumber{ID: "own-1", UserID: "user-1", PurchaseReference: ref}
	balance := decimal.RequireFromString("2.50")
	entry := &billingdomain.LedgerEntry{ID: "entry-1", UserID: "user-1", BalanceAfter: &balance}

	f.owned.On("GetByPurchaseReference", mock.Anything, mock.Anything, ref).Return(existing, nil)
	f.wallet.On("GetEntry", mock.Anything, "user-1", ref).Return(entry, nil)

	res, err := f.svc.Purchase(context.Background(), PurchaseRequest{UserID: "user-1", NumberID: "cat-1", Reference: "KEY1"})

	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, "own-1", res.Number.ID)
	assert.Equal(t, "entry-1", res.Entry.ID)
	assert.Equal(t, 0, f.tx.Calls)
}

func TestPurchase_PaidReferenceWithoutNumberIsInProgress(t *testing.T) {
	f := newPurchaseFixture()
	ref := "PURCHASE-KEY1"
	replayed := debitPosting(ref)
	replayed.Replayed = true

	f.owned.On("GetByPurchaseReference", mock.Anything, mock.Anything, ref).Return(nil, core_domain.ErrNotFound)
	f.catalog.On("GetForUpdate", mock.Anything, mock.Anything, "cat-1").Return(catalogRow(domain.StateAvailable), nil)
	f.wallet.On("DebitTx", mock.Anything, mock.Anything, mock.Anything).Return(replayed, nil)
	f.wallet.On("GetEntry", mock.Anything, "user-1", "REFUND-"+ref).Return(nil, core_domain.ErrNotFound)

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{UserID: "user-1", NumberID: "cat-1", Reference: "KEY1"})

	assert.ErrorIs(t, err, domain.ErrPurchaseInProgress)
	f.provisioner.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything)
}

func TestPurchase_RetryAfterRefundedFailureIsTerminal(t *testing.T) {
	f := newPurchaseFixture()
	ref := "PURCHASE-KEY1"
	replayed := debitPosting(ref)
	replayed.Replayed = true
	refundRef := "REFUND-" + ref
	refund := &billingdomain.LedgerEntry{ID: "entry-2", UserID: "user-1", Kind: billingdomain.KindRefund, Reference: &refundRef}

	f.owned.On("GetByPurchaseReference", mock.Anything, mock.Anything, ref).Return(nil, core_domain.ErrNotFound)
	f.catalog.On("GetForUpdate", mock.Anything, mock.Anything, "cat-1").Return(catalogRow(domain.StateAvailable), nil)
	f.wallet.On("DebitTx", mock.Anything, mock.Anything, mock.Anything).Return(replayed, nil)
	f.wallet.On("GetEntry", mock.Anything, "user-1", refundRef).Return(refund, nil)

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{UserID: "user-1", NumberID: "cat-1", Reference: "KEY1"})

	assert.ErrorIs(t, err, domain.ErrPurchaseRefunded)
	assert.ErrorIs(t, err, core_domain.ErrDuplicateReference)
	assert.NotErrorIs(t, err, domain.ErrPurchaseInProgress)
	f.catalog.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.provisioner.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything)
}

func TestPurchase_ProvisionFailureCompensates(t *testing.T) {
	f := newPurchaseFixture()
	posting := debitPosting("PURCHASE-X")

	f.owned.On("GetByPurchaseReference", mock.Anything, mock.Anything, mock.Anything).Return(nil, core_domain.ErrNotFound)
	f.catalog.On("GetForUpdate", mock.Anything, mock.Anything, "cat-1").Return(catalogRow(domain.StateAvailable), nil)
	f.wallet.On("DebitTx", mock.Anything, mock.Anything, mock.Anything).Return(posting, nil)
	f.catalog.On("Reserve", mock.Anything, mock.Anything, "cat-1", "user-1", mock.Anything).Return(nil)
	f.provisioner.On("Provision", mock.Anything, "+15550001111").Return("", errors.New("connection refused"))
	f.catalog.On("Release", mock.Anything, mock.Anything, "cat-1", "user-1").Return(nil).Once()
	f.wallet.On("Refund", mock.Anything, posting.Entry, mock.Anything).Return(&billingapp.Posting{}, nil).Once()

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{UserID: "user-1", NumberID: "cat-1"})

	assert.ErrorIs(t, err, core_domain.ErrUpstreamUnavailable)
	f.wallet.AssertExpectations(t)
	f.catalog.AssertExpectations(t)
	f.provisioner.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	f.owned.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestPurchase_RecordFailureReleasesProviderNumber(t *testing.T) {
	f := newPurchaseFixture()
	posting := debitPosting("PURCHASE-X")

	f.owned.On("GetByPurchaseReference", mock.Anything, mock.Anything, mock.Anything).Return(nil, core_domain.ErrNotFound)
	f.catalog.On("GetForUpdate", mock.Anything, mock.Anything, "cat-1").Return(catalogRow(domain.StateAvailable), nil)
	f.wallet.On("DebitTx", mock.Anything, mock.Anything, mock.Anything).Return(posting, nil)
	f.catalog.On("Reserve", mock.Anything, mock.Anything, "cat-1", "user-1", mock.Anything).Return(nil)
	f.provisioner.On("Provision", mock.Anything, mock.Anything).Return("PN0003", nil)
	f.owned.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(database.ErrDuplicate)
	f.provisioner.On("Release", mock.Anything, "PN0003").Return(nil).Once()
	f.catalog.On("Release", mock.Anything, mock.Anything, "cat-1", "user-1").Return(nil).Once()
	f.wallet.On("Refund", mock.Anything, posting.Entry, mock.Anything).Return(&billingapp.Posting{}, nil).Once()

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{UserID: "user-1", NumberID: "cat-1"})

	assert.ErrorIs(t, err, database.ErrDuplicate)
	f.provisioner.AssertExpectations(t)
	f.wallet.AssertExpectations(t)
	f.notifier.AssertNotCalled(t, "Announce", mock.Anything, mock.Anything)
}

func TestPurchase_ReferenceOfAnotherUser(t *testing.T) {
	f := newPurchaseFixture()
	f.owned.On("GetByPurchaseReference", mock.Anything, mock.Anything, "PURCHASE-K").
		Return(&domain.OwnedNumber{ID: "own-9", UserID: "user-2"}, nil)

	_, err := f.svc.Purchase(context.Background(), PurchaseRequest{UserID: "user-1", NumberID: "cat-1", Reference: "K"})
	assert.ErrorIs(t, err, core_domain.ErrDuplicateReference)
}
