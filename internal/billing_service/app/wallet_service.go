package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/numberdrop/golang_services/internal/billing_service/domain"
	"github.com/numberdrop/golang_services/internal/billing_service/repository"
	"github.com/numberdrop/golang_services/internal/core_domain"
	notifdomain "github.com/numberdrop/golang_services/internal/notification_service/domain"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/platform/messagebroker"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Posting is the outcome of a debit or credit. Replayed is set when the reference was
// already applied; Entry is then the entry recorded by the first application.
type Posting struct {
	Entry    *domain.LedgerEntry
	Balance  decimal.Decimal
	Replayed bool
}

type DebitRequest struct {
	UserID    string
	Amount    decimal.Decimal
	Kind      domain.EntryKind
	Reference string
	Metadata  domain.LedgerMetadata
}

type CreditRequest struct {
	UserID    string
	Amount    decimal.Decimal
	Kind      domain.EntryKind
	Reference string
	Metadata  domain.LedgerMetadata
	// Status defaults to success. A pending credit does not move the balance until
	// it is confirmed.
	Status domain.EntryStatus
}

type WalletConfig struct {
	Currency string
	// CommissionRate is the share of a referred user's spend paid to the referrer.
	CommissionRate decimal.Decimal
}

// WalletService owns the wallet balance and the ledger. A balance change and its ledger
// entry always commit together, under a row lock on the user's wallet.
type WalletService struct {
	walletRepo repository.WalletRepository
	ledgerRepo repository.LedgerRepository
	notifier   notifdomain.Notifier
	db         database.Querier
	tx         database.Transactor
	events     *messagebroker.EventBus
	cfg        WalletConfig
	logger     *slog.Logger
}

func NewWalletService(
	walletRepo repository.WalletRepository,
	ledgerRepo repository.LedgerRepository,
	notifier notifdomain.Notifier,
	db database.Querier,
	tx database.Transactor,
	events *messagebroker.EventBus,
	cfg WalletConfig,
	logger *slog.Logger,
) *WalletService {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &WalletService{
		walletRepo: walletRepo,
		ledgerRepo: ledgerRepo,
		notifier:   notifier,
		db:         db,
		tx:         tx,
		events:     events,
		cfg:        cfg,
		logger:     logger.With("service", "wallet"),
	}
}

// Debit takes amount from the wallet in its own transaction.
func (s *WalletService) Debit(ctx context.Context, req DebitRequest) (*Posting, error) {
	var posting *Posting
	err := s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		var err error
		posting, err = s.DebitTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return s.recoverDuplicate(ctx, req.UserID, req.Reference, err)
	}
	s.afterCommit(ctx, posting)
	return posting, nil
}

// DebitTx runs the debit on a transaction owned by the caller, so the debit commits
// together with the caller's own writes. q must be a transaction: the wallet row lock
// is held until it ends.
func (s *WalletService) DebitTx(ctx context.Context, q database.Querier, req DebitRequest) (*Posting, error) {
	if err := validatePosting(req.UserID, req.Amount, req.Kind, false); err != nil {
		return nil, err
	}

	wallet, prior, err := s.lockWallet(ctx, q, req.UserID, req.Reference)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return &Posting{Entry: prior, Balance: wallet.Balance, Replayed: true}, nil
	}

	if !wallet.CanCover(req.Amount) {
		insufficientBalanceTotal.WithLabelValues(string(req.Kind)).Inc()
		s.logger.InfoContext(ctx, "Debit rejected: insufficient balance",
			"user_id", req.UserID, "kind", req.Kind, "amount", req.Amount.StringFixed(2), "balance", wallet.Balance.StringFixed(2))
		return nil, fmt.Errorf("debit %s of %s with balance %s: %w",
			req.Kind, req.Amount.StringFixed(2), wallet.Balance.StringFixed(2), core_domain.ErrInsufficientBalance)
	}

	newBalance := wallet.Balance.Sub(req.Amount)
	if err := s.walletRepo.UpdateBalance(ctx, q, req.UserID, newBalance); err != nil {
		return nil, err
	}
	entry := newEntry(req.UserID, req.Kind, req.Amount, req.Reference, domain.StatusSuccess, &newBalance, req.Metadata)
	if err := s.ledgerRepo.Create(ctx, q, entry); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Wallet debited",
		"user_id", req.UserID, "kind", req.Kind, "amount", req.Amount.StringFixed(2),
		"reference", entry.ReferenceValue(), "balance_after", newBalance.StringFixed(2))
	return &Posting{Entry: entry, Balance: newBalance}, nil
}

// Credit adds amount to the wallet (or records a pending credit) in its own transaction.
func (s *WalletService) Credit(ctx context.Context, req CreditRequest) (*Posting, error) {
	var posting *Posting
	err := s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		var err error
		posting, err = s.CreditTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return s.recoverDuplicate(ctx, req.UserID, req.Reference, err)
	}
	s.afterCommit(ctx, posting)
	return posting, nil
}

// CreditTx is Credit on a caller-owned transaction.
func (s *WalletService) CreditTx(ctx context.Context, q database.Querier, req CreditRequest) (*Posting, error) {
	if err := validatePosting(req.UserID, req.Amount, req.Kind, true); err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = domain.StatusSuccess
	}
	if status == domain.StatusFailed {
		return nil, core_domain.NewFieldError("status", "must be pending or success")
	}

	wallet, prior, err := s.lockWallet(ctx, q, req.UserID, req.Reference)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return &Posting{Entry: prior, Balance: wallet.Balance, Replayed: true}, nil
	}

	balance := wallet.Balance
	var balanceAfter *decimal.Decimal
	if status == domain.StatusSuccess {
		balance = balance.Add(req.Amount)
		if err := s.walletRepo.UpdateBalance(ctx, q, req.UserID, balance); err != nil {
			return nil, err
		}
		balanceAfter = &balance
	}
	entry := newEntry(req.UserID, req.Kind, req.Amount, req.Reference, status, balanceAfter, req.Metadata)
	if err := s.ledgerRepo.Create(ctx, q, entry); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Wallet credited",
		"user_id", req.UserID, "kind", req.Kind, "amount", req.Amount.StringFixed(2),
		"status", status, "reference", entry.ReferenceValue(), "balance_after", balance.StringFixed(2))
	return &Posting{Entry: entry, Balance: balance}, nil
}

// Refund credits back the amount of a debit entry. The refund reference is derived from
// the original entry, so compensating twice has no further effect.
func (s *WalletService) Refund(ctx context.Context, original *domain.LedgerEntry, reason string) (*Posting, error) {
	if original == nil {
		return nil, core_domain.NewFieldError("entry", "is required")
	}
	if original.Kind.IsCredit() {
		return nil, fmt.Errorf("refund of %s entry %s: %w", original.Kind, original.ID, core_domain.ErrInvalidState)
	}
	ref := original.ReferenceValue()
	if ref == "" {
		ref = original.ID
	}
	meta := domain.LedgerMetadata{
		RefundOf:      original.ID,
		PhoneNumber:   original.Metadata.PhoneNumber,
		NumberID:      original.Metadata.NumberID,
		MessageID:     original.Metadata.MessageID,
		FailureReason: reason,
	}
	posting, err := s.Credit(ctx, CreditRequest{
		UserID:    original.UserID,
		Amount:    original.Amount,
		Kind:      domain.KindRefund,
		Reference: "REFUND-" + ref,
		Metadata:  meta,
	})
	if err != nil {
		return nil, err
	}
	refundsTotal.WithLabelValues(string(original.Kind)).Inc()
	return posting, nil
}

// Balance returns the user's wallet, creating an empty one on first access.
func (s *WalletService) Balance(ctx context.Context, userID string) (*domain.Wallet, error) {
	if userID == "" {
		return nil, core_domain.NewFieldError("user_id", "is required")
	}
	if err := s.walletRepo.Ensure(ctx, s.db, userID, s.cfg.Currency); err != nil {
		return nil, err
	}
	return s.walletRepo.Get(ctx, s.db, userID)
}

func (s *WalletService) ListEntries(ctx context.Context, userID string, filter repository.LedgerFilter) ([]*domain.LedgerEntry, int, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, 0, core_domain.NewFieldError("kind", "is not a known transaction kind")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, core_domain.NewFieldError("status", "must be one of: pending success failed")
	}
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)
	return s.ledgerRepo.ListByUser(ctx, s.db, userID, filter)
}

func (s *WalletService) PendingCount(ctx context.Context, userID string) (int, error) {
	return s.ledgerRepo.CountByStatus(ctx, s.db, userID, domain.StatusPending)
}

// GetEntry returns the caller's own entry by reference.
func (s *WalletService) GetEntry(ctx context.Context, userID, reference string) (*domain.LedgerEntry, error) {
	e, err := s.ledgerRepo.GetByReference(ctx, s.db, reference)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, fmt.Errorf("ledger entry %s: %w", reference, core_domain.ErrNotFound)
	}
	return e, nil
}

// lockWallet creates the wallet if needed, locks it, and looks up an already applied
// reference. The lookup happens under the lock, so two same-user requests carrying the
// same reference are serialized and the second one sees the first one's entry.
func (s *WalletService) lockWallet(ctx context.Context, q database.Querier, userID, reference string) (*domain.Wallet, *domain.LedgerEntry, error) {
	if err := s.walletRepo.Ensure(ctx, q, userID, s.cfg.Currency); err != nil {
		return nil, nil, err
	}
	wallet, err := s.walletRepo.GetForUpdate(ctx, q, userID)
	if err != nil {
		return nil, nil, err
	}
	if reference == "" {
		return wallet, nil, nil
	}
	prior, err := s.ledgerRepo.GetByReference(ctx, q, reference)
	switch {
	case err == nil:
		if prior.UserID != userID {
			return nil, nil, fmt.Errorf("reference %s: %w", reference, core_domain.ErrDuplicateReference)
		}
		replaysTotal.WithLabelValues(string(prior.Kind)).Inc()
		s.logger.InfoContext(ctx, "Reference already applied, returning prior entry",
			"user_id", userID, "reference", reference, "entry_id", prior.ID)
		return wallet, prior, nil
	case errors.Is(err, core_domain.ErrNotFound):
		return wallet, nil, nil
	default:
		return nil, nil, err
	}
}

// recoverDuplicate turns a unique violation on the reference (a concurrent transaction
// won the insert) into a replay of the winner's entry.
func (s *WalletService) recoverDuplicate(ctx context.Context, userID, reference string, cause error) (*Posting, error) {
	if reference == "" || !errors.Is(cause, database.ErrDuplicate) {
		return nil, cause
	}
	prior, err := s.ledgerRepo.GetByReference(ctx, s.db, reference)
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	if prior.UserID != userID {
		return nil, fmt.Errorf("reference %s: %w", reference, core_domain.ErrDuplicateReference)
	}
	wallet, err := s.walletRepo.Get(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	replaysTotal.WithLabelValues(string(prior.Kind)).Inc()
	return &Posting{Entry: prior, Balance: wallet.Balance, Replayed: true}, nil
}

func (s *WalletService) afterCommit(ctx context.Context, p *Posting) {
	if p == nil || p.Replayed {
		return
	}
	postingsTotal.WithLabelValues(string(p.Entry.Kind), string(p.Entry.Status)).Inc()
	s.events.Emit(ctx, messagebroker.EventLedgerPosted, p.Entry.UserID, p.Entry)
}

func newEntry(userID string, kind domain.EntryKind, amount decimal.Decimal, reference string, status domain.EntryStatus, balanceAfter *decimal.Decimal, meta domain.LedgerMetadata) *domain.LedgerEntry {
	e := &domain.LedgerEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Kind:         kind,
		Amount:       amount,
		Status:       status,
		BalanceAfter: balanceAfter,
		Metadata:     meta,
	}
	if reference != "" {
		e.Reference = &reference
	}
	e.Metadata.SchemaVersion = domain.MetadataSchemaVersion
	return e
}

func validatePosting(userID string, amount decimal.Decimal, kind domain.EntryKind, credit bool) error {
	fields := map[string]string{}
	if userID == "" {
		fields["user_id"] = "is required"
	}
	if !amount.IsPositive() {
		fields["amount"] = "must be greater than 0"
	} else if !amount.Equal(amount.Round(2)) {
		fields["amount"] = "must have at most 2 decimal places"
	}
	switch {
	case !kind.Valid():
		fields["kind"] = "is not a known transaction kind"
	case kind.IsCredit() != credit:
		fields["kind"] = fmt.Sprintf("%s cannot be used for this posting direction", kind)
	}
	if len(fields) > 0 {
		return core_domain.NewValidationError(fields)
	}
	return nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
