package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	billingapp "github.com/numberdrop/golang_services/internal/billing_service/app"
	billingdomain "github.com/numberdrop/golang_services/internal/billing_service/domain"
	"github.com/numberdrop/golang_services/internal/core_domain"
	notifdomain "github.com/numberdrop/golang_services/internal/notification_service/domain"
	"github.com/numberdrop/golang_services/internal/number_service/adapters/provisioning"
	"github.com/numberdrop/golang_services/internal/number_service/domain"
	"github.com/numberdrop/golang_services/internal/number_service/repository"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/platform/messagebroker"
	"github.com/numberdrop/golang_services/internal/platform/saga"
	"github.com/shopspring/decimal"
)

// Wallet is the part of the wallet service that paid number operations need.
type Wallet interface {
	DebitTx(ctx context.Context, q database.Querier, req billingapp.DebitRequest) (*billingapp.Posting, error)
	Refund(ctx context.Context, original *billingdomain.LedgerEntry, reason string) (*billingapp.Posting, error)
	GetEntry(ctx context.Context, userID, reference string) (*billingdomain.LedgerEntry, error)
}

type PurchaseRequest struct {
	UserID   string
	NumberID string
	// Reference is an optional client idempotency key.
	Reference string
}

type PurchaseResult struct {
	Number   *domain.OwnedNumber
	Entry    *billingdomain.LedgerEntry
	Balance  decimal.Decimal
	Replayed bool
}

type PurchaseConfig struct {
	TermDays        int
	ProviderTimeout time.Duration
}

// PurchaseService sells catalog numbers. A purchase is a saga: the debit commits
// first, the provider is called outside any transaction, and a failure after the
// debit refunds it and puts the number back on sale.
type PurchaseService struct {
	catalog     repository.CatalogRepository
	owned       repository.OwnedNumberRepository
	wallet      Wallet
	notifier    notifdomain.Notifier
	provisioner provisioning.NumberProvisioner
	db          database.Querier
	tx          database.Transactor
	events      *messagebroker.EventBus
	cfg         PurchaseConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewPurchaseService(
	catalog repository.CatalogRepository,
	owned repository.OwnedNumberRepository,
	wallet Wallet,
	notifier notifdomain.Notifier,
	provisioner provisioning.NumberProvisioner,
	db database.Querier,
	tx database.Transactor,
	events *messagebroker.EventBus,
	cfg PurchaseConfig,
	logger *slog.Logger,
) *PurchaseService {
	if cfg.TermDays <= 0 {
		cfg.TermDays = 30
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	return &PurchaseService{
		catalog:     catalog,
		owned:       owned,
		wallet:      wallet,
		notifier:    notifier,
		provisioner: provisioner,
		db:          db,
		tx:          tx,
		events:      events,
		cfg:         cfg,
		logger:      logger.With("service", "purchase"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *PurchaseService) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.UserID == "" || req.NumberID == "" {
		return nil, core_domain.NewValidationError(map[string]string{"number_id": "is required"})
	}
	reference := core_domain.NewReference("PURCHASE", 8)
	if req.Reference != "" {
		reference = "PURCHASE-" + req.Reference
	}
	logger := s.logger.With("user_id", req.UserID, "number_id", req.NumberID, "reference", reference)

	if res, err := s.replay(ctx, s.db, req.UserID, reference); res != nil || err != nil {
		return res, err
	}

	// Step 1: reserve the row and take the money.
	var (
		number  *domain.AvailableNumber
		posting *billingapp.Posting
		replay  *PurchaseResult
	)
	err := s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		var err error
		number, err = s.catalog.GetForUpdate(ctx, tx, req.NumberID)
		if err != nil {
			return err
		}
		// Another request with this reference may have finished while we waited for the lock.
		if replay, err = s.replay(ctx, tx, req.UserID, reference); replay != nil || err != nil {
			return err
		}
		now := s.now()
		if !number.IsAvailable() && !number.ReservationExpired(now) {
			if number.State == domain.StateReserved && number.ReservedByUser(req.UserID) {
				return domain.ErrPurchaseInProgress
			}
			return domain.ErrNumberUnavailable
		}

		posting, err = s.wallet.DebitTx(ctx, tx, billingapp.DebitRequest{
			UserID:    req.UserID,
			Amount:    number.ResalePrice,
			Kind:      billingdomain.KindPurchase,
			Reference: reference,
			Metadata: billingdomain.LedgerMetadata{
				PhoneNumber: number.PhoneNumber,
				NumberID:    number.ID,
			},
		})
		if err != nil {
			return err
		}
		if posting.Replayed {
			// Paid under this reference but no owned number exists: either the attempt
			// failed and was refunded, or it is still running.
			return s.settledWithoutNumber(ctx, req.UserID, reference)
		}
		return s.catalog.Reserve(ctx, tx, number.ID, req.UserID, now.Add(domain.ReservationTTL))
	})
	if replay != nil && err == nil {
		return replay, nil
	}
	if err != nil {
		purchasesTotal.WithLabelValues(outcomeOf(err)).Inc()
		logger.InfoContext(ctx, "Purchase rejected", "error", err)
		return nil, err
	}

	sg := saga.New("number_purchase", s.logger)
	sg.OnFailure("refund debit", func(ctx context.Context) error {
		_, err := s.wallet.Refund(ctx, posting.Entry, "number purchase failed")
		return err
	})
	sg.OnFailure("release reservation", func(ctx context.Context) error {
		return s.catalog.Release(ctx, s.db, number.ID, req.UserID)
	})

	// Step 2: acquire the number at the provider.
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	providerID, err := s.provisioner.Provision(pctx, number.PhoneNumber)
	cancel()
	if err != nil {
		return nil, s.fail(ctx, sg, logger, fmt.Errorf("provision %s: %w: %w", number.PhoneNumber, core_domain.ErrUpstreamUnavailable, err))
	}
	sg.OnFailure("release provider number", func(ctx context.Context) error {
		return s.provisioner.Release(ctx, providerID)
	})

	// Step 3: record ownership.
	owned := domain.NewOwnedNumber(req.UserID, number, providerID, reference, s.now(), s.cfg.TermDays)
	note := notifdomain.NewNotification(req.UserID, notifdomain.TypeNumber, "Phone Number Purchased",
		fmt.Sprintf("You have successfully purchased %s", owned.PhoneNumber),
		fmt.Sprintf("/dashboard/numbers/%s/", owned.ID))
	err = s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		if err := s.owned.Create(ctx, tx, owned); err != nil {
			return err
		}
		if err := s.catalog.MarkSold(ctx, tx, number.ID, req.UserID); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, note)
	})
	if err != nil {
		return nil, s.fail(ctx, sg, logger, fmt.Errorf("record purchase of %s: %w", number.PhoneNumber, err))
	}

	purchasesTotal.WithLabelValues("success").Inc()
	logger.InfoContext(ctx, "Number purchased", "phone_number", owned.PhoneNumber,
		"owned_number_id", owned.ID, "provider_id", providerID, "price", number.ResalePrice.StringFixed(2))
	s.events.Emit(ctx, messagebroker.EventNumberPurchased, req.UserID, owned)
	s.notifier.Announce(ctx, note)

	return &PurchaseResult{Number: owned, Entry: posting.Entry, Balance: posting.Balance}, nil
}

// replay returns the result of an already completed purchase under reference.
func (s *PurchaseService) replay(ctx context.Context, q database.Querier, userID, reference string) (*PurchaseResult, error) {
	owned, err := s.owned.GetByPurchaseReference(ctx, q, reference)
	if errors.Is(err, core_domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if owned.UserID != userID {
		return nil, fmt.Errorf("reference %s: %w", reference, core_domain.ErrDuplicateReference)
	}
	res := &PurchaseResult{Number: owned, Replayed: true}
	if entry, err := s.wallet.GetEntry(ctx, userID, reference); err == nil {
		res.Entry = entry
		if entry.BalanceAfter != nil {
			res.Balance = *entry.BalanceAfter
		}
	}
	purchasesTotal.WithLabelValues("replayed").Inc()
	return res, nil
}

func (s *PurchaseService) settledWithoutNumber(ctx context.Context, userID, reference string) error {
	_, err := s.wallet.GetEntry(ctx, userID, "REFUND-"+reference)
	switch {
	case err == nil:
		return fmt.Errorf("reference %s: %w", reference, domain.ErrPurchaseRefunded)
	case errors.Is(err, core_domain.ErrNotFound):
		return domain.ErrPurchaseInProgress
	default:
		return err
	}
}

func (s *PurchaseService) fail(ctx context.Context, sg *saga.Saga, logger *slog.Logger, cause error) error {
	purchasesTotal.WithLabelValues(outcomeOf(cause)).Inc()
	logger.WarnContext(ctx, "Purchase failed, compensating", "error", cause)
	if cerr := sg.Compensate(ctx, cause); cerr != nil {
		return errors.Join(cause, cerr)
	}
	return cause
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, core_domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrPurchaseInProgress):
		return "in_progress"
	case errors.Is(err, domain.ErrNumberUnavailable):
		return "unavailable"
	case errors.Is(err, core_domain.ErrUpstreamUnavailable):
		return "upstream_error"
	case errors.Is(err, core_domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
