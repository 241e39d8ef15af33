package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	billingapp "github.com/numberdrop/golang_services/internal/billing_service/app"
	billingdomain "github.com/numberdrop/golang_services/internal/billing_service/domain"
	"github.com/numberdrop/golang_services/internal/core_domain"
	"github.com/numberdrop/golang_services/internal/messaging_service/adapters/smsprovider"
	"github.com/numberdrop/golang_services/internal/messaging_service/domain"
	"github.com/numberdrop/golang_services/internal/messaging_service/repository"
	numberdomain "github.com/numberdrop/golang_services/internal/number_service/domain"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/platform/messagebroker"
	"github.com/numberdrop/golang_services/internal/platform/saga"
	"github.com/numberdrop/golang_services/internal/platform/validation"
	"github.com/shopspring/decimal"
)

// Wallet is the part of the wallet service that paid messaging needs.
type Wallet interface {
	DebitTx(ctx context.Context, q database.Querier, req billingapp.DebitRequest) (*billingapp.Posting, error)
	Refund(ctx context.Context, original *billingdomain.LedgerEntry, reason string) (*billingapp.Posting, error)
	GetEntry(ctx context.Context, userID, reference string) (*billingdomain.LedgerEntry, error)
}

// OwnedNumbers looks up the sending number.
type OwnedNumbers interface {
	Get(ctx context.Context, q database.Querier, id string) (*numberdomain.OwnedNumber, error)
}

type SendSMSRequest struct {
	UserID   string `json:"-" validate:"required"`
	NumberID string `json:"number_id" validate:"required"`
	To       string `json:"to" validate:"required,e164"`
	Body     string `json:"body" validate:"required,max=1600"`
	// Reference is an optional client idempotency key.
	Reference string `json:"-"`
}

type SendResult struct {
	Message  *domain.MessageRecord
	Entry    *billingdomain.LedgerEntry
	Balance  decimal.Decimal
	Replayed bool
}

type SMSConfig struct {
	ProviderTimeout time.Duration
	// StatusCallbackURL receives delivery status updates when set.
	StatusCallbackURL string
}

// SMSService sends paid SMS. The debit and the queued message commit together;
// the provider is called afterwards and a failed dispatch refunds the debit.
type SMSService struct {
	messages repository.MessageRepository
	calls    repository.CallRepository
	numbers  OwnedNumbers
	wallet   Wallet
	provider smsprovider.Adapter
	pricing  *domain.PricingPolicy
	db       database.Querier
	tx       database.Transactor
	events   *messagebroker.EventBus
	cfg      SMSConfig
	validate *validator.Validate
	logger   *slog.Logger
}

func NewSMSService(
	messages repository.MessageRepository,
	calls repository.CallRepository,
	numbers OwnedNumbers,
	wallet Wallet,
	provider smsprovider.Adapter,
	pricing *domain.PricingPolicy,
	db database.Querier,
	tx database.Transactor,
	events *messagebroker.EventBus,
	cfg SMSConfig,
	logger *slog.Logger,
) *SMSService {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	return &SMSService{
		messages: messages,
		calls:    calls,
		numbers:  numbers,
		wallet:   wallet,
		provider: provider,
		pricing:  pricing,
		db:       db,
		tx:       tx,
		events:   events,
		cfg:      cfg,
		validate: validation.New(),
		logger:   logger.With("service", "sms"),
	}
}

func (s *SMSService) SendSMS(ctx context.Context, req SendSMSRequest) (*SendResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, core_domain.FromValidator(err)
	}
	number, err := s.numbers.Get(ctx, s.db, req.NumberID)
	if err != nil {
		return nil, err
	}
	if number.UserID != req.UserID {
		return nil, fmt.Errorf("owned number %s: %w", req.NumberID, core_domain.ErrNotFound)
	}
	if !number.IsUsable() {
		return nil, domain.ErrNumberInactive
	}
	if !number.Capabilities.SMS {
		return nil, domain.ErrSMSNotSupported
	}

	reference := core_domain.NewReference("SMS", 8)
	if req.Reference != "" {
		reference = "SMS-" + req.Reference
	}
	logger := s.logger.With("user_id", req.UserID, "number_id", number.ID, "reference", reference)

	if res, err := s.replay(ctx, s.db, req.UserID, reference); res != nil || err != nil {
		return res, err
	}

	quote := s.pricing.Quote(req.To, req.Body)

	// Step 1: charge and queue.
	var (
		msg     *domain.MessageRecord
		posting *billingapp.Posting
		replay  *SendResult
	)
	err = s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		var err error
		posting, err = s.wallet.DebitTx(ctx, tx, billingapp.DebitRequest{
			UserID:    req.UserID,
			Amount:    quote.Cost,
			Kind:      billingdomain.KindSMS,
			Reference: reference,
			Metadata: billingdomain.LedgerMetadata{
				PhoneNumber: number.PhoneNumber,
				NumberID:    number.ID,
				ToNumber:    req.To,
				Segments:    quote.Segments,
			},
		})
		if err != nil {
			return err
		}
		if posting.Replayed {
			// A concurrent request with this reference committed first.
			replay, err = s.replay(ctx, tx, req.UserID, reference)
			if err == nil && replay == nil {
				err = fmt.Errorf("reference %s: %w", reference, core_domain.ErrDuplicateReference)
			}
			return err
		}
		msg = domain.NewOutboundMessage(req.UserID, number.ID, number.PhoneNumber, req.To, req.Body, quote, reference)
		return s.messages.Create(ctx, tx, msg)
	})
	if err != nil {
		smsSentTotal.WithLabelValues(outcomeOf(err)).Inc()
		logger.InfoContext(ctx, "SMS rejected", "error", err)
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	sg := saga.New("sms_send", s.logger)
	sg.OnFailure("refund debit", func(ctx context.Context) error {
		_, err := s.wallet.Refund(ctx, posting.Entry, "sms dispatch failed")
		return err
	})

	// Step 2: dispatch.
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	started := time.Now()
	resp, err := s.provider.Send(pctx, smsprovider.SMSRequestData{
		InternalMessageID: msg.ID,
		From:              msg.From,
		To:                msg.To,
		Body:              msg.Body,
		StatusCallbackURL: s.cfg.StatusCallbackURL,
	})
	cancel()
	providerLatency.WithLabelValues(s.provider.GetName()).Observe(time.Since(started).Seconds())
	if err != nil {
		cause := fmt.Errorf("dispatch sms %s: %w: %w", msg.ID, core_domain.ErrUpstreamUnavailable, err)
		errMsg := err.Error()
		msg.Status, msg.ErrorMessage = domain.StatusFailed, &errMsg
		if uerr := s.messages.Update(context.WithoutCancel(ctx), s.db, msg); uerr != nil {
			logger.ErrorContext(ctx, "Failed to mark message failed", "message_id", msg.ID, "error", uerr)
		}
		smsSentTotal.WithLabelValues("upstream_error").Inc()
		logger.WarnContext(ctx, "SMS dispatch failed, compensating", "message_id", msg.ID, "error", err)
		if cerr := sg.Compensate(ctx, cause); cerr != nil {
			return nil, errors.Join(cause, cerr)
		}
		return nil, cause
	}

	// Step 3: record the dispatch. The message is out and paid for either way.
	sentAt := time.Now().UTC()
	msg.Status, msg.SentAt = domain.StatusSent, &sentAt
	if resp != nil && resp.ProviderMessageID != "" {
		msg.ProviderID = resp.ProviderMessageID
	}
	if err := s.messages.Update(ctx, s.db, msg); err != nil {
		logger.ErrorContext(ctx, "Failed to record sent message", "message_id", msg.ID, "provider_id", msg.ProviderID, "error", err)
	}

	smsSentTotal.WithLabelValues("success").Inc()
	smsSegmentsTotal.Add(float64(quote.Segments))
	logger.InfoContext(ctx, "SMS sent", "message_id", msg.ID, "provider_id", msg.ProviderID,
		"to", msg.To, "segments", quote.Segments, "cost", quote.Cost.StringFixed(2))
	s.events.Emit(ctx, messagebroker.EventMessageSent, req.UserID, msg)

	return &SendResult{Message: msg, Entry: posting.Entry, Balance: posting.Balance}, nil
}

// replay returns the message already sent under reference, if any.
func (s *SMSService) replay(ctx context.Context, q database.Querier, userID, reference string) (*SendResult, error) {
	msg, err := s.messages.GetByLedgerReference(ctx, q, reference)
	if errors.Is(err, core_domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if msg.UserID != userID {
		return nil, fmt.Errorf("reference %s: %w", reference, core_domain.ErrDuplicateReference)
	}
	res := &SendResult{Message: msg, Replayed: true}
	if entry, err := s.wallet.GetEntry(ctx, userID, reference); err == nil {
		res.Entry = entry
		if entry.BalanceAfter != nil {
			res.Balance = *entry.BalanceAfter
		}
	}
	smsSentTotal.WithLabelValues("replayed").Inc()
	return res, nil
}

func (s *SMSService) ListMessages(ctx context.Context, userID string, f repository.MessageFilter) ([]*domain.MessageRecord, int, error) {
	if f.Direction != "" && !f.Direction.Valid() {
		return nil, 0, core_domain.NewFieldError("direction", "must be one of: inbound outbound")
	}
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	return s.messages.List(ctx, s.db, userID, f)
}

func (s *SMSService) GetMessage(ctx context.Context, userID, id string) (*domain.MessageRecord, error) {
	msg, err := s.messages.Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if msg.UserID != userID {
		return nil, fmt.Errorf("message %s: %w", id, core_domain.ErrNotFound)
	}
	return msg, nil
}

func (s *SMSService) ListCalls(ctx context.Context, userID string, f repository.CallFilter) ([]*domain.CallRecord, int, error) {
	if f.Direction != "" && !f.Direction.Valid() {
		return nil, 0, core_domain.NewFieldError("direction", "must be one of: inbound outbound")
	}
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	return s.calls.List(ctx, s.db, userID, f)
}

// Counts returns the totals shown on the dashboard.
func (s *SMSService) Counts(ctx context.Context, userID string) (messages, calls int, err error) {
	if messages, err = s.messages.Count(ctx, s.db, userID); err != nil {
		return 0, 0, err
	}
	if calls, err = s.calls.Count(ctx, s.db, userID); err != nil {
		return 0, 0, err
	}
	return messages, calls, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, core_domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, core_domain.ErrDuplicateReference):
		return "duplicate_reference"
	case errors.Is(err, core_domain.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
