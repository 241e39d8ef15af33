package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/numberdrop/golang_services/internal/core_domain"
	msgdomain "github.com/numberdrop/golang_services/internal/messaging_service/domain"
	msgrepo "github.com/numberdrop/golang_services/internal/messaging_service/repository"
	notifdomain "github.com/numberdrop/golang_services/internal/notification_service/domain"
	numberdomain "github.com/numberdrop/golang_services/internal/number_service/domain"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/platform/messagebroker"
	"github.com/numberdrop/golang_services/internal/webhook_service/domain"
	"github.com/numberdrop/golang_services/internal/webhook_service/repository"
)

// errDuplicateDelivery marks a callback that was already applied.
var errDuplicateDelivery = errors.New("duplicate delivery")

// NumberFinder resolves the owned number a callback is addressed to.
type NumberFinder interface {
	FindByPhone(ctx context.Context, q database.Querier, phone string) (*numberdomain.OwnedNumber, error)
}

const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeError     = "error"
)

// Ingestor records provider callbacks and applies them to messages and calls.
// The event row is written before anything else, so every delivery is audited
// even when applying it fails.
type Ingestor struct {
	events   repository.WebhookEventRepository
	messages msgrepo.MessageRepository
	calls    msgrepo.CallRepository
	numbers  NumberFinder
	notifier notifdomain.Notifier
	db       database.Querier
	tx       database.Transactor
	bus      *messagebroker.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

func NewIngestor(
	events repository.WebhookEventRepository,
	messages msgrepo.MessageRepository,
	calls msgrepo.CallRepository,
	numbers NumberFinder,
	notifier notifdomain.Notifier,
	db database.Querier,
	tx database.Transactor,
	bus *messagebroker.EventBus,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		events:   events,
		messages: messages,
		calls:    calls,
		numbers:  numbers,
		notifier: notifier,
		db:       db,
		tx:       tx,
		bus:      bus,
		logger:   logger.With("service", "webhook_ingestor"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest persists the callback and applies it. The returned error is non-nil only
// when the event could not be persisted; failures to apply it are recorded on the
// event instead.
func (s *Ingestor) Ingest(ctx context.Context, eventType domain.EventType, form url.Values) (*domain.WebhookEvent, error) {
	if !eventType.Valid() {
		return nil, core_domain.NewFieldError("event_type", "is not a known webhook type")
	}
	ev := domain.NewWebhookEvent(eventType, form)
	if err := s.events.Create(ctx, s.db, ev); err != nil {
		webhooksTotal.WithLabelValues(string(eventType), "persist_error").Inc()
		return nil, fmt.Errorf("persist webhook event: %w", err)
	}
	s.apply(ctx, ev)
	return ev, nil
}

// RetryUnprocessed applies again the events received after since that are still
// unprocessed, e.g. a status callback that arrived before its message was recorded.
func (s *Ingestor) RetryUnprocessed(ctx context.Context, since time.Time, limit int) (int, error) {
	pending, err := s.events.ListUnprocessed(ctx, s.db, since, limit)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, ev := range pending {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}
		if s.apply(ctx, ev) != outcomeError {
			recovered++
		}
	}
	s.logger.InfoContext(ctx, "Webhook retry finished", "pending", len(pending), "recovered", recovered)
	return recovered, nil
}

func (s *Ingestor) apply(ctx context.Context, ev *domain.WebhookEvent) string {
	logger := s.logger.With("webhook_event_id", ev.ID, "event_type", ev.EventType, "provider_event_id", ev.ProviderEventID)

	after, err := s.dispatch(ctx, ev)
	outcome := outcomeProcessed
	switch {
	case errors.Is(err, errDuplicateDelivery):
		outcome = outcomeDuplicate
		ev.MarkProcessed(s.now())
		logger.InfoContext(ctx, "Duplicate webhook delivery")
	case err != nil:
		outcome = outcomeError
		ev.MarkFailed(err.Error(), s.now())
		logger.WarnContext(ctx, "Webhook not applied", "error", err)
	default:
		ev.MarkProcessed(s.now())
	}

	if err := s.events.UpdateOutcome(ctx, s.db, ev); err != nil {
		logger.ErrorContext(ctx, "Failed to record webhook outcome", "outcome", outcome, "error", err)
	}
	webhooksTotal.WithLabelValues(string(ev.EventType), outcome).Inc()
	if after != nil {
		after(ctx)
	}
	return outcome
}

// dispatch applies ev. The returned func publishes events once the writes committed.
func (s *Ingestor) dispatch(ctx context.Context, ev *domain.WebhookEvent) (after func(context.Context), err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "Panic while applying webhook", "webhook_event_id", ev.ID,
				"panic", r, "stack", string(debug.Stack()))
			after, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	switch ev.EventType {
	case domain.EventSMSStatus:
		return nil, s.applySMSStatus(ctx, ev)
	case domain.EventVoiceStatus:
		return s.applyVoiceStatus(ctx, ev)
	case domain.EventInboundSMS:
		return s.applyInboundSMS(ctx, ev)
	default:
		return nil, fmt.Errorf("unsupported event type: %s", ev.EventType)
	}
}

func (s *Ingestor) applySMSStatus(ctx context.Context, ev *domain.WebhookEvent) error {
	p := ev.Payload
	msg, err := s.messages.GetByProviderID(ctx, s.db, ev.ProviderEventID)
	if errors.Is(err, core_domain.ErrNotFound) {
		return fmt.Errorf("message not found: %s", ev.ProviderEventID)
	}
	if err != nil {
		return err
	}

	if status := msgdomain.NormalizeStatus(p.Get("MessageStatus")); status != "" {
		msg.Status = status
	}
	if code := p.Get("ErrorCode"); code != "" {
		msg.ErrorCode = &code
	}
	if text := p.Get("ErrorMessage"); text != "" {
		msg.ErrorMessage = &text
	}
	return s.messages.Update(ctx, s.db, msg)
}

func (s *Ingestor) applyVoiceStatus(ctx context.Context, ev *domain.WebhookEvent) (func(context.Context), error) {
	p := ev.Payload
	call, err := s.calls.GetByProviderID(ctx, s.db, ev.ProviderEventID)
	switch {
	case err == nil:
		if status := msgdomain.NormalizeStatus(p.Get("CallStatus")); status != "" {
			call.Status = status
		}
		if d := p.Get("CallDuration"); d != "" {
			secs, perr := strconv.Atoi(d)
			if perr != nil {
				return nil, fmt.Errorf("invalid CallDuration %q", d)
			}
			call.DurationSeconds = secs
		}
		if isTerminalCallStatus(call.Status) && call.EndedAt == nil {
			ended := s.now()
			call.EndedAt = &ended
		}
		return nil, s.calls.Update(ctx, s.db, call)
	case !errors.Is(err, core_domain.ErrNotFound):
		return nil, err
	}

	if !strings.HasPrefix(strings.ToLower(p.Get("Direction")), "inbound") {
		return nil, fmt.Errorf("call not found: %s", ev.ProviderEventID)
	}
	number, err := s.numbers.FindByPhone(ctx, s.db, p.Get("To"))
	if errors.Is(err, core_domain.ErrNotFound) {
		return nil, fmt.Errorf("phone number not found: %s", p.Get("To"))
	}
	if err != nil {
		return nil, err
	}

	call = msgdomain.NewInboundCall(ev.ProviderEventID, number.UserID, number.ID, p.Get("From"), p.Get("To"), p.Get("CallStatus"))
	note := notifdomain.NewNotification(number.UserID, notifdomain.TypeCall, "Incoming Call",
		fmt.Sprintf("Call from %s to %s", call.From, call.To), "/dashboard/calls/")
	err = s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		if err := s.calls.Create(ctx, tx, call); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, note)
	})
	if errors.Is(err, core_domain.ErrDuplicateExternalID) {
		return nil, errDuplicateDelivery
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) {
		s.bus.Emit(ctx, messagebroker.EventCallReceived, call.UserID, call)
		s.notifier.Announce(ctx, note)
	}, nil
}

func (s *Ingestor) applyInboundSMS(ctx context.Context, ev *domain.WebhookEvent) (func(context.Context), error) {
	p := ev.Payload
	to, from, body := p.Get("To"), p.Get("From"), p.Get("Body")

	number, err := s.numbers.FindByPhone(ctx, s.db, to)
	if errors.Is(err, core_domain.ErrNotFound) {
		return nil, fmt.Errorf("phone number not found: %s", to)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.messages.GetByProviderID(ctx, s.db, ev.ProviderEventID); err == nil {
		return nil, errDuplicateDelivery
	} else if !errors.Is(err, core_domain.ErrNotFound) {
		return nil, err
	}

	segments, _ := strconv.Atoi(p.Get("NumSegments"))
	msg := msgdomain.NewInboundMessage(ev.ProviderEventID, number.UserID, number.ID, from, to, body, segments)
	note := notifdomain.NewNotification(number.UserID, notifdomain.TypeSMS, "New SMS Received",
		fmt.Sprintf("From %s: %s...", from, preview(body, 50)), "/dashboard/messages/")
	err = s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		if err := s.messages.Create(ctx, tx, msg); err != nil {
			return err
		}
		return s.notifier.Notify(ctx, tx, note)
	})
	if errors.Is(err, core_domain.ErrDuplicateExternalID) {
		return nil, errDuplicateDelivery
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) {
		s.bus.Emit(ctx, messagebroker.EventMessageReceived, msg.UserID, msg)
		s.notifier.Announce(ctx, note)
	}, nil
}

func isTerminalCallStatus(status string) bool {
	switch status {
	case "completed", "busy", "failed", "no-answer", "canceled":
		return true
	}
	return false
}

// preview returns the first n runes of s.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
