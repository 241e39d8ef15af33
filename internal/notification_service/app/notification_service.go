package app

import (
	"context"
	"log/slog"

	"github.com/numberdrop/golang_services/internal/core_domain"
	"github.com/numberdrop/golang_services/internal/notification_service/domain"
	"github.com/numberdrop/golang_services/internal/notification_service/repository"
	"github.com/numberdrop/golang_services/internal/platform/database"
	"github.com/numberdrop/golang_services/internal/platform/messagebroker"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service is the per-user notification feed. It also implements domain.Notifier for
// the services that create feed items as a side effect.
type Service struct {
	repo   repository.NotificationRepository
	db     database.Querier
	events *messagebroker.EventBus
	logger *slog.Logger
}

var _ domain.Notifier = (*Service)(nil)

func NewService(repo repository.NotificationRepository, db database.Querier, events *messagebroker.EventBus, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		db:     db,
		events: events,
		logger: logger.With("service", "notification"),
	}
}

func (s *Service) Notify(ctx context.Context, q database.Querier, n *domain.Notification) error {
	if !n.Type.Valid() {
		return core_domain.NewFieldError("type", "is not a known notification type")
	}
	if n.UserID == "" || n.Title == "" {
		return core_domain.NewValidationError(map[string]string{"notification": "user_id and title are required"})
	}
	if err := s.repo.Create(ctx, q, n); err != nil {
		return err
	}
	createdTotal.WithLabelValues(string(n.Type)).Inc()
	return nil
}

func (s *Service) Announce(ctx context.Context, n *domain.Notification) {
	if n == nil {
		return
	}
	s.events.Emit(ctx, messagebroker.EventNotificationCreated, n.UserID, n)
}

// Create inserts and announces n outside any caller transaction.
func (s *Service) Create(ctx context.Context, n *domain.Notification) error {
	if err := s.Notify(ctx, s.db, n); err != nil {
		return err
	}
	s.Announce(ctx, n)
	return nil
}

func (s *Service) List(ctx context.Context, userID string, f repository.NotificationFilter) ([]*domain.Notification, int, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, core_domain.NewFieldError("type", "is not a known notification type")
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.ListByUser(ctx, s.db, userID, f)
}

func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.repo.MarkRead(ctx, s.db, userID, id)
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, s.db, userID)
	if err != nil {
		return 0, err
	}
	s.logger.DebugContext(ctx, "Marked notifications read", "user_id", userID, "count", n)
	return n, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.UnreadCount(ctx, s.db, userID)
}
