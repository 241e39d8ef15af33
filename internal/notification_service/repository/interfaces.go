package repository

import (
	"context"

	"github.com/numberdrop/golang_services/internal/notification_service/domain"
	"github.com/numberdrop/golang_services/internal/platform/database"
)

type NotificationFilter struct {
	// Unread, when set, keeps only unread (true) or read (false) items.
	Unread *bool
	Type   domain.NotificationType
	Limit  int
	Offset int
}

type NotificationRepository interface {
	Create(ctx context.Context, q database.Querier, n *domain.Notification) error
	ListByUser(ctx context.Context, q database.Querier, userID string, f NotificationFilter) ([]*domain.Notification, int, error)
	// MarkRead returns core_domain.ErrNotFound when id does not belong to userID.
	MarkRead(ctx context.Context, q database.Querier, userID, id string) error
	MarkAllRead(ctx context.Context, q database.Querier, userID string) (int64, error)
	UnreadCount(ctx context.Context, q database.Querier, userID string) (int, error)
}
