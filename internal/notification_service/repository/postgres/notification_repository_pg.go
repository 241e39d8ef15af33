package postgres

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/numberdrop/golang_services/internal/notification_service/domain"
	"github.com/numberdrop/golang_services/internal/notification_service/repository"
	"github.com/numberdrop/golang_services/internal/platform/database"
)

const notificationColumns = `id, user_id, type, title, message, read, action_url, created_at`

type pgNotificationRepository struct{}

func NewPgNotificationRepository() repository.NotificationRepository {
	return &pgNotificationRepository{}
}

func (r *pgNotificationRepository) Create(ctx context.Context, q database.Querier, n *domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.Read, n.ActionURL, n.CreatedAt)
	return database.MapError(err, "notification", n.ID)
}

func (r *pgNotificationRepository) ListByUser(ctx context.Context, q database.Querier, userID string, f repository.NotificationFilter) ([]*domain.Notification, int, error) {
	where := squirrel.Eq{"user_id": userID}
	if f.Unread != nil {
		where["read"] = !*f.Unread
	}
	if f.Type != "" {
		where["type"] = string(f.Type)
	}

	countSQL, countArgs, err := database.Builder().Select("COUNT(*)").From("notifications").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, database.MapError(err, "notifications of user", userID)
	}

	sqlStr, args, err := database.Builder().Select(notificationColumns).From("notifications").Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(f.Limit)).Offset(uint64(f.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, 0, database.MapError(err, "notifications of user", userID)
	}
	defer rows.Close()

	items := make([]*domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *pgNotificationRepository) MarkRead(ctx context.Context, q database.Querier, userID, id string) error {
	// Touching an already read row still counts as found.
	tag, err := q.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return database.MapError(err, "notification", id)
	}
	if tag.RowsAffected() == 0 {
		return database.MapError(pgx.ErrNoRows, "notification", id)
	}
	return nil
}

func (r *pgNotificationRepository) MarkAllRead(ctx context.Context, q database.Querier, userID string) (int64, error) {
	tag, err := q.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE`, userID)
	if err != nil {
		return 0, database.MapError(err, "notifications of user", userID)
	}
	return tag.RowsAffected(), nil
}

func (r *pgNotificationRepository) UnreadCount(ctx context.Context, q database.Querier, userID string) (int, error) {
	var n int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`, userID).Scan(&n); err != nil {
		return 0, database.MapError(err, "notifications of user", userID)
	}
	return n, nil
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var (
		n   domain.Notification
		typ string
	)
	if err := row.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.Read, &n.ActionURL, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Type = domain.NotificationType(typ)
	return &n, nil
}
