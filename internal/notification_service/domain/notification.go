package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	TypeInfo    NotificationType = "info"
	TypeSuccess NotificationType = "success"
	TypeWarning NotificationType = "warning"
	TypeError   NotificationType = "error"
	TypePayment NotificationType = "payment"
	TypeSMS     NotificationType = "sms"
	TypeCall    NotificationType = "call"
	TypeNumber  NotificationType = "number"
)

func (t NotificationType) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError, TypePayment, TypeSMS, TypeCall, TypeNumber:
		return true
	}
	return false
}

// Notification is a per-user feed item. Only Read ever changes after creation.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	ActionURL string           `json:"action_url,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func NewNotification(userID string, t NotificationType, title, message, actionURL string) *Notification {
	return &Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      t,
		Title:     title,
		Message:   message,
		ActionURL: actionURL,
		CreatedAt: time.Now().UTC(),
	}
}
