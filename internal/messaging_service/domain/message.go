package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/numberdrop/golang_services/internal/core_domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNumberInactive  = fmt.Errorf("number is not active: %w", core_domain.ErrInvalidState)
	ErrSMSNotSupported = fmt.Errorf("number does not support sms: %w", core_domain.ErrInvalidState)
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

func (d Direction) Valid() bool {
	return d == Inbound || d == Outbound
}

// Well-known message statuses. Provider callbacks may report others; they are
// stored lower-cased as received.
const (
	StatusQueued      = "queued"
	StatusSent        = "sent"
	StatusDelivered   = "delivered"
	StatusUndelivered = "undelivered"
	StatusFailed      = "failed"
	StatusReceived    = "received"
)

// NormalizeStatus lower-cases a provider status string.
func NormalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

const MaxBodyLength = 1600

type MessageRecord struct {
	ID              string           `json:"id"`
	ProviderID      string           `json:"provider_id"`
	UserID          string           `json:"user_id"`
	NumberID        string           `json:"number_id"`
	From            string           `json:"from_number"`
	To              string           `json:"to_number"`
	Body            string           `json:"body"`
	Direction       Direction        `json:"direction"`
	Status          string           `json:"status"`
	Segments        int              `json:"segments"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	ErrorCode       *string          `json:"error_code,omitempty"`
	ErrorMessage    *string          `json:"error_message,omitempty"`
	LedgerReference *string          `json:"ledger_reference,omitempty"`
	SentAt          *time.Time       `json:"sent_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewOutboundMessage builds a queued message with a provisional provider id,
// replaced by the provider's id once dispatched.
func NewOutboundMessage(userID, numberID, from, to, body string, q Quote, ledgerReference string) *MessageRecord {
	now := time.Now().UTC()
	cost, ref := q.Cost, ledgerReference
	return &MessageRecord{
		ID:              uuid.NewString(),
		ProviderID:      core_domain.NewProviderSID("SM"),
		UserID:          userID,
		NumberID:        numberID,
		From:            from,
		To:              to,
		Body:            body,
		Direction:       Outbound,
		Status:          StatusQueued,
		Segments:        q.Segments,
		Price:           &cost,
		LedgerReference: &ref,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewInboundMessage records an SMS received on an owned number.
func NewInboundMessage(providerID, userID, numberID, from, to, body string, segments int) *MessageRecord {
	now := time.Now().UTC()
	if segments < 1 {
		segments = 1
	}
	return &MessageRecord{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		UserID:     userID,
		NumberID:   numberID,
		From:       from,
		To:         to,
		Body:       body,
		Direction:  Inbound,
		Status:     StatusReceived,
		Segments:   segments,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

type CallRecord struct {
	ID              string           `json:"id"`
	ProviderID      string           `json:"provider_id"`
	UserID          string           `json:"user_id"`
	NumberID        string           `json:"number_id"`
	From            string           `json:"from_number"`
	To              string           `json:"to_number"`
	Direction       Direction        `json:"direction"`
	Status          string           `json:"status"`
	DurationSeconds int              `json:"duration_seconds"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func NewInboundCall(providerID, userID, numberID, from, to, status string) *CallRecord {
	now := time.Now().UTC()
	return &CallRecord{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		UserID:     userID,
		NumberID:   numberID,
		From:       from,
		To:         to,
		Direction:  Inbound,
		Status:     NormalizeStatus(status),
		StartedAt:  &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
