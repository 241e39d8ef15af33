package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/numberdrop/golang_services/internal/core_domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNumberUnavailable  = fmt.Errorf("number is not available: %w", core_domain.ErrInvalidState)
	ErrPurchaseInProgress = fmt.Errorf("purchase is in progress: %w", core_domain.ErrInvalidState)
	// ErrPurchaseRefunded marks a reference whose purchase failed and was refunded.
	// The reference is spent; a new attempt needs a new key.
	ErrPurchaseRefunded = fmt.Errorf("purchase failed and was refunded: %w", core_domain.ErrDuplicateReference)
)

// ReservationTTL bounds how long a catalog row stays reserved by an unfinished purchase.
const ReservationTTL = 10 * time.Minute

type Capabilities struct {
	SMS   bool `json:"sms"`
	MMS   bool `json:"mms"`
	Voice bool `json:"voice"`
	Fax   bool `json:"fax"`
}

type CatalogState string

const (
	StateAvailable CatalogState = "available"
	StateReserved  CatalogState = "reserved"
	StateSold      CatalogState = "sold"
)

// AvailableNumber is a catalog row. It moves available -> reserved -> sold, or back
// to available when a purchase is compensated.
type AvailableNumber struct {
	ID            string          `json:"id"`
	PhoneNumber   string          `json:"phone_number"`
	FriendlyName  string          `json:"friendly_name"`
	CountryCode   string          `json:"country_code"`
	Region        string          `json:"region"`
	Locality      string          `json:"locality"`
	Capabilities  Capabilities    `json:"capabilities"`
	CostPrice     decimal.Decimal `json:"-"`
	ResalePrice   decimal.Decimal `json:"price"`
	MonthlyPrice  decimal.Decimal `json:"monthly_price"`
	Featured      bool            `json:"featured"`
	State         CatalogState    `json:"state"`
	ReservedBy    *string         `json:"-"`
	ReservedUntil *time.Time      `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (n *AvailableNumber) IsAvailable() bool {
	return n.State == StateAvailable
}

// ReservationExpired reports whether a reserved row was left behind by a purchase
// that never finished.
func (n *AvailableNumber) ReservationExpired(now time.Time) bool {
	return n.State == StateReserved && n.ReservedUntil != nil && n.ReservedUntil.Before(now)
}

func (n *AvailableNumber) ReservedByUser(userID string) bool {
	return n.ReservedBy != nil && *n.ReservedBy == userID
}

type OwnedStatus string

const (
	OwnedPending   OwnedStatus = "pending"
	OwnedActive    OwnedStatus = "active"
	OwnedSuspended OwnedStatus = "suspended"
	OwnedCancelled OwnedStatus = "cancelled"
)

func (s OwnedStatus) Valid() bool {
	switch s {
	case OwnedPending, OwnedActive, OwnedSuspended, OwnedCancelled:
		return true
	}
	return false
}

// OwnedNumber is a number provisioned for a user.
type OwnedNumber struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	SourceNumberID    *string         `json:"source_number_id,omitempty"`
	ProviderID        string          `json:"provider_id"`
	PhoneNumber       string          `json:"phone_number"`
	FriendlyName      string          `json:"friendly_name"`
	Capabilities      Capabilities    `json:"capabilities"`
	Status            OwnedStatus     `json:"status"`
	MonthlyPrice      decimal.Decimal `json:"monthly_price"`
	PurchaseReference string          `json:"purchase_reference"`
	AutoRenew         bool            `json:"auto_renew"`
	PurchasedAt       time.Time       `json:"purchased_at"`
	ExpiresAt         time.Time       `json:"expires_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewOwnedNumber builds the active owned number produced by a completed purchase.
func NewOwnedNumber(userID string, src *AvailableNumber, providerID, reference string, now time.Time, termDays int) *OwnedNumber {
	srcID := src.ID
	return &OwnedNumber{
		ID:                uuid.NewString(),
		UserID:            userID,
		SourceNumberID:    &srcID,
		ProviderID:        providerID,
		PhoneNumber:       src.PhoneNumber,
		FriendlyName:      src.FriendlyName,
		Capabilities:      src.Capabilities,
		Status:            OwnedActive,
		MonthlyPrice:      src.MonthlyPrice,
		PurchaseReference: reference,
		AutoRenew:         true,
		PurchasedAt:       now,
		ExpiresAt:         now.AddDate(0, 0, termDays),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// IsUsable reports whether the number can send and receive traffic.
func (n *OwnedNumber) IsUsable() bool {
	return n.Status == OwnedActive
}

// RenewalReference is the ledger reference for renewing the term that ends at
// ExpiresAt. It is stable for one term, so a retried renewal is a replay.
func (n *OwnedNumber) RenewalReference() string {
	return fmt.Sprintf("RENEWAL-%s-%s", n.ID, n.ExpiresAt.UTC().Format("20060102"))
}
