package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind is the transaction kind of a ledger entry. The kind, not the sign of the
// amount, decides whether the entry moved money into or out of the wallet.
type EntryKind string

const (
	KindFund       EntryKind = "fund"
	KindPurchase   EntryKind = "purchase"
	KindSMS        EntryKind = "sms"
	KindMMS        EntryKind = "mms"
	KindCall       EntryKind = "call"
	KindRenewal    EntryKind = "renewal"
	KindRefund     EntryKind = "refund"
	KindCommission EntryKind = "commission"
	KindWithdrawal EntryKind = "withdrawal"
)

func (k EntryKind) Valid() bool {
	switch k {
	case KindFund, KindPurchase, KindSMS, KindMMS, KindCall, KindRenewal, KindRefund, KindCommission, KindWithdrawal:
		return true
	}
	return false
}

// IsCredit reports whether entries of this kind increase the balance.
func (k EntryKind) IsCredit() bool {
	switch k {
	case KindFund, KindRefund, KindCommission:
		return true
	}
	return false
}

func (k EntryKind) Value() (driver.Value, error) {
	return string(k), nil
}

func (k *EntryKind) Scan(value interface{}) error {
	s, err := scanString(value, "EntryKind")
	if err != nil {
		return err
	}
	*k = EntryKind(s)
	if !k.Valid() {
		return fmt.Errorf("unknown EntryKind value: %s", s)
	}
	return nil
}

// EntryStatus moves one way only: pending -> success or pending -> failed.
type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusSuccess EntryStatus = "success"
	StatusFailed  EntryStatus = "failed"
)

func (s EntryStatus) Valid() bool {
	return s == StatusPending || s == StatusSuccess || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is allowed.
func (s EntryStatus) CanTransitionTo(next EntryStatus) bool {
	return s == StatusPending && (next == StatusSuccess || next == StatusFailed)
}

func (s EntryStatus) Value() (driver.Value, error) {
	return string(s), nil
}

func (s *EntryStatus) Scan(value interface{}) error {
	str, err := scanString(value, "EntryStatus")
	if err != nil {
		return err
	}
	*s = EntryStatus(str)
	if !s.Valid() {
		return fmt.Errorf("unknown EntryStatus value: %s", str)
	}
	return nil
}

func scanString(value interface{}, typeName string) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("failed to scan %s: value is not string or []byte, it is %T", typeName, value)
	}
}

// LedgerEntry is immutable except for Status (and UpdatedAt/BalanceAfter when a
// pending funding entry settles).
type LedgerEntry struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Kind         EntryKind        `json:"kind"`
	Amount       decimal.Decimal  `json:"amount"`
	Reference    *string          `json:"reference,omitempty"`
	Status       EntryStatus      `json:"status"`
	BalanceAfter *decimal.Decimal `json:"balance_after,omitempty"`
	Metadata     LedgerMetadata   `json:"metadata"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (e *LedgerEntry) ReferenceValue() string {
	if e.Reference == nil {
		return ""
	}
	return *e.Reference
}

// SignedAmount is Amount for credits and -Amount for debits.
func (e *LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Kind.IsCredit() {
		return e.Amount
	}
	return e.Amount.Neg()
}
