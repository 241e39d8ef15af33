package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/numberdrop/golang_services/internal/core_domain"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, MapError(nil, "wallet", "u1"))

	err := MapError(pgx.ErrNoRows, "wallet", "u1")
	assert.ErrorIs(t, err, core_domain.ErrNotFound)
	assert.Contains(t, err.Error(), "wallet u1")

	err = MapError(&pgconn.PgError{Code: "23505", ConstraintName: "ledger_entries_reference_key"}, "ledger entry", "SMS-1")
	assert.ErrorIs(t, err, ErrDuplicate)

	err = MapError(&pgconn.PgError{Code: "23503"}, "owned number", "n1")
	assert.ErrorIs(t, err, core_domain.ErrNotFound)

	err = MapError(&pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"}, "owned number", "abc")
	assert.ErrorIs(t, err, core_domain.ErrNotFound)

	err = MapError(&pgconn.PgError{Code: "23514", ConstraintName: "wallets_balance_check"}, "wallet", "u1")
	assert.ErrorIs(t, err, core_domain.ErrValidation)

	err = MapError(fmt.Errorf("query: %w", context.DeadlineExceeded), "wallet", "u1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other := errors.New("connection reset")
	assert.ErrorIs(t, MapError(other, "wallet", "u1"), other)
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "messages_provider_id_key"})

	assert.True(t, IsUniqueViolation(dup, ""))
	assert.True(t, IsUniqueViolation(dup, "messages_provider_id_key"))
	assert.False(t, IsUniqueViolation(dup, "calls_provider_id_key"))
	assert.False(t, IsUniqueViolation(errors.New("x"), ""))
}
