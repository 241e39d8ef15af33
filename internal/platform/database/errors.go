package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/numberdrop/golang_services/internal/core_domain"
)

// ErrDuplicate is returned for unique constraint violations (SQLSTATE 23505).
var ErrDuplicate = errors.New("duplicate entry")

// MapError translates pgx errors into the shared domain taxonomy.
// entity and key only decorate the message.
func MapError(err error, entity, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", entity, key, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, key, core_domain.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s %s (%s): %w", entity, key, pgErr.ConstraintName, ErrDuplicate)
		case "23503":
			return fmt.Errorf("%s %s: %w", entity, key, core_domain.ErrNotFound)
		case "22P02":
			// Malformed input for a typed column such as UUID cannot match any row.
			return fmt.Errorf("%s %s: %w", entity, key, core_domain.ErrNotFound)
		case "23514":
			return fmt.Errorf("%s %s: %w", entity, key, core_domain.NewFieldError(pgErr.ConstraintName, "violates check constraint"))
		}
	}
	return fmt.Errorf("%s %s: %w", entity, key, err)
}

// IsUniqueViolation reports whether err is a unique violation on the named constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
