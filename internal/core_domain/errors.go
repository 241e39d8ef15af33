package core_domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrNotFound indicates that a requested wallet, number or record does not exist
	// (or is not visible to the requesting user).
	ErrNotFound = errors.New("resource not found")
	// ErrInsufficientBalance indicates the wallet cannot cover the requested debit.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateReference indicates a ledger reference that was already applied.
	ErrDuplicateReference = errors.New("duplicate reference")
	// ErrDuplicateExternalID indicates a provider identifier that is already recorded.
	ErrDuplicateExternalID = errors.New("duplicate external id")
	// ErrUpstreamUnavailable indicates the telephony provider could not be reached
	// or rejected the request.
	ErrUpstreamUnavailable = errors.New("upstream provider unavailable")
	// ErrInvalidState indicates the target is not in a state that allows the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrAccessDenied indicates the caller may not perform the operation.
	ErrAccessDenied = errors.New("access denied")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError carries field-level messages for malformed input.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(fields map[string]string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// NewFieldError is a shortcut for a single offending field.
func NewFieldError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// FromValidator converts validator.ValidationErrors into a *ValidationError keyed by
// the JSON name of each field. Other errors are returned unchanged.
func FromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describeTag(fe)
	}
	return NewValidationError(fields)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "e164":
		return "must be an E.164 phone number"
	case "uuid", "uuid4":
		return "must be a UUID"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
