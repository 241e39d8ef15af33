package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/numberdrop/golang_services/internal/core_domain"
	"github.com/numberdrop/golang_services/internal/dashboard_api/middleware"
)

const maxJSONBody = 64 << 10

// GenericErrorResponse for API errors
type GenericErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// PageResponse wraps a listing with its total row count.
type PageResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func page[T any](items []T, total int) PageResponse[T] {
	if items == nil {
		items = []T{}
	}
	return PageResponse[T]{Items: items, Total: total}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write JSON response", "error", err)
	}
}

// writeError maps the domain error taxonomy to a status code. Unknown errors are
// logged and reported as 500 without their text.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *core_domain.ValidationError
	status := http.StatusInternalServerError
	resp := GenericErrorResponse{Error: "internal server error"}

	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp = GenericErrorResponse{Error: core_domain.ErrValidation.Error(), Fields: verr.Fields}
	case errors.Is(err, core_domain.ErrNotFound):
		status, resp.Error = http.StatusNotFound, core_domain.ErrNotFound.Error()
	case errors.Is(err, core_domain.ErrAccessDenied):
		status, resp.Error = http.StatusForbidden, core_domain.ErrAccessDenied.Error()
	case errors.Is(err, core_domain.ErrInsufficientBalance):
		status, resp.Error = http.StatusPaymentRequired, core_domain.ErrInsufficientBalance.Error()
	case errors.Is(err, core_domain.ErrInvalidState),
		errors.Is(err, core_domain.ErrDuplicateReference),
		errors.Is(err, core_domain.ErrDuplicateExternalID):
		status, resp.Error = http.StatusConflict, err.Error()
	case errors.Is(err, core_domain.ErrUpstreamUnavailable):
		status, resp.Error = http.StatusBadGateway, core_domain.ErrUpstreamUnavailable.Error()
	}

	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	} else {
		logger.InfoContext(r.Context(), "Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, logger, status, resp)
}

func writeMessage(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	writeJSON(w, logger, status, GenericErrorResponse{Error: msg})
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return core_domain.NewFieldError("body", "is not valid JSON: "+err.Error())
	}
	return nil
}

// currentUser writes 401 and returns false when the request carries no user.
func currentUser(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (middleware.AuthenticatedUser, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		logger.WarnContext(r.Context(), "User not authenticated")
		writeMessage(w, logger, http.StatusUnauthorized, "User not authenticated")
	}
	return user, ok
}

// pageParams reads limit and offset. Bounds are applied by the services.
func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	fields := map[string]string{}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			fields["limit"] = "must be an integer"
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			fields["offset"] = "must be an integer"
		}
	}
	if len(fields) > 0 {
		return 0, 0, core_domain.NewValidationError(fields)
	}
	return limit, offset, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, core_domain.NewFieldError(name, "must be true or false")
	}
	return b, nil
}

// pathID returns the {id} route parameter. Ids are UUIDs, so anything else cannot
// name a row and is answered with 404 without a query.
func pathID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, r, logger, core_domain.ErrNotFound)
		return "", false
	}
	return id, true
}

// uuidParam reads an optional UUID query parameter.
func uuidParam(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", nil
	}
	if _, err := uuid.Parse(v); err != nil {
		return "", core_domain.NewFieldError(name, "must be a UUID")
	}
	return v, nil
}
