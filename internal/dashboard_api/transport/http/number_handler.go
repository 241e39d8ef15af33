package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	billingdomain "github.com/numberdrop/golang_services/internal/billing_service/domain"
	"github.com/numberdrop/golang_services/internal/core_domain"
	msgapp "github.com/numberdrop/golang_services/internal/messaging_service/app"
	msgdomain "github.com/numberdrop/golang_services/internal/messaging_service/domain"
	numberapp "github.com/numberdrop/golang_services/internal/number_service/app"
	numberdomain "github.com/numberdrop/golang_services/internal/number_service/domain"
	numberrepo "github.com/numberdrop/golang_services/internal/number_service/repository"
	"github.com/shopspring/decimal"
)

type PurchaseResponse struct {
	Number   *numberdomain.OwnedNumber  `json:"number"`
	Entry    *billingdomain.LedgerEntry `json:"transaction"`
	Balance  string                     `json:"balance"`
	Replayed bool                       `json:"replayed"`
}

// UpdateNumberRequest is a partial update; omitted fields are left unchanged.
type UpdateNumberRequest struct {
	FriendlyName *string                   `json:"friendly_name"`
	AutoRenew    *bool                     `json:"auto_renew"`
	Status       *numberdomain.OwnedStatus `json:"status"`
}

type SendSMSRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type SendSMSResponse struct {
	Message  *msgdomain.MessageRecord   `json:"message"`
	Entry    *billingdomain.LedgerEntry `json:"transaction"`
	Balance  string                     `json:"balance"`
	Replayed bool                       `json:"replayed"`
}

type NumberHandler struct {
	numbers   NumberAPI
	purchases PurchaseAPI
	messaging MessagingAPI
	logger    *slog.Logger
}

func NewNumberHandler(numbers NumberAPI, purchases PurchaseAPI, messaging MessagingAPI, logger *slog.Logger) *NumberHandler {
	return &NumberHandler{
		numbers:   numbers,
		purchases: purchases,
		messaging: messaging,
		logger:    logger.With("handler", "number"),
	}
}

// RegisterRoutes registers marketplace and owned number routes.
func (h *NumberHandler) RegisterRoutes(r chi.Router) {
	r.Get("/marketplace/numbers", h.handleSearch)
	r.Get("/marketplace/numbers/{id}", h.handleGetCatalogNumber)
	r.Post("/marketplace/numbers/{id}/purchase", h.handlePurchase)

	r.Get("/numbers", h.handleListOwned)
	r.Get("/numbers/{id}", h.handleGetOwned)
	r.Patch("/numbers/{id}", h.handleUpdateOwned)
	r.Post("/numbers/{id}/cancel", h.handleCancel)
	r.Post("/numbers/{id}/sms", h.handleSendSMS)
}

func (h *NumberHandler) reqLogger(r *http.Request) *slog.Logger {
	return h.logger.With("request_id", chi_middleware.GetReqID(r.Context()))
}

func (h *NumberHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	f, err := catalogFilter(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	items, total, err := h.numbers.SearchCatalog(r.Context(), f)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, page(items, total))
}

func catalogFilter(r *http.Request) (numberrepo.CatalogFilter, error) {
	q := r.URL.Query()
	f := numberrepo.CatalogFilter{Country: q.Get("country"), Locality: q.Get("locality")}
	fields := map[string]string{}

	var err error
	if f.SupportsSMS, err = boolParam(r, "sms"); err != nil {
		fields["sms"] = "must be true or false"
	}
	if f.SupportsVoice, err = boolParam(r, "voice"); err != nil {
		fields["voice"] = "must be true or false"
	}
	if f.FeaturedOnly, err = boolParam(r, "featured"); err != nil {
		fields["featured"] = "must be true or false"
	}
	for name, dst := range map[string]**decimal.Decimal{"price_min": &f.PriceMin, "price_max": &f.PriceMax} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		d, perr := decimal.NewFromString(v)
		if perr != nil || d.IsNegative() {
			fields[name] = "must be a non-negative amount"
			continue
		}
		*dst = &d
	}
	if f.Limit, f.Offset, err = pageParams(r); err != nil {
		return f, err
	}
	if len(fields) > 0 {
		return f, core_domain.NewValidationError(fields)
	}
	return f, nil
}

func (h *NumberHandler) handleGetCatalogNumber(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	id, ok := pathID(w, r, logger)
	if !ok {
		return
	}
	n, err := h.numbers.GetCatalogNumber(r.Context(), id)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, n)
}

func (h *NumberHandler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	id, ok := pathID(w, r, logger)
	if !ok {
		return
	}
	res, err := h.purchases.Purchase(r.Context(), numberapp.PurchaseRequest{
		UserID:    user.ID,
		NumberID:  id,
		Reference: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, replayStatus(res.Replayed), PurchaseResponse{
		Number:   res.Number,
		Entry:    res.Entry,
		Balance:  res.Balance.StringFixed(2),
		Replayed: res.Replayed,
	})
}

func (h *NumberHandler) handleListOwned(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	items, err := h.numbers.ListOwned(r.Context(), user.ID, numberdomain.OwnedStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, page(items, len(items)))
}

func (h *NumberHandler) handleGetOwned(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	id, ok := pathID(w, r, logger)
	if !ok {
		return
	}
	n, err := h.numbers.GetOwned(r.Context(), user.ID, id)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, n)
}

func (h *NumberHandler) handleUpdateOwned(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	id, ok := pathID(w, r, logger)
	if !ok {
		return
	}
	var req UpdateNumberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, logger, err)
		return
	}
	n, err := h.numbers.UpdateOwned(r.Context(), user.ID, id, numberapp.UpdateNumberRequest{
		FriendlyName: req.FriendlyName,
		AutoRenew:    req.AutoRenew,
		Status:       req.Status,
	})
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, n)
}

func (h *NumberHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	id, ok := pathID(w, r, logger)
	if !ok {
		return
	}
	n, err := h.numbers.Cancel(r.Context(), user.ID, id)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, n)
}

func (h *NumberHandler) handleSendSMS(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	id, ok := pathID(w, r, logger)
	if !ok {
		return
	}
	var req SendSMSRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, logger, err)
		return
	}
	res, err := h.messaging.SendSMS(r.Context(), msgapp.SendSMSRequest{
		UserID:    user.ID,
		NumberID:  id,
		To:        req.To,
		Body:      req.Body,
		Reference: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, replayStatus(res.Replayed), SendSMSResponse{
		Message:  res.Message,
		Entry:    res.Entry,
		Balance:  res.Balance.StringFixed(2),
		Replayed: res.Replayed,
	})
}
