package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	billingapp "github.com/numberdrop/golang_services/internal/billing_service/app"
	billingdomain "github.com/numberdrop/golang_services/internal/billing_service/domain"
	billingrepo "github.com/numberdrop/golang_services/internal/billing_service/repository"
	"github.com/shopspring/decimal"
)

type WalletResponse struct {
	Balance   string    `json:"balance"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PostingResponse is returned by every endpoint that moves money.
type PostingResponse struct {
	Entry    *billingdomain.LedgerEntry `json:"transaction"`
	Balance  string                     `json:"balance"`
	Replayed bool                       `json:"replayed"`
}

type FundRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
}

type FailFundingRequest struct {
	Reason string `json:"reason"`
}

type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type CommissionRequest struct {
	ReferrerID     string          `json:"referrer_id"`
	ReferredUserID string          `json:"referred_user_id"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	Reference      string          `json:"reference"`
}

type WalletHandler struct {
	wallet WalletAPI
	logger *slog.Logger
}

func NewWalletHandler(wallet WalletAPI, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallet: wallet, logger: logger.With("handler", "wallet")}
}

// RegisterRoutes registers the user wallet routes.
func (h *WalletHandler) RegisterRoutes(r chi.Router) {
	r.Get("/wallet", h.handleGetWallet)
	r.Get("/wallet/transactions", h.handleListTransactions)
	r.Post("/wallet/fund", h.handleFund)
	r.Post("/wallet/withdraw", h.handleWithdraw)
}

// RegisterAdminRoutes registers routes that settle payments and pay commissions.
func (h *WalletHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/wallet/fund/{reference}/confirm", h.handleConfirmFunding)
	r.Post("/wallet/fund/{reference}/fail", h.handleFailFunding)
	r.Post("/referrals/commission", h.handleCommission)
}

func (h *WalletHandler) reqLogger(r *http.Request) *slog.Logger {
	return h.logger.With("request_id", chi_middleware.GetReqID(r.Context()))
}

func (h *WalletHandler) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	wallet, err := h.wallet.Balance(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, WalletResponse{
		Balance:   wallet.Balance.StringFixed(2),
		Currency:  wallet.Currency,
		UpdatedAt: wallet.UpdatedAt,
	})
}

func (h *WalletHandler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	q := r.URL.Query()
	items, total, err := h.wallet.ListEntries(r.Context(), user.ID, billingrepo.LedgerFilter{
		Kind:   billingdomain.EntryKind(q.Get("kind")),
		Status: billingdomain.EntryStatus(q.Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, page(items, total))
}

func (h *WalletHandler) handleFund(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	var req FundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, logger, err)
		return
	}
	posting, err := h.wallet.FundWallet(r.Context(), user.ID, req.Amount, req.PaymentMethod)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusCreated, postingResponse(posting))
}

func (h *WalletHandler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	var req WithdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, logger, err)
		return
	}
	posting, err := h.wallet.Withdraw(r.Context(), user.ID, req.Amount, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, replayStatus(posting.Replayed), postingResponse(posting))
}

func (h *WalletHandler) handleConfirmFunding(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	posting, err := h.wallet.ConfirmFunding(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, postingResponse(posting))
}

func (h *WalletHandler) handleFailFunding(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	var req FailFundingRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, logger, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "payment failed"
	}
	entry, err := h.wallet.FailFunding(r.Context(), chi.URLParam(r, "reference"), req.Reason)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, entry)
}

func (h *WalletHandler) handleCommission(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	var req CommissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, logger, err)
		return
	}
	posting, err := h.wallet.PayCommission(r.Context(), billingapp.CommissionRequest{
		ReferrerID:     req.ReferrerID,
		ReferredUserID: req.ReferredUserID,
		BaseAmount:     req.BaseAmount,
		Reference:      req.Reference,
	})
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, replayStatus(posting.Replayed), postingResponse(posting))
}

func postingResponse(p *billingapp.Posting) PostingResponse {
	return PostingResponse{Entry: p.Entry, Balance: p.Balance.StringFixed(2), Replayed: p.Replayed}
}

// replayStatus is 200 for a replayed reference and 201 for a new posting.
func replayStatus(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}
