package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	msgdomain "github.com/numberdrop/golang_services/internal/messaging_service/domain"
	msgrepo "github.com/numberdrop/golang_services/internal/messaging_service/repository"
	notifdomain "github.com/numberdrop/golang_services/internal/notification_service/domain"
	notifrepo "github.com/numberdrop/golang_services/internal/notification_service/repository"
	"golang.org/x/sync/errgroup"
)

type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

type StatsResponse struct {
	WalletBalance       string `json:"wallet_balance"`
	ActiveNumbers       int    `json:"active_numbers"`
	TotalSMS            int    `json:"total_sms"`
	TotalCalls          int    `json:"total_calls"`
	UnreadNotifications int    `json:"unread_notifications"`
	PendingTransactions int    `json:"pending_transactions"`
}

// ActivityHandler serves the message and call logs, the notification feed and the
// dashboard summary.
type ActivityHandler struct {
	wallet        WalletAPI
	numbers       NumberAPI
	messaging     MessagingAPI
	notifications NotificationAPI
	logger        *slog.Logger
}

func NewActivityHandler(wallet WalletAPI, numbers NumberAPI, messaging MessagingAPI, notifications NotificationAPI, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{
		wallet:        wallet,
		numbers:       numbers,
		messaging:     messaging,
		notifications: notifications,
		logger:        logger.With("handler", "activity"),
	}
}

func (h *ActivityHandler) RegisterRoutes(r chi.Router) {
	r.Get("/messages", h.handleListMessages)
	r.Get("/messages/{id}", h.handleGetMessage)
	r.Get("/calls", h.handleListCalls)

	r.Get("/notifications", h.handleListNotifications)
	r.Post("/notifications/read-all", h.handleMarkAllRead)
	r.Post("/notifications/{id}/read", h.handleMarkRead)

	r.Get("/dashboard/stats", h.handleStats)
}

func (h *ActivityHandler) reqLogger(r *http.Request) *slog.Logger {
	return h.logger.With("request_id", chi_middleware.GetReqID(r.Context()))
}

func (h *ActivityHandler) handleListMessages(w http.ResponseWriter, r *http.Request) {
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
	numberID, err := uuidParam(r, "number_id")
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	q := r.URL.Query()
	items, total, err := h.messaging.ListMessages(r.Context(), user.ID, msgrepo.MessageFilter{
		NumberID:  numberID,
		Direction: msgdomain.Direction(q.Get("direction")),
		Status:    q.Get("status"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, page(items, total))
}

func (h *ActivityHandler) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	id, ok := pathID(w, r, logger)
	if !ok {
		return
	}
	msg, err := h.messaging.GetMessage(r.Context(), user.ID, id)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, msg)
}

func (h *ActivityHandler) handleListCalls(w http.ResponseWriter, r *http.Request) {
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
	numberID, err := uuidParam(r, "number_id")
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	q := r.URL.Query()
	items, total, err := h.messaging.ListCalls(r.Context(), user.ID, msgrepo.CallFilter{
		NumberID:  numberID,
		Direction: msgdomain.Direction(q.Get("direction")),
		Status:    q.Get("status"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, page(items, total))
}

func (h *ActivityHandler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
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
	f := notifrepo.NotificationFilter{
		Type:   notifdomain.NotificationType(r.URL.Query().Get("type")),
		Limit:  limit,
		Offset: offset,
	}
	if r.URL.Query().Get("unread") != "" {
		unread, err := boolParam(r, "unread")
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		f.Unread = &unread
	}
	items, total, err := h.notifications.List(r.Context(), user.ID, f)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, page(items, total))
}

func (h *ActivityHandler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	id, ok := pathID(w, r, logger)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(r.Context(), user.ID, id); err != nil {
		writeError(w, r, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ActivityHandler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}
	n, err := h.notifications.MarkAllRead(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, MarkAllReadResponse{Updated: n})
}

// handleStats gathers the summary counters concurrently.
func (h *ActivityHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	user, ok := currentUser(w, r, logger)
	if !ok {
		return
	}

	var stats StatsResponse
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		wallet, err := h.wallet.Balance(ctx, user.ID)
		if err != nil {
			return err
		}
		stats.WalletBalance = wallet.Balance.StringFixed(2)
		return nil
	})
	g.Go(func() (err error) {
		stats.ActiveNumbers, err = h.numbers.CountActive(ctx, user.ID)
		return err
	})
	g.Go(func() (err error) {
		stats.TotalSMS, stats.TotalCalls, err = h.messaging.Counts(ctx, user.ID)
		return err
	})
	g.Go(func() (err error) {
		stats.UnreadNotifications, err = h.notifications.UnreadCount(ctx, user.ID)
		return err
	})
	g.Go(func() (err error) {
		stats.PendingTransactions, err = h.wallet.PendingCount(ctx, user.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, r, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, stats)
}
