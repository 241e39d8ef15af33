package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/numberdrop/golang_services/internal/platform/twilio"
	"github.com/numberdrop/golang_services/internal/webhook_service/domain"
)

const MaxRequestBodySize = 1 << 20 // 1 MiB

// EventIngester is the part of the ingestor the handler needs.
type EventIngester interface {
	Ingest(ctx context.Context, eventType domain.EventType, form url.Values) (*domain.WebhookEvent, error)
}

type WebhookHandler struct {
	ingester          EventIngester
	authToken         string
	validateSignature bool
	publicBaseURL     string
	logger            *slog.Logger
}

// NewWebhookHandler serves provider callbacks. When validateSignature is set every
// request must carry a valid X-Twilio-Signature computed over publicBaseURL plus the
// request path; with an empty publicBaseURL the URL is rebuilt from the request.
func NewWebhookHandler(ingester EventIngester, authToken string, validateSignature bool, publicBaseURL string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingester:          ingester,
		authToken:         authToken,
		validateSignature: validateSignature,
		publicBaseURL:     strings.TrimRight(publicBaseURL, "/"),
		logger:            logger.With("handler", "webhook"),
	}
}

// Routes mounts under /webhooks/twilio.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/sms-status", h.handle(domain.EventSMSStatus))
	r.Post("/inbound-sms", h.handle(domain.EventInboundSMS))
	r.Post("/voice-status", h.handle(domain.EventVoiceStatus))
	return r
}

func (h *WebhookHandler) handle(eventType domain.EventType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "event_type", eventType)

		r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				logger.WarnContext(ctx, "Webhook body too large", "limit", tooLarge.Limit)
				http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			logger.ErrorContext(ctx, "Failed to read webhook request body", "error", err)
			http.Error(w, "Error reading request body", http.StatusBadRequest)
			return
		}

		form, err := url.ParseQuery(string(raw))
		if err != nil {
			logger.WarnContext(ctx, "Malformed webhook form", "error", err)
			http.Error(w, "Malformed form body", http.StatusBadRequest)
			return
		}

		if h.validateSignature {
			signature := r.Header.Get("X-Twilio-Signature")
			if !twilio.ValidSignature(h.authToken, h.requestURL(r), form, signature) {
				logger.WarnContext(ctx, "Webhook signature rejected", "signature_present", signature != "")
				http.Error(w, "Invalid signature", http.StatusForbidden)
				return
			}
		}

		ev, err := h.ingester.Ingest(ctx, eventType, form)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to persist webhook", "error", err)
			http.Error(w, "Internal server error processing webhook", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Webhook received successfully")); err != nil {
			logger.WarnContext(ctx, "Failed to write webhook success response", "error", err)
		}
		logger.InfoContext(ctx, "Webhook received",
			"webhook_event_id", ev.ID, "provider_event_id", ev.ProviderEventID, "processed", ev.Processed)
	}
}

func (h *WebhookHandler) requestURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
