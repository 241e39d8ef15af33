package http_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/numberdrop/golang_services/internal/platform/twilio"
	adapter_http "github.com/numberdrop/golang_services/internal/webhook_service/adapters/http"
	"github.com/numberdrop/golang_services/internal/webhook_service/domain"
)

type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) Ingest(ctx context.Context, eventType domain.EventType, form url.Values) (*domain.WebhookEvent, error) {
	args := m.Called(ctx, eventType, form)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WebhookEvent), args.Error(1)
}

const testToken = "auth-token"

func newRouter(ing *MockIngester, validate bool, baseURL string) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Mount("/webhooks/twilio", adapter_http.NewWebhookHandler(ing, testToken, validate, baseURL, logger).Routes())
	return r
}

func formRequest(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestWebhookHandler_Routes(t *testing.T) {
	tests := []struct {
		path string
		typ  domain.EventType
	}{
		{"/webhooks/twilio/sms-status", domain.EventSMSStatus},
		{"/webhooks/twilio/inbound-sms", domain.EventInboundSMS},
		{"/webhooks/twilio/voice-status", domain.EventVoiceStatus},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			ing := new(MockIngester)
			form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
			ing.On("Ingest", mock.Anything, tt.typ, form).Return(domain.NewWebhookEvent(tt.typ, form), nil).Once()

			rr := httptest.NewRecorder()
			newRouter(ing, false, "").ServeHTTP(rr, formRequest(tt.path, form))

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "Webhook received successfully", rr.Body.String())
			ing.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_ProcessingErrorStillAcknowledged(t *testing.T) {
	ing := new(MockIngester)
	form := url.Values{"MessageSid": {"SMX"}}
	ev := domain.NewWebhookEvent(domain.EventSMSStatus, form)
	ev.MarkFailed("message not found: SMX", ev.ReceivedAt)
	ing.On("Ingest", mock.Anything, domain.EventSMSStatus, form).Return(ev, nil)

	rr := httptest.NewRecorder()
	newRouter(ing, false, "").ServeHTTP(rr, formRequest("/webhooks/twilio/sms-status", form))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWebhookHandler_PersistFailureIs500(t *testing.T) {
	ing := new(MockIngester)
	ing.On("Ingest", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("persist webhook event: db down"))

	rr := httptest.NewRecorder()
	newRouter(ing, false, "").ServeHTTP(rr, formRequest("/webhooks/twilio/inbound-sms", url.Values{"MessageSid": {"SM1"}}))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestWebhookHandler_BodyTooLarge(t *testing.T) {
	ing := new(MockIngester)
	large := bytes.Repeat([]byte("a"), adapter_http.MaxRequestBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/sms-status", bytes.NewReader(large))

	rr := httptest.NewRecorder()
	newRouter(ing, false, "").ServeHTTP(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	ing.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookHandler_MalformedForm(t *testing.T) {
	ing := new(MockIngester)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/sms-status", strings.NewReader("a=%zz"))

	rr := httptest.NewRecorder()
	newRouter(ing, false, "").ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	ing.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookHandler_Signature(t *testing.T) {
	const base = "https://hooks.example.com"
	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"sent"}}

	t.Run("valid", func(t *testing.T) {
		ing := new(MockIngester)
		ing.On("Ingest", mock.Anything, domain.EventSMSStatus, form).Return(domain.NewWebhookEvent(domain.EventSMSStatus, form), nil)
		req := formRequest("/webhooks/twilio/sms-status", form)
		req.Header.Set("X-Twilio-Signature", twilio.Signature(testToken, base+"/webhooks/twilio/sms-status", form))

		rr := httptest.NewRecorder()
		newRouter(ing, true, base+"/").ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("rebuilt from host", func(t *testing.T) {
		ing := new(MockIngester)
		ing.On("Ingest", mock.Anything, domain.EventSMSStatus, form).Return(domain.NewWebhookEvent(domain.EventSMSStatus, form), nil)
		req := formRequest("/webhooks/twilio/sms-status", form)
		req.Header.Set("X-Twilio-Signature", twilio.Signature(testToken, "http://example.com/webhooks/twilio/sms-status", form))

		rr := httptest.NewRecorder()
		newRouter(ing, true, "").ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("mismatch is rejected before persisting", func(t *testing.T) {
		ing := new(MockIngester)
		req := formRequest("/webhooks/twilio/sms-status", form)
		req.Header.Set("X-Twilio-Signature", "bogus")

		rr := httptest.NewRecorder()
		newRouter(ing, true, base).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		ing.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything)
	})
}
