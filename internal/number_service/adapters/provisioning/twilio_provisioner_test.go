package provisioning

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/numberdrop/golang_services/internal/platform/twilio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwilioProvisioner_ProvisionAndRelease(t *testing.T) {
	var released string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "/2010-04-01/Accounts/AC1/IncomingPhoneNumbers.json", r.URL.Path)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "+15550001111", r.PostForm.Get("PhoneNumber"))
			assert.Equal(t, "https://dash.example/webhooks/twilio/inbound-sms", r.PostForm.Get("SmsUrl"))
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"sid":"PN0001","phone_number":"+15550001111"}`)
		case http.MethodDelete:
			released = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewTwilioProvisioner(twilio.NewClient(server.URL, "AC1", "tok", server.Client(), logger), "https://dash.example", logger)

	sid, err := p.Provision(context.Background(), "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, "PN0001", sid)

	require.NoError(t, p.Release(context.Background(), sid))
	assert.Equal(t, "/2010-04-01/Accounts/AC1/IncomingPhoneNumbers/PN0001.json", released)
}

func TestTwilioProvisioner_ProviderRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":21422,"message":"PhoneNumber is not available"}`)
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewTwilioProvisioner(twilio.NewClient(server.URL, "AC1", "tok", server.Client(), logger), "", logger)

	_, err := p.Provision(context.Background(), "+15550001111")
	assert.True(t, twilio.IsClientError(err))
}

func TestMockProvisioner(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sid, err := NewMockProvisioner(logger, 0, 0).Provision(context.Background(), "+15550001111")
	require.NoError(t, err)
	assert.Regexp(t, `^PN[0-9A-F]{32}$`, sid)

	_, err = NewMockProvisioner(logger, 1, 0).Provision(context.Background(), "+15550001111")
	assert.ErrorIs(t, err, ErrSimulatedFailure)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewMockProvisioner(logger, 0, time.Second).Provision(ctx, "+15550001111")
	assert.ErrorIs(t, err, context.Canceled)
}
