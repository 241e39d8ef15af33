package domain

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebhookEvent_ProviderEventID(t *testing.T) {
	tests := []struct {
		name   string
		typ    EventType
		form   url.Values
		want   string
		prefix string
	}{
		{"sms status uses MessageSid", EventSMSStatus, url.Values{"MessageSid": {"SM1"}, "CallSid": {"CA1"}}, "SM1", ""},
		{"voice uses CallSid", EventVoiceStatus, url.Values{"MessageSid": {"SM1"}, "CallSid": {"CA1"}}, "CA1", ""},
		{"inbound falls back to SmsSid", EventInboundSMS, url.Values{"SmsSid": {"SM2"}}, "SM2", ""},
		{"inbound fallback", EventInboundSMS, url.Values{}, "", "INBOUND-"},
		{"voice fallback", EventVoiceStatus, url.Values{}, "", "VOICE-"},
		{"status fallback", EventSMSStatus, url.Values{}, "", "WEBHOOK-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewWebhookEvent(tt.typ, tt.form)
			if tt.want != "" {
				assert.Equal(t, tt.want, ev.ProviderEventID)
				return
			}
			assert.Regexp(t, "^"+tt.prefix+"[0-9A-F]{16}$", ev.ProviderEventID)
		})
	}
}

func TestNewWebhookEvent_StorableValues(t *testing.T) {
	longSid := "SM" + strings.Repeat("A", 200)
	form := url.Values{
		"MessageSid": {longSid},
		"AccountSid": {"AC" + strings.Repeat("B", 100)},
		"Body":       {"hel\x00lo", "bad\xffbyte"},
		"Odd\x00Key": {"x"},
	}

	ev := NewWebhookEvent(EventInboundSMS, form)

	assert.LessOrEqual(t, len(ev.ProviderEventID), MaxIdentifierLength)
	assert.True(t, strings.HasPrefix(ev.ProviderEventID, "H-"))
	assert.Equal(t, ev.ProviderEventID, NewWebhookEvent(EventInboundSMS, form).ProviderEventID)
	assert.NotEqual(t, ev.ProviderEventID, NewWebhookEvent(EventInboundSMS, url.Values{"MessageSid": {longSid + "C"}}).ProviderEventID)
	assert.LessOrEqual(t, len(ev.AccountID), MaxIdentifierLength)

	assert.Equal(t, []string{"hello", "bad\uFFFDbyte"}, ev.Payload.Fields["Body"])
	assert.Equal(t, []string{"x"}, ev.Payload.Fields["OddKey"])

	v, err := ev.Payload.Value()
	require.NoError(t, err)
	assert.NotContains(t, v.(string), `\u0000`)
	assert.True(t, json.Valid([]byte(v.(string))))

	short := NewWebhookEvent(EventSMSStatus, url.Values{"MessageSid": {"SM123"}})
	assert.Equal(t, "SM123", short.ProviderEventID)
}

func TestWebhookPayload_RoundTrip(t *testing.T) {
	ev := NewWebhookEvent(EventInboundSMS, url.Values{"Body": {"hi", "there"}, "AccountSid": {"AC1"}})
	assert.Equal(t, "AC1", ev.AccountID)

	v, err := ev.Payload.Value()
	require.NoError(t, err)

	var back WebhookPayload
	require.NoError(t, back.Scan(v))
	assert.Equal(t, PayloadSchemaVersion, back.SchemaVersion)
	assert.Equal(t, []string{"hi", "there"}, back.Fields["Body"])
	assert.Equal(t, "hi", back.Get("Body"))

	assert.Error(t, back.Scan([]byte(`{"schema_version":99,"fields":{}}`)))
}

func TestWebhookEvent_Outcome(t *testing.T) {
	ev := NewWebhookEvent(EventSMSStatus, url.Values{"MessageSid": {"SM1"}})
	now := time.Now()

	ev.MarkFailed("message not found: SM1", now)
	assert.False(t, ev.Processed)
	require.NotNil(t, ev.ProcessingError)

	ev.MarkProcessed(now)
	assert.True(t, ev.Processed)
	assert.Nil(t, ev.ProcessingError)
}
