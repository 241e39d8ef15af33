package domain

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/numberdrop/golang_services/internal/core_domain"
)

type EventType string

const (
	EventSMSStatus   EventType = "sms_status_update"
	EventInboundSMS  EventType = "inbound_sms"
	EventVoiceStatus EventType = "voice_status_update"
)

func (t EventType) Valid() bool {
	return t == EventSMSStatus || t == EventInboundSMS || t == EventVoiceStatus
}

// fallbackPrefix names events that arrive without a provider sid.
func (t EventType) fallbackPrefix() string {
	switch t {
	case EventInboundSMS:
		return "INBOUND"
	case EventVoiceStatus:
		return "VOICE"
	default:
		return "WEBHOOK"
	}
}

const PayloadSchemaVersion = 1

// WebhookPayload is the form body exactly as received, stored as JSONB.
type WebhookPayload struct {
	SchemaVersion int                 `json:"schema_version"`
	Fields        map[string][]string `json:"fields"`
}

// Get returns the first value of key, or "".
func (p WebhookPayload) Get(key string) string {
	return url.Values(p.Fields).Get(key)
}

func (p WebhookPayload) Value() (driver.Value, error) {
	if p.SchemaVersion == 0 {
		p.SchemaVersion = PayloadSchemaVersion
	}
	if p.Fields == nil {
		p.Fields = map[string][]string{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *WebhookPayload) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*p = WebhookPayload{SchemaVersion: PayloadSchemaVersion}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("failed to scan WebhookPayload: unsupported type %T", value)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("failed to scan WebhookPayload: %w", err)
	}
	if p.SchemaVersion > PayloadSchemaVersion {
		return fmt.Errorf("webhook payload schema version %d is newer than supported %d", p.SchemaVersion, PayloadSchemaVersion)
	}
	return nil
}

// WebhookEvent is the audit record of one provider callback delivery. Every
// delivery gets its own row, retries included.
type WebhookEvent struct {
	ID              string         `json:"id"`
	ProviderEventID string         `json:"provider_event_id"`
	EventType       EventType      `json:"event_type"`
	AccountID       string         `json:"account_id"`
	Payload         WebhookPayload `json:"payload"`
	Processed       bool           `json:"processed"`
	ProcessingError *string        `json:"processing_error,omitempty"`
	ReceivedAt      time.Time      `json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
}

// MaxIdentifierLength is the width of the provider_event_id and account_id columns.
const MaxIdentifierLength = 64

// NewWebhookEvent records form as received, minus NUL bytes and invalid UTF-8,
// which Postgres text and jsonb columns reject. The provider event id is the
// MessageSid or CallSid, or a generated fallback when neither is present.
func NewWebhookEvent(t EventType, form url.Values) *WebhookEvent {
	fields := make(map[string][]string, len(form))
	for k, v := range form {
		vals := make([]string, len(v))
		for i := range v {
			vals[i] = storable(v[i])
		}
		k = storable(k)
		fields[k] = append(fields[k], vals...)
	}
	payload := WebhookPayload{SchemaVersion: PayloadSchemaVersion, Fields: fields}

	sid := payload.Get("MessageSid")
	if t == EventVoiceStatus {
		sid = payload.Get("CallSid")
	}
	if sid == "" {
		sid = payload.Get("SmsSid")
	}
	if sid == "" {
		sid = core_domain.NewReference(t.fallbackPrefix(), 16)
	}
	return &WebhookEvent{
		ID:              uuid.NewString(),
		ProviderEventID: boundedIdentifier(sid),
		EventType:       t,
		AccountID:       boundedIdentifier(payload.Get("AccountSid")),
		Payload:         payload,
		ReceivedAt:      time.Now().UTC(),
	}
}

func storable(s string) string {
	return strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
}

// boundedIdentifier replaces values wider than their column by "H-" and a hex digest,
// so distinct oversized ids stay distinct.
func boundedIdentifier(s string) string {
	if len(s) <= MaxIdentifierLength {
		return s
	}
	sum := sha256.Sum256([]byte(s))
	return "H-" + hex.EncodeToString(sum[:])[:MaxIdentifierLength-2]
}

func (e *WebhookEvent) MarkProcessed(now time.Time) {
	e.Processed, e.ProcessingError, e.ProcessedAt = true, nil, &now
}

// MarkFailed records why the event could not be applied. It stays unprocessed.
func (e *WebhookEvent) MarkFailed(reason string, now time.Time) {
	e.Processed, e.ProcessingError, e.ProcessedAt = false, &reason, &now
}
