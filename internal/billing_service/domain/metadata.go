package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MetadataSchemaVersion is bumped whenever a field changes meaning. Readers must
// accept every version up to the current one.
const MetadataSchemaVersion = 1

// LedgerMetadata is the typed payload stored in ledger_entries.metadata (JSONB).
// Unset fields are omitted so older readers keep working.
type LedgerMetadata struct {
	SchemaVersion int    `json:"schema_version"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	NumberID      string `json:"number_id,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	ToNumber      string `json:"to_number,omitempty"`
	Segments      int    `json:"segments,omitempty"`
	ProviderID    string `json:"provider_id,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
	RefundOf      string `json:"refund_of,omitempty"`
	RelatedUserID string `json:"related_user_id,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	Note          string `json:"note,omitempty"`
}

func (m LedgerMetadata) Value() (driver.Value, error) {
	if m.SchemaVersion == 0 {
		m.SchemaVersion = MetadataSchemaVersion
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *LedgerMetadata) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = LedgerMetadata{SchemaVersion: MetadataSchemaVersion}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("failed to scan LedgerMetadata: unsupported type %T", value)
	}
	if len(raw) == 0 {
		*m = LedgerMetadata{SchemaVersion: MetadataSchemaVersion}
		return nil
	}
	if err := json.Unmarshal(raw, m); err != nil {
		return fmt.Errorf("failed to scan LedgerMetadata: %w", err)
	}
	if m.SchemaVersion > MetadataSchemaVersion {
		return fmt.Errorf("ledger metadata schema version %d is newer than supported %d", m.SchemaVersion, MetadataSchemaVersion)
	}
	return nil
}
