package core_domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewReference returns prefix + "-" + n uppercase hex characters, e.g. "FUND-3F9A0C11B2D4".
// n is capped at 32.
func NewReference(prefix string, n int) string {
	return prefix + "-" + randomHex(n)
}

// NewProviderSID returns a Twilio style identifier: a two letter prefix ("SM", "PN", "CA")
// followed by 32 uppercase hex characters.
func NewProviderSID(prefix string) string {
	return prefix + randomHex(32)
}

func randomHex(n int) string {
	if n > 32 {
		n = 32
	}
	h := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(h[:n])
}
