package smsprovider

import (
	"context"
)

// SMSRequestData holds what a provider needs to send one message.
type SMSRequestData struct {
	InternalMessageID string // messages.id
	From              string
	To                string
	Body              string
	StatusCallbackURL string // optional
}

// SMSResponseData is the outcome of a send attempt accepted by the provider.
type SMSResponseData struct {
	ProviderMessageID string
	Status            string // provider status, lower-cased
	ProviderName      string
}

// Adapter is implemented by every SMS provider. Send returns an error when the
// provider did not accept the message.
type Adapter interface {
	Send(ctx context.Context, request SMSRequestData) (*SMSResponseData, error)
	GetName() string
}
