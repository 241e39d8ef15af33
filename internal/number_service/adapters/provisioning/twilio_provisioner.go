package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/numberdrop/golang_services/internal/platform/twilio"
)

// TwilioProvisioner buys numbers through the IncomingPhoneNumbers resource.
type TwilioProvisioner struct {
	client         *twilio.Client
	webhookBaseURL string
	logger         *slog.Logger
}

func NewTwilioProvisioner(client *twilio.Client, webhookBaseURL string, logger *slog.Logger) *TwilioProvisioner {
	return &TwilioProvisioner{
		client:         client,
		webhookBaseURL: webhookBaseURL,
		logger:         logger.With("provisioner", "twilio"),
	}
}

func (p *TwilioProvisioner) GetName() string { return "twilio" }

type incomingPhoneNumber struct {
	Sid         string `json:"sid"`
	PhoneNumber string `json:"phone_number"`
}

func (p *TwilioProvisioner) Provision(ctx context.Context, phone string) (string, error) {
	form := url.Values{"PhoneNumber": {phone}}
	if p.webhookBaseURL != "" {
		form.Set("SmsUrl", p.webhookBaseURL+"/webhooks/twilio/inbound-sms")
		form.Set("SmsMethod", "POST")
		form.Set("StatusCallback", p.webhookBaseURL+"/webhooks/twilio/voice-status")
		form.Set("StatusCallbackMethod", "POST")
	}

	var out incomingPhoneNumber
	if err := p.client.PostForm(ctx, "IncomingPhoneNumbers.json", form, &out); err != nil {
		p.logger.WarnContext(ctx, "Twilio provisioning failed", "phone_number", phone, "error", err)
		return "", fmt.Errorf("provision %s: %w", phone, err)
	}
	if out.Sid == "" {
		return "", fmt.Errorf("provision %s: empty sid in response", phone)
	}
	p.logger.InfoContext(ctx, "Number provisioned", "phone_number", phone, "provider_id", out.Sid)
	return out.Sid, nil
}

func (p *TwilioProvisioner) Release(ctx context.Context, providerID string) error {
	if err := p.client.Delete(ctx, "IncomingPhoneNumbers/"+url.PathEscape(providerID)+".json"); err != nil {
		return fmt.Errorf("release %s: %w", providerID, err)
	}
	p.logger.InfoContext(ctx, "Number released", "provider_id", providerID)
	return nil
}
