package smsprovider

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/numberdrop/golang_services/internal/platform/twilio"
)

// TwilioProvider sends through the Messages resource of the Twilio REST API.
type TwilioProvider struct {
	client *twilio.Client
	logger *slog.Logger
}

func NewTwilioProvider(client *twilio.Client, logger *slog.Logger) *TwilioProvider {
	return &TwilioProvider{client: client, logger: logger.With("provider", "twilio")}
}

func (p *TwilioProvider) GetName() string {
	return "twilio"
}

type twilioMessage struct {
	Sid          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

func (p *TwilioProvider) Send(ctx context.Context, request SMSRequestData) (*SMSResponseData, error) {
	form := url.Values{
		"From": {request.From},
		"To":   {request.To},
		"Body": {request.Body},
	}
	if request.StatusCallbackURL != "" {
		form.Set("StatusCallback", request.StatusCallbackURL)
	}

	var out twilioMessage
	if err := p.client.PostForm(ctx, "Messages.json", form, &out); err != nil {
		p.logger.WarnContext(ctx, "Twilio send failed", "message_id", request.InternalMessageID, "error", err)
		return nil, fmt.Errorf("send to %s: %w", request.To, err)
	}
	if out.Sid == "" {
		return nil, fmt.Errorf("send to %s: empty sid in response", request.To)
	}
	if out.ErrorMessage != nil && *out.ErrorMessage != "" {
		return nil, fmt.Errorf("send to %s: %s", request.To, *out.ErrorMessage)
	}

	p.logger.InfoContext(ctx, "SMS accepted by Twilio",
		"message_id", request.InternalMessageID,
		"provider_message_id", out.Sid,
		"status", out.Status)
	return &SMSResponseData{
		ProviderMessageID: out.Sid,
		Status:            strings.ToLower(out.Status),
		ProviderName:      p.GetName(),
	}, nil
}
