package smsprovider

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/numberdrop/golang_services/internal/core_domain"
)

var ErrSimulatedFailure = errors.New("mock provider: simulated failure")

// MockProvider is a simulated SMS provider for development and tests.
type MockProvider struct {
	logger   *slog.Logger
	name     string
	failRate float64 // 0.0 to 1.0
	latency  time.Duration
}

func NewMockProvider(logger *slog.Logger, name string, failRate float64, latency time.Duration) *MockProvider {
	if name == "" {
		name = "mock-provider"
	}
	return &MockProvider{
		logger:   logger.With("provider", name),
		name:     name,
		failRate: failRate,
		latency:  latency,
	}
}

func (p *MockProvider) GetName() string {
	return p.name
}

func (p *MockProvider) Send(ctx context.Context, request SMSRequestData) (*SMSResponseData, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.logger.InfoContext(ctx, "MockProvider: Send called",
		"message_id", request.InternalMessageID,
		"from", request.From,
		"to", request.To,
		"body_len", len(request.Body))

	if p.failRate > 0 && rand.Float64() < p.failRate {
		p.logger.WarnContext(ctx, "MockProvider simulated failure", "message_id", request.InternalMessageID)
		return nil, ErrSimulatedFailure
	}

	sid := core_domain.NewProviderSID("SM")
	p.logger.InfoContext(ctx, "MockProvider: SMS sent (simulated)",
		"message_id", request.InternalMessageID,
		"provider_message_id", sid)
	return &SMSResponseData{ProviderMessageID: sid, Status: "queued", ProviderName: p.name}, nil
}
