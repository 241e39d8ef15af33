package provisioning

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/numberdrop/golang_services/internal/core_domain"
)

var ErrSimulatedFailure = errors.New("mock provisioner: simulated failure")

// MockProvisioner simulates the provider for development and tests.
type MockProvisioner struct {
	logger   *slog.Logger
	failRate float64
	latency  time.Duration
}

func NewMockProvisioner(logger *slog.Logger, failRate float64, latency time.Duration) *MockProvisioner {
	return &MockProvisioner{
		logger:   logger.With("provisioner", "mock"),
		failRate: failRate,
		latency:  latency,
	}
}

func (p *MockProvisioner) GetName() string { return "mock" }

func (p *MockProvisioner) Provision(ctx context.Context, phone string) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	if p.failRate > 0 && rand.Float64() < p.failRate {
		p.logger.WarnContext(ctx, "Simulated provisioning failure", "phone_number", phone)
		return "", ErrSimulatedFailure
	}
	sid := core_domain.NewProviderSID("PN")
	p.logger.InfoContext(ctx, "Number provisioned (simulated)", "phone_number", phone, "provider_id", sid)
	return sid, nil
}

func (p *MockProvisioner) Release(ctx context.Context, providerID string) error {
	p.logger.InfoContext(ctx, "Number released (simulated)", "provider_id", providerID)
	return nil
}

func (p *MockProvisioner) wait(ctx context.Context) error {
	if p.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(p.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
