package provisioning

import "context"

// NumberProvisioner acquires and releases numbers at the telephony provider.
type NumberProvisioner interface {
	// Provision buys phone at the provider and returns the provider's id for it.
	Provision(ctx context.Context, phone string) (string, error)
	Release(ctx context.Context, providerID string) error
	GetName() string
}
