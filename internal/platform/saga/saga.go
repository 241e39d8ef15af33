// Package saga records compensating actions for multi-step operations whose steps
// cannot share one database transaction.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

// Saga is not safe for concurrent use; one operation owns one Saga.
type Saga struct {
	name   string
	steps  []compensation
	logger *slog.Logger
}

func New(name string, logger *slog.Logger) *Saga {
	return &Saga{name: name, logger: logger.With("saga", name)}
}

// OnFailure registers fn to undo a step that has completed.
func (s *Saga) OnFailure(step string, fn func(ctx context.Context) error) {
	s.steps = append(s.steps, compensation{name: step, fn: fn})
}

// Compensate runs registered compensations in reverse order. Every compensation is
// attempted; their errors are joined. The caller's context may already be done, so
// compensations run on a context detached from its cancellation.
func (s *Saga) Compensate(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		c := s.steps[i]
		if err := c.fn(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Compensation failed", "step", c.name, "cause", cause, "error", err)
			errs = append(errs, fmt.Errorf("compensate %s: %w", c.name, err))
			continue
		}
		s.logger.InfoContext(ctx, "Compensation applied", "step", c.name, "cause", cause)
	}
	s.steps = nil
	compensationsRun.WithLabelValues(s.name, outcome(errs)).Inc()
	return errors.Join(errs...)
}

func outcome(errs []error) string {
	if len(errs) > 0 {
		return "failed"
	}
	return "ok"
}
