package saga

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaga_CompensatesInReverseOrder(t *testing.T) {
	s := New("purchase", slog.New(slog.NewTextHandler(io.Discard, nil)))

	var order []string
	s.OnFailure("debit", func(ctx context.Context) error { order = append(order, "refund"); return nil })
	s.OnFailure("reserve", func(ctx context.Context) error { order = append(order, "release"); return nil })

	err := s.Compensate(context.Background(), errors.New("provider timeout"))
	assert.NoError(t, err)
	assert.Equal(t, []string{"release", "refund"}, order)

	// A second call has nothing left to undo.
	order = nil
	assert.NoError(t, s.Compensate(context.Background(), nil))
	assert.Empty(t, order)
}

func TestSaga_ContinuesAfterFailedCompensation(t *testing.T) {
	s := New("sms_send", slog.New(slog.NewTextHandler(io.Discard, nil)))
	boom := errors.New("db gone")

	ran := false
	s.OnFailure("debit", func(ctx context.Context) error { ran = true; return nil })
	s.OnFailure("mark_failed", func(ctx context.Context) error { return boom })

	err := s.Compensate(context.Background(), errors.New("cause"))
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran)
}

func TestSaga_RunsOnCancelledContext(t *testing.T) {
	s := New("purchase", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	s.OnFailure("debit", func(ctx context.Context) error { seen = ctx.Err(); return nil })

	assert.NoError(t, s.Compensate(ctx, context.Canceled))
	assert.NoError(t, seen)
}
