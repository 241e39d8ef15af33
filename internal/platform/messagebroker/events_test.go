package messagebroker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

func TestEventBus_Emit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := new(MockPublisher)

	var captured []byte
	pub.On("Publish", mock.Anything, "dashboard.events.number.purchased", mock.AnythingOfType("[]uint8")).
		Run(func(args mock.Arguments) { captured = args.Get(2).([]byte) }).
		Return(nil).Once()

	bus := NewEventBus(pub, logger)
	bus.Emit(context.Background(), EventNumberPurchased, "user-1", map[string]string{"phone_number": "+15550001111"})

	pub.AssertExpectations(t)
	var env Envelope
	require.NoError(t, json.Unmarshal(captured, &env))
	assert.Equal(t, EventNumberPurchased, env.Type)
	assert.Equal(t, "user-1", env.UserID)
	assert.NotEmpty(t, env.ID)
}

func TestEventBus_PublishFailureIsSwallowed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats down")).Once()

	bus := NewEventBus(pub, logger)
	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), EventMessageSent, "user-1", nil)
	})
	pub.AssertExpectations(t)
}

func TestEventBus_NilPublisherDropsEvents(t *testing.T) {
	bus := NewEventBus(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), EventMessageSent, "user-1", nil)
	})
	var nilBus *EventBus
	assert.NotPanics(t, func() {
		nilBus.Emit(context.Background(), EventMessageSent, "user-1", nil)
	})
}
