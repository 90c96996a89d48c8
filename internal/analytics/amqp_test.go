package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func TestAMQPSink_PublishesJSONEvent(t *testing.T) {
	pub := new(MockPublisher)
	userID := uuid.New()

	var published amqp.Publishing
	pub.On("Publish", "analytics", "user.trial_expired", false, false, mock.AnythingOfType("amqp.Publishing")).
		Run(func(args mock.Arguments) { published = args.Get(4).(amqp.Publishing) }).
		Return(nil).Once()

	NewAMQPSink(pub, "analytics").Emit(context.Background(), userID, EventTrialExpired, map[string]any{"plan": "medium"})

	pub.AssertExpectations(t)
	var ev Event
	require.NoError(t, json.Unmarshal(published.Body, &ev))
	assert.Equal(t, userID, ev.UserID)
	assert.Equal(t, EventTrialExpired, ev.Type)
	assert.Equal(t, "medium", ev.Properties["plan"])
	assert.Equal(t, amqp.Persistent, published.DeliveryMode)
}

func TestAMQPSink_SwallowsPublishErrors(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything, false, false, mock.Anything).Return(errors.New("channel closed")).Once()

	assert.NotPanics(t, func() {
		NewAMQPSink(pub, "analytics").Emit(context.Background(), uuid.New(), EventGraceExpired, nil)
	})
	pub.AssertExpectations(t)
}

func TestOpen_WithoutURLLogsOnly(t *testing.T) {
	sink, closeSink := Open("", "analytics")
	defer closeSink()

	assert.IsType(t, LogSink{}, sink)
	assert.NotPanics(t, func() {
		sink.Emit(context.Background(), uuid.New(), EventTrialStarted, nil)
	})
}
