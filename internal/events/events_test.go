package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wagslane/go-rabbitmq"
)

type fakeAMQP struct {
	bodies [][]byte
	keys   [][]string
	err    error
}

func (f *fakeAMQP) PublishWithContext(_ context.Context, data []byte, keys []string, _ ...func(*rabbitmq.PublishOptions)) error {
	f.bodies = append(f.bodies, data)
	f.keys = append(f.keys, keys)
	return f.err
}

func (f *fakeAMQP) Close() {}

func TestRabbitPublisherRoutesByType(t *testing.T) {
	fake := &fakeAMQP{}
	pub := &RabbitPublisher{publisher: fake, exchange: "veo3.events"}

	err := pub.Publish(context.Background(), Event{Type: TypePlanActivated, UserID: 9, Payload: map[string]any{"plan": "empire"}})
	require.NoError(t, err)

	require.Len(t, fake.bodies, 1)
	assert.Equal(t, []string{TypePlanActivated}, fake.keys[0])

	decoded, err := Decode(fake.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, int64(9), decoded.UserID)
	assert.Equal(t, "empire", decoded.Payload["plan"])
}

func TestEmitSwallowsErrors(t *testing.T) {
	fake := &fakeAMQP{err: errors.New("broker down")}
	pub := &RabbitPublisher{publisher: fake}
	assert.NotPanics(t, func() {
		Emit(context.Background(), pub, nil, Event{Type: TypeGenerationFailed})
	})
	assert.Len(t, fake.bodies, 1)
}

func TestNewRabbitPublisherRequiresURL(t *testing.T) {
	_, err := NewRabbitPublisher("", "")
	assert.Error(t, err)
}
