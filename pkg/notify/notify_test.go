package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/broadcast"
)

type recorder struct {
	mu     sync.Mutex
	topics []string
	data   []interface{}
}

func (r *recorder) Publish(topic string, data interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.data = append(r.data, data)
	return nil
}

func (r *recorder) received() ([]string, []interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...), append([]interface{}(nil), r.data...)
}

func TestPublisher_EncodesNotification(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := bus.Subscribe(ctx, Topic)
	require.NoError(t, err)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pub := NewPublisher(bus)
	require.NoError(t, pub.Notify(ctx, Notification{
		Type: TypeAlarm, AlarmID: 7, DeviceID: "aa:bb", GeofenceID: 3, GeofenceName: "dock",
		MapID: 1, MapName: "floor", X: 1.5, Y: 2, Time: at,
	}))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, TypeAlarm, msg.Metadata.Get("type"))
		assert.Equal(t, "aa:bb", msg.Metadata.Get("device"))
		assert.JSONEq(t, `{
			"type": "geofenceAlarm", "alarmId": 7, "deviceId": "aa:bb",
			"geofenceId": 3, "geofenceName": "dock", "mapId": 1, "mapName": "floor",
			"x": 1.5, "y": 2, "time": "2024-05-01T12:00:00Z"
		}`, string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("notification not published")
	}
}

func TestForwarder_RelaysToAlarmsTopic(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()
	out := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- NewForwarder(bus, out).Serve(ctx) }()

	pub := NewPublisher(bus)
	// messages published before the forwarder subscribes are not retained
	require.Eventually(t, func() bool {
		_ = pub.Notify(ctx, Notification{Type: TypeAlarmClose, AlarmID: 9})
		topics, _ := out.received()
		return len(topics) > 0
	}, 2*time.Second, 20*time.Millisecond)

	topics, data := out.received()
	assert.Equal(t, broadcast.TopicAlarms, topics[0])
	n, ok := data[0].(Notification)
	require.True(t, ok)
	assert.Equal(t, TypeAlarmClose, n.Type)
	assert.Equal(t, int64(9), n.AlarmID)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not stop")
	}
}

func TestForwarder_SkipsUndecodablePayload(t *testing.T) {
	out := &recorder{}
	f := NewForwarder(nil, out)

	raw, err := json.Marshal(Notification{Type: TypeAlarm})
	require.NoError(t, err)

	f.forward(newMessage([]byte("{not json")))
	f.forward(newMessage(raw))

	topics, _ := out.received()
	assert.Len(t, topics, 1)
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard.Notify(context.Background(), Notification{}))
}

func newMessage(payload []byte) *message.Message {
	return message.NewMessage("test", payload)
}
