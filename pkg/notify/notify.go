// Package notify carries geofence alarm notifications from the alarm engine
// to live viewers. The engine publishes onto an in-process watermill
// channel; a Forwarder service drains it into the broadcast hub so a slow
// hub never holds the engine lock.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nicktill/tinytrack/pkg/broadcast"
	"github.com/nicktill/tinytrack/pkg/logging"
)

// Notification types.
const (
	TypeAlarm      = "geofenceAlarm"
	TypeAlarmClose = "geofenceAlarmClose"
)

// Topic is the watermill topic alarm notifications travel on.
const Topic = "geofence.alarms"

// Notification is the payload sent when an alarm opens or closes.
type Notification struct {
	Type         string    `json:"type"`
	AlarmID      int64     `json:"alarmId"`
	DeviceID     string    `json:"deviceId"`
	GeofenceID   int64     `json:"geofenceId"`
	GeofenceName string    `json:"geofenceName"`
	MapID        int64     `json:"mapId"`
	MapName      string    `json:"mapName"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	Time         time.Time `json:"time"`
}

// Sink receives notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Notify calls f(ctx, n).
func (f SinkFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Discard drops every notification.
var Discard Sink = SinkFunc(func(context.Context, Notification) error { return nil })

// NewBus creates the in-process pub/sub the Publisher and Forwarder share.
func NewBus(buffer int64) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: buffer},
		logging.NewWatermillAdapter(logging.Logger().With().Str("component", "notify").Logger()),
	)
}

// Publisher is a Sink that publishes notifications on Topic.
type Publisher struct {
	pub message.Publisher
}

// NewPublisher wraps a watermill publisher.
func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// Notify encodes n and publishes it.
func (p *Publisher) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("type", n.Type)
	msg.Metadata.Set("device", n.DeviceID)
	msg.SetContext(ctx)

	if err := p.pub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Forwarder relays notifications from the bus to live viewers on the
// broadcast alarms topic. It implements suture.Service.
type Forwarder struct {
	sub message.Subscriber
	out broadcast.Publisher
}

// NewForwarder creates a forwarder from sub to out.
func NewForwarder(sub message.Subscriber, out broadcast.Publisher) *Forwarder {
	return &Forwarder{sub: sub, out: out}
}

// Serve forwards until ctx ends.
func (f *Forwarder) Serve(ctx context.Context) error {
	messages, err := f.sub.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			f.forward(msg)
		}
	}
}

func (f *Forwarder) forward(msg *message.Message) {
	// malformed payloads are acked too: redelivery would fail the same way
	defer msg.Ack()

	var n Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable notification")
		return
	}
	if err := f.out.Publish(broadcast.TopicAlarms, n); err != nil {
		logging.Warn().Err(err).Str("type", n.Type).Msg("failed to broadcast notification")
	}
}

func (f *Forwarder) String() string {
	return "notify-forwarder"
}
