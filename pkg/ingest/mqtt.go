package ingest

import (
	"bytes"
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/metrics"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

// BatchSubmitter accepts decoded reports.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, reports []tracking.Report) error
}

// MQTTSubscriber feeds samples published on an MQTT topic into the pipeline.
// Each message holds one report or a JSON array of reports. It implements
// suture.Service.
type MQTTSubscriber struct {
	cfg    config.MQTTConfig
	submit BatchSubmitter
}

// NewMQTTSubscriber creates a subscriber; it connects when served.
func NewMQTTSubscriber(cfg config.MQTTConfig, submit BatchSubmitter) *MQTTSubscriber {
	return &MQTTSubscriber{cfg: cfg, submit: submit}
}

// Serve connects, subscribes and blocks until ctx ends.
func (m *MQTTSubscriber) Serve(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logging.Warn().Err(err).Str("broker", m.cfg.Broker).Msg("mqtt connection lost")
		})
	// resubscribe after every (re)connect
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(m.cfg.Topic, m.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			m.handle(ctx, msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			logging.Error().Err(token.Error()).Str("topic", m.cfg.Topic).Msg("mqtt subscribe failed")
			return
		}
		logging.Info().Str("broker", m.cfg.Broker).Str("topic", m.cfg.Topic).Msg("mqtt subscribed")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", m.cfg.Broker, token.Error())
	}

	<-ctx.Done()
	client.Disconnect(250)
	return ctx.Err()
}

func (m *MQTTSubscriber) handle(ctx context.Context, payload []byte) {
	reports, err := decodeReports(payload)
	if err != nil {
		metrics.SamplesDropped.WithLabelValues("undecodable").Inc()
		logging.Debug().Err(err).Msg("dropping undecodable mqtt payload")
		return
	}
	if err := m.submit.SubmitBatch(ctx, reports); err != nil {
		logging.Warn().Err(err).Int("samples", len(reports)).Msg("mqtt batch not submitted")
	}
}

func (m *MQTTSubscriber) String() string {
	return "mqtt-subscriber"
}

// decodeReports accepts a single report object or an array of them.
func decodeReports(payload []byte) ([]tracking.Report, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) > 0 && payload[0] == '[' {
		var reports []tracking.Report
		if err := json.Unmarshal(payload, &reports); err != nil {
			return nil, err
		}
		return reports, nil
	}

	var r tracking.Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, err
	}
	return []tracking.Report{r}, nil
}
