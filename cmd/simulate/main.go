// Command simulate walks demo tags back and forth across a map and reports
// their positions to a running tinytrack server over HTTP or MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/nicktill/tinytrack/pkg/logging"
	"github.com/nicktill/tinytrack/pkg/sdk"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

// reporter hides whether samples travel over HTTP or MQTT.
type reporter interface {
	report(r tracking.Report) error
	close()
}

func main() {
	endpoint := flag.String("endpoint", sdk.DefaultEndpoint, "batch ingestion URL")
	broker := flag.String("broker", "", "MQTT broker address; when set, samples are published instead of posted")
	topic := flag.String("topic", "tinytrack/samples", "MQTT topic")
	tags := flag.Int("tags", 1, "number of simulated tags")
	mapID := flag.Int64("map", 1, "map id the tags move on")
	interval := flag.Duration("interval", time.Second, "time between position reports")
	minX := flag.Float64("min-x", 1, "left end of the walk in meters")
	maxX := flag.Float64("max-x", 12, "right end of the walk in meters")
	y := flag.Float64("y", 3, "row the tags walk along in meters")
	step := flag.Float64("step", 1, "meters moved per report")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		out reporter
		err error
	)
	if *broker != "" {
		out, err = newMQTTReporter(*broker, *topic)
	} else {
		out, err = newHTTPReporter(ctx, *endpoint, *interval)
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to set up reporter")
	}
	defer out.close()

	walkers := make([]*walker, *tags)
	for i := range walkers {
		walkers[i] = &walker{
			tag: fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i+1),
			x:   *minX + float64(i)*(*step),
			dir: 1,
		}
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	logging.Info().
		Int("tags", *tags).
		Int64("map", *mapID).
		Dur("interval", *interval).
		Msg("simulation started")

	count := 0
	for {
		select {
		case <-ctx.Done():
			logging.Info().Int("reports", count).Msg("simulation stopped")
			return
		case now := <-ticker.C:
			for _, w := range walkers {
				w.advance(*minX, *maxX, *step)
				battery := 100 - (count/len(walkers))%100
				rssi := -60 + rand.IntN(13) - 6
				x, yy, m := w.x, *y, *mapID
				r := tracking.Report{
					TagMAC:    w.tag,
					X:         &x,
					Y:         &yy,
					RSSI:      &rssi,
					Battery:   &battery,
					MapID:     &m,
					Timestamp: sdk.Timestamp(now),
				}
				if err := out.report(r); err != nil {
					logging.Warn().Err(err).Str("tag", w.tag).Msg("report failed")
					continue
				}
				count++
				logging.Debug().Str("tag", w.tag).Float64("x", x).Float64("y", yy).Msg("reported")
			}
			if count%50 == 0 {
				logging.Info().Int("reports", count).Msg("progress")
			}
		}
	}
}

// walker bounces between two x positions.
type walker struct {
	tag string
	x   float64
	dir float64
}

func (w *walker) advance(minX, maxX, step float64) {
	next := w.x + w.dir*step
	if next > maxX || next < minX {
		w.dir = -w.dir
		next = w.x + w.dir*step
	}
	w.x = next
}

type httpReporter struct {
	client *sdk.Client
}

func newHTTPReporter(ctx context.Context, endpoint string, flushEvery time.Duration) (*httpReporter, error) {
	client, err := sdk.New(sdk.ClientConfig{Endpoint: endpoint, FlushEvery: flushEvery})
	if err != nil {
		return nil, err
	}
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	return &httpReporter{client: client}, nil
}

func (h *httpReporter) report(r tracking.Report) error {
	h.client.Send(r)
	return nil
}

func (h *httpReporter) close() {
	if err := h.client.Stop(); err != nil {
		logging.Warn().Err(err).Msg("final flush failed")
	}
	sent, failed := h.client.Stats()
	logging.Info().Int64("sent", sent).Int64("failed", failed).Msg("http reporter closed")
}

type mqttReporter struct {
	client mqtt.Client
	topic  string
}

func newMQTTReporter(broker, topic string) (*mqttReporter, error) {
	clientID := fmt.Sprintf("tinytrack-simulator-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID).SetOrderMatters(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", broker, token.Error())
	}
	logging.Info().Str("broker", broker).Str("client_id", clientID).Msg("connected to mqtt broker")
	return &mqttReporter{client: client, topic: topic}, nil
}

func (m *mqttReporter) report(r tracking.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	token := m.client.Publish(m.topic, 1, false, data)
	token.Wait()
	return token.Error()
}

func (m *mqttReporter) close() {
	m.client.Disconnect(250)
}
