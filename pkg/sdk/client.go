package sdk

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nicktill/tinytrack/pkg/sdk/batch"
	"github.com/nicktill/tinytrack/pkg/sdk/transport"
	"github.com/nicktill/tinytrack/pkg/tracking"
)

// DefaultEndpoint is the batch ingestion route of a local server.
const DefaultEndpoint = "http://localhost:8080/v1/tracking-samples/batch"

// ClientConfig holds configuration for the tinytrack producer client
type ClientConfig struct {
	Endpoint     string        `json:"endpoint"`
	APIKey       string        `json:"api_key"`
	FlushEvery   time.Duration `json:"flush_every"`
	MaxBatchSize int           `json:"max_batch_size"`
}

// Client reports tag positions to a tinytrack server.
type Client struct {
	config    ClientConfig
	transport transport.Transport
	batcher   *batch.Batcher

	mu      sync.Mutex
	started bool
}

// New creates a new client
func New(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	trans, err := transport.NewHTTP(cfg.Endpoint, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return newClient(cfg, trans), nil
}

func newClient(cfg ClientConfig, trans transport.Transport) *Client {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = time.Second
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	return &Client{
		config:    cfg,
		transport: trans,
		batcher: batch.New(trans, batch.Config{
			MaxBatchSize: cfg.MaxBatchSize,
			FlushEvery:   cfg.FlushEvery,
		}),
	}
}

// Start begins periodic uploads.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("client already started")
	}
	if err := c.batcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start batcher: %w", err)
	}
	c.started = true
	return nil
}

// Stop uploads pending reports and stops the client.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	if err := c.batcher.Stop(); err != nil {
		return fmt.Errorf("failed to flush reports: %w", err)
	}
	return nil
}

// Send queues a raw report. Reports are dropped until Start is called.
func (c *Client) Send(report tracking.Report) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	c.batcher.Add(report)
}

// Position queues a positioned report for tag on mapID observed at ts.
func (c *Client) Position(tag string, mapID int64, x, y float64, ts time.Time) {
	c.Send(tracking.Report{
		TagMAC:    tag,
		X:         &x,
		Y:         &y,
		MapID:     &mapID,
		Timestamp: Timestamp(ts),
	})
}

// Flush uploads pending reports now.
func (c *Client) Flush() error {
	return c.batcher.Flush()
}

// Stats returns uploaded and dropped report counts.
func (c *Client) Stats() (sent, failed int64) {
	return c.batcher.Sent(), c.batcher.Failed()
}

// Timestamp formats t as epoch seconds with millisecond precision, the form
// the server stores and compares.
func Timestamp(t time.Time) tracking.EpochText {
	ms := t.UnixMilli()
	secs := strconv.FormatInt(ms/1000, 10)
	if ms%1000 == 0 {
		return tracking.EpochText(secs)
	}
	frac := strings.TrimRight(fmt.Sprintf("%03d", ms%1000), "0")
	return tracking.EpochText(secs + "." + frac)
}
