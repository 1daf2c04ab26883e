package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// Client records instrument readings through the InfluxDB v2 non-blocking
// write API. Points are batched and flushed in the background; write
// failures arrive on the callback set with SetOnError.
//
// All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	connected atomic.Bool
	onError   atomic.Pointer[func(error)]
}

// Connect pings the server and returns a client writing to the configured
// org and bucket. It returns ErrDisabled when InfluxDB is switched off and
// ErrConnectionFailed when the server cannot be reached or reports itself
// unhealthy.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(time.Duration(flushInterval) * time.Second / time.Millisecond))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	c.connected.Store(true)
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		if cb := c.onError.Load(); cb != nil {
			(*cb)(err)
		}
	}
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	if callback == nil {
		c.onError.Store(nil)
		return
	}
	c.onError.Store(&callback)
}

// IsConnected reports the last known state. HealthCheck pings.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// HealthCheck pings the server, bounded by ctx and a five second limit.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := ping(checkCtx, c.client); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// Flush blocks until buffered points are written. It does nothing after
// Close.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes pending points and closes the client. It is safe to call
// more than once.
func (c *Client) Close() error {
	if c.client == nil || !c.connected.Swap(false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
