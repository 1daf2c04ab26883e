package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for the hub and its delegate workers.
//
// It provides connection management, message publishing, subscription handling,
// a retained online/offline status with a last will, and automatic
// reconnection with exponential backoff.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	client      pahomqtt.Client
	cfg         config.MQTTConfig
	topics      Topics
	clientID    string
	statusTopic string

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected atomic.Bool

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger atomic.Pointer[Logger]
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// With the default options a client delivers messages one at a time in
// arrival order, so a handler that blocks stalls every subscription of
// that client.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker with the configured auth, TLS and reconnect
// backoff. A last will marks the client's status topic offline if the
// connection drops; a retained online status is published on every
// (re)connect.
func Connect(cfg config.MQTTConfig, options ...Option) (*Client, error) {
	s := resolveSettings(cfg, options)
	opts := buildClientOptions(cfg, s)
	configureLWT(opts, s.statusTopic, s.clientID)

	c := &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg.TopicPrefix),
		clientID:      s.clientID,
		statusTopic:   s.statusTopic,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; publish is allowed as soon
	// as Connect returns.
	c.connected.Store(true)

	return c, nil
}

// ClientID returns the id the client connected with.
func (c *Client) ClientID() string { return c.clientID }

// Topics returns the topic builders for the configured prefix.
func (c *Client) Topics() Topics { return c.topics }

// StatusTopic returns the topic carrying this client's status and will.
func (c *Client) StatusTopic() string { return c.statusTopic }

// QoS returns the configured default QoS.
func (c *Client) QoS() byte { return byte(c.cfg.QoS) }

func (c *Client) handleConnect() {
	c.connected.Store(true)

	c.restoreSubscriptions()
	c.publishOnlineStatus()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

func (c *Client) publishOnlineStatus() {
	c.client.Publish(c.statusTopic, 1, true, buildOnlinePayload(c.clientID))
}

// Close gracefully disconnects from the MQTT broker.
//
// It publishes a graceful offline status (distinguishable from the will),
// waits for pending operations, then disconnects. Closing a client that
// never connected is not an error.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.statusTopic, 1, true, buildOfflinePayload(c.clientID, ReasonGraceful))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for handler errors and panics. Without one
// they are dropped.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		c.logger.Store(nil)
		return
	}
	c.logger.Store(&logger)
}

func (c *Client) getLogger() Logger {
	if l := c.logger.Load(); l != nil {
		return *l
	}
	return nil
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
