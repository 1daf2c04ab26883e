package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Option adjusts how Connect identifies the client.
type Option func(*settings)

type settings struct {
	clientID    string
	statusTopic string
}

// WithClientID overrides cfg.Broker.ClientID. Every worker process needs its
// own id or the broker disconnects the older session.
func WithClientID(id string) Option {
	return func(s *settings) { s.clientID = id }
}

// WithStatusTopic sets the retained topic that carries this client's online
// status and its last will. Defaults to the system status topic.
func WithStatusTopic(topic string) Option {
	return func(s *settings) { s.statusTopic = topic }
}

func resolveSettings(cfg config.MQTTConfig, opts []Option) settings {
	s := settings{
		clientID:    cfg.Broker.ClientID,
		statusTopic: NewTopics(cfg.TopicPrefix).SystemStatus(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// buildClientOptions creates paho MQTT options from config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Auto-reconnect with exponential backoff
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(cfg config.MQTTConfig, s settings) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	opts.SetClientID(s.clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Delegate requests are never replayed after a reconnect, so no
	// persistent session is wanted.
	opts.SetCleanSession(true)

	// Requests on one delegate topic must reach the handler in publish order.
	opts.SetOrderMatters(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes the will if the client disconnects without a clean
// Close (crash, kill, network failure). Delegate clients treat it as the
// delegate dying.
//
// QoS: 1, Retained: true (new subscribers see last status)
func configureLWT(opts *pahomqtt.ClientOptions, topic, clientID string) {
	opts.SetBinaryWill(topic, buildOfflinePayload(clientID, ReasonUnexpected), 1, true)
}
