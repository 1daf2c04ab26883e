package mqttlink

import (
	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/mqtt"
)

// Broker is the part of an MQTT client the link needs. *mqtt.Client
// implements it.
type Broker interface {
	ClientID() string
	Topics() mqtt.Topics
	QoS() byte
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

var _ Broker = (*mqtt.Client)(nil)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
