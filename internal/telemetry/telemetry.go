// Package telemetry distributes parameter readings to observers.
//
// A Fanout hands each reading to several recorders, typically the InfluxDB
// recorder and an MQTTMirror that republishes readings as retained
// messages for dashboards.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-instruments/internal/instrument"
)

// Fanout forwards every reading to each of its recorders in order.
type Fanout []instrument.Recorder

// NewFanout drops nil recorders and returns nil when none remain, so the
// result can be passed straight to instrument.Options.
func NewFanout(recorders ...instrument.Recorder) instrument.Recorder {
	var f Fanout
	for _, r := range recorders {
		if r != nil {
			f = append(f, r)
		}
	}
	switch len(f) {
	case 0:
		return nil
	case 1:
		return f[0]
	}
	return f
}

// RecordReading implements instrument.Recorder.
func (f Fanout) RecordReading(ctx context.Context, inst, parameter string, value any) {
	for _, r := range f {
		r.RecordReading(ctx, inst, parameter, value)
	}
}

// Publisher is the part of the MQTT client a mirror needs.
type Publisher interface {
	Topics() mqtt.Topics
	QoS() byte
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by the mirror.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Reading is the payload published for one reading.
type Reading struct {
	Instrument string    `json:"instrument"`
	Parameter  string    `json:"parameter"`
	Value      any       `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// MQTTMirror publishes readings as retained messages on
// Topics.InstrumentReading.
type MQTTMirror struct {
	pub    Publisher
	logger Logger
	now    func() time.Time
}

// NewMQTTMirror creates a mirror publishing through pub.
func NewMQTTMirror(pub Publisher) *MQTTMirror {
	return &MQTTMirror{pub: pub, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger for the mirror.
func (m *MQTTMirror) SetLogger(logger Logger) {
	m.logger = logger
}

// RecordReading implements instrument.Recorder. Failures are logged and
// otherwise ignored.
func (m *MQTTMirror) RecordReading(_ context.Context, inst, parameter string, value any) {
	payload, err := json.Marshal(Reading{
		Instrument: inst,
		Parameter:  parameter,
		Value:      value,
		Timestamp:  m.now().UTC(),
	})
	if err != nil {
		m.logger.Warn("reading not serialisable", "instrument", inst, "parameter", parameter, "error", err)
		return
	}
	topic := m.pub.Topics().InstrumentReading(inst, parameter)
	if err := m.pub.Publish(topic, payload, m.pub.QoS(), true); err != nil {
		m.logger.Warn("publishing reading failed", "topic", topic, "error", err)
	}
}
