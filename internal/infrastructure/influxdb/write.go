package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementReadings is the measurement parameter readings are written to.
const MeasurementReadings = "parameter_readings"

// WriteParameterReading records one value read from an instrument parameter.
//
// Numbers are stored in the "value" field, booleans in "value_bool" and
// strings in "value_text". Other types are dropped and reported false.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteParameterReading("dmm", "volt", 1.234, time.Now())
func (c *Client) WriteParameterReading(instrument, parameter string, value any, at time.Time) bool {
	if !c.IsConnected() {
		return false
	}

	field, v, ok := readingField(value)
	if !ok {
		return false
	}

	point := write.NewPoint(
		MeasurementReadings,
		map[string]string{
			"instrument": instrument,
			"parameter":  parameter,
		},
		map[string]any{field: v},
		at,
	)
	c.writeAPI.WritePoint(point)
	return true
}

// readingField picks the field a reading is stored under.
func readingField(value any) (string, any, bool) {
	switch v := value.(type) {
	case float64:
		return "value", v, true
	case float32:
		return "value", float64(v), true
	case int:
		return "value", float64(v), true
	case int64:
		return "value", float64(v), true
	case int32:
		return "value", float64(v), true
	case uint64:
		return "value", float64(v), true
	case uint32:
		return "value", float64(v), true
	case bool:
		return "value_bool", v, true
	case string:
		return "value_text", v, true
	default:
		return "", nil, false
	}
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("delegate_stats",
//	    map[string]string{"delegate": "gpib0"},
//	    map[string]any{"queued": 3, "processed": 1200})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

// ReadingWriter is the part of Client a Recorder needs.
type ReadingWriter interface {
	WriteParameterReading(instrument, parameter string, value any, at time.Time) bool
}

// Recorder forwards instrument parameter readings to InfluxDB. It satisfies
// instrument.Recorder.
type Recorder struct {
	w   ReadingWriter
	now func() time.Time
}

// NewRecorder returns a Recorder writing through w.
func NewRecorder(w ReadingWriter) *Recorder {
	return &Recorder{w: w, now: time.Now}
}

// RecordReading writes value as a reading of instrument.parameter.
func (r *Recorder) RecordReading(_ context.Context, instrument, parameter string, value any) {
	r.w.WriteParameterReading(instrument, parameter, value, r.now())
}
