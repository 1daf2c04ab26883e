// Package influxdb provides InfluxDB connectivity for recording instrument
// parameter readings.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched writes, and health monitoring.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	inst, err := instrument.New(ctx, instrument.Options{
//	    Name:     "dmm",
//	    Driver:   drv,
//	    Recorder: influxdb.NewRecorder(client),
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Writes are non-blocking and batch errors are delivered to the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
