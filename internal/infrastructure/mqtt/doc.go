// Package mqtt provides MQTT client connectivity for the instrument hub and
// its delegate workers.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - A retained online/offline status per client, with a Last Will and
//     Testament (LWT) so a crashed worker is reported offline by the broker
//
// # Architecture
//
// Delegates that run in their own process are reached through the broker:
//
//	hub (instrument clients) ↔ MQTT Broker ↔ delegate worker processes
//
// Each worker connects with its delegate's status topic as its will, so the
// hub learns of a crash without polling.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not on localhost
//   - Credentials are validated against broker ACL
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT,
//	    mqtt.WithClientID("instrumentd-gpib0"),
//	    mqtt.WithStatusTopic(mqtt.NewTopics(cfg.MQTT.TopicPrefix).DelegateStatus("gpib0")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
package mqtt
