// Package mqttlink carries delegate requests between processes over MQTT.
//
// A delegate worker runs a Server: it receives CBOR-encoded requests on
// <prefix>/delegate/<name>/request, executes them on a local
// dispatch.Delegate in arrival order, and publishes each response to the
// reply topic named in the request. Its MQTT session publishes a retained
// online status on <prefix>/delegate/<name>/status and leaves an offline
// will behind if it dies.
//
// The hub side uses a Connector, a dispatch.Connector that waits for the
// worker to come online, attaches the instrument with an attach request
// and hands back a dispatch.Remote. When the worker's status turns offline
// or the broker connection drops, every Remote talking to it is told the
// delegate is down.
//
// Topic layout:
//
//	instruments/delegate/gpib0/request                  worker subscribes
//	instruments/delegate/gpib0/response/instrumentd-3   one per Remote
//	instruments/delegate/gpib0/status                   retained, LWT
package mqttlink
