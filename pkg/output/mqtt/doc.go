// Package mqtt publishes payloads to an MQTT broker and keeps the connection
// usable across broker outages.
//
// Two connections implement [Conn]:
//   - [V3Conn]: MQTT 3.1.1 to a plain host:port broker (paho.mqtt.golang)
//   - [AutoConn]: MQTT 5 with mutual TLS, used for AWS IoT Core (autopaho)
//
// Both connect with a persistent session (clean session off) and publish at
// QoS 1, so payloads published while the link is down are delivered once it
// comes back.
//
// # Lifecycle events
//
// A Conn reports link changes on its Events channel:
//
//	Interrupted            the connection was lost; the client reconnects by itself
//	Resumed(sessionPresent) the connection is back
//
// [MQTTOutput.Watch] consumes these events. When a connection resumes without
// a broker session it resubscribes every tracked topic and waits for the
// SUBACK. Publishing is held off until that completes. A topic the broker
// refuses to grant is fatal: Watch returns [ErrSubscriptionRejected] and every
// later Publish fails with the same error.
//
// # Topics
//
//	metriful/<sensor>                 plain broker
//	$aws/rules/<rule>/<sensor>        AWS IoT basic ingest
//	metriful/<sensor>/control         inbound control messages
package mqtt
