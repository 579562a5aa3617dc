// Package audit relays security events from the engine to sinks without
// blocking request paths.
//
// [Dispatcher] buffers events and hands them to one [Sink] on a background
// goroutine; when the buffer is full it either drops (counting drops) or
// blocks, per [Config]. Sinks: JSON lines, zap, Kafka and fan-out.
//
// The package does not decide which events exist and never sees secrets;
// callers put only ids and outcome codes into events.
package audit
