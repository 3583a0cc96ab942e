// Package wsrtt provides a WebSocket round-trip latency test harness.
//
// The harness has two halves. The echo server accepts WebSocket upgrades,
// decodes every text message as an AppMessage and writes it back with its
// type flipped from REQ to RSP, optionally after a delay chosen by the
// client. The driver sends requests of a configured size at a configured
// rate and tracks how long each one takes to come back.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/wsrtt/ws"
//	)
//
//	server := ws.New(ws.NewConfig(":8080", ws.AllOrigins()))
//	server.Start(ctx)
//	defer server.Stop(ctx)
//
//	d := ws.NewDriver(ws.DriverOptions{})
//	cfg := ws.DefaultDriverConfig()
//	cfg.Delay = 100 * time.Millisecond
//	d.Start(ctx, cfg)
//	...
//	d.Stop()
//	fmt.Println(d.Snapshot().AvgLatency)
//
// # Protocol Format
//
// Both directions carry one JSON object per text message:
//
//	{"id": "1", "type": "REQ", "content": "AAAA", "date": 1000}
//
// The server changes nothing but type. id may be a string or a number and
// date may be any JSON value; both are echoed byte for byte. The delay is
// passed at connection time as a query parameter in milliseconds:
//
//	ws://host:8080/api/messaging?delay=100
//
// Absent, non-numeric or negative delays mean no delay.
//
// # Session Pipeline
//
// Each connection runs a receive loop and a send loop joined by a pipeline:
//
//	socket -> assembler -> inbound queue -> transform (+delay) -> outbound queue -> socket
//
// The assembler stitches continuation frames into one message and enforces
// the 64 KiB cap across them. Transforms run concurrently by default, so a
// delayed message never holds back the next one and responses leave in
// completion order. Queues are unbounded by default; bounded capacities make
// the receive loop block while the pipeline is full.
//
// The session ends as soon as either loop exits. The other loop is cancelled
// and both queues are released on every exit path.
//
// # Close Codes
//
//   - 1000: peer closed, or the server is shutting down
//   - 1002: payload is not valid UTF-8 JSON ("Invalid message format")
//   - 1003: binary message ("Only Text messages supported (not binary)")
//   - 1008: rate limit exceeded, when enabled
//   - 1009: message too large ("Exceeded maximum message size: 65536 bytes.")
//
// After sending a close frame the server keeps reading for up to a second so
// the peer's reply completes the handshake.
//
// # Latency Statistics
//
// The driver keeps min, max and a running average. The default average
// reproduces the legacy recurrence, which counts the first sample as half its
// value; set CorrectedAverage for the arithmetic mean. Requests that never
// get a response stay pending for the whole run.
//
// # Observability
//
//   - /health answers "ok"
//   - /metrics exposes prometheus counters for sessions, messages and rejections
//   - the driver can publish every point to NATS for an external chart
package wsrtt
