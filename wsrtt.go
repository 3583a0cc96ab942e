package wsrtt

import (
	"context"
	"net/http"
	"time"
)

// EchoServer defines the interface for the round-trip echo endpoint.
//
// Every text message received on an upgraded connection is decoded as an
// AppMessage, its type is flipped from REQ to RSP and it is written back on
// the same connection, optionally after the delay requested by the client.
//
// Example usage:
//
//	import "github.com/luciancaetano/wsrtt/ws"
//
//	server := ws.New(ws.NewConfig(":8080", ws.AllOrigins()))
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop(ctx)
type EchoServer interface {
	// Start starts the HTTP listener and begins accepting WebSocket upgrades.
	//
	// Returns an error if the server is already running or if there's a problem
	// binding to the network address.
	Start(ctx context.Context) error

	// Stop closes every open session with a normal closure and shuts the
	// listener down. Sessions accepted through Handler are closed too, even
	// if Start was never called. Calling Stop on a stopped server is a no-op.
	Stop(ctx context.Context) error

	// Handler returns the HTTP handler serving the echo route, the health
	// check and the metrics endpoint. Useful to mount the server under
	// httptest or an existing mux.
	Handler() http.Handler

	// SessionCount returns the number of sessions currently running.
	SessionCount() int
}

// Session represents one upgraded connection and its receive/send loops.
//
// The session's context is cancelled as soon as either loop exits, which in
// turn unblocks the other one.
type Session interface {
	// ID returns the unique identifier generated when the connection was upgraded.
	ID() string

	// RemoteAddr returns the peer's network address, e.g. "192.168.1.100:54321".
	RemoteAddr() string

	// Context returns the session's lifecycle context.
	Context() context.Context

	// Delay returns the response delay requested at connection time.
	Delay() time.Duration

	// State returns the current session state.
	State() SessionState

	// CloseWithCode sends a close frame with the given code and reason and
	// tears the session down.
	//
	// Common close codes:
	//   - 1000 (websocket.CloseNormalClosure): Normal closure
	//   - 1002 (websocket.CloseProtocolError): Malformed message
	//   - 1003 (websocket.CloseUnsupportedData): Binary message
	//   - 1009 (websocket.CloseMessageTooBig): Message exceeds the size cap
	CloseWithCode(ctx context.Context, code int, reason string) error

	// IsAlive returns true while the session is Open.
	IsAlive() bool
}

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	// StateOpen means both loops may read and write.
	StateOpen SessionState = iota
	// StateClosing means a close frame was sent and the session is waiting for the peer.
	StateClosing
	// StateClosed means the socket is gone.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
