package wsrtt

import "fmt"

// MaxMessageSize is the default cap on an assembled application message.
const MaxMessageSize = 64 * 1024

// Default routes served by the echo server.
const (
	DefaultMessagingPath = "/api/messaging"
	HealthPath           = "/health"
	MetricsPath          = "/metrics"
	DelayQueryParam      = "delay"
)

// Close reasons sent to the peer
const (
	ReasonUnsupportedType   = "Only Text messages supported (not binary)"
	ReasonInvalidMessage    = "Invalid message format"
	ReasonRateLimitExceeded = "Rate limit exceeded"
	ReasonServerShutdown    = "Server shutting down"
)

// Standard error messages
const (
	// Connection errors
	ErrSessionClosed        = "session is closed"
	ErrServerAlreadyRunning = "server already running"
	ErrFailedToEncode       = "failed to encode message"

	// Driver errors
	ErrDriverRunning = "test already running"
)

// TooLargeReason formats the close reason for a message that exceeded limit bytes.
func TooLargeReason(limit int) string {
	return fmt.Sprintf("Exceeded maximum message size: %d bytes.", limit)
}
