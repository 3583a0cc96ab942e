package wsrtt_test

import (
	"testing"

	"github.com/luciancaetano/wsrtt"
)

// TestConstants verifies the wire-visible constants
func TestConstants(t *testing.T) {
	t.Parallel()

	if wsrtt.MaxMessageSize != 65536 {
		t.Errorf("MaxMessageSize = %d, want 65536", wsrtt.MaxMessageSize)
	}
	if wsrtt.DefaultMessagingPath != "/api/messaging" {
		t.Errorf("DefaultMessagingPath = %q", wsrtt.DefaultMessagingPath)
	}

	t.Run("close reasons", func(t *testing.T) {
		if got, want := wsrtt.TooLargeReason(wsrtt.MaxMessageSize), "Exceeded maximum message size: 65536 bytes."; got != want {
			t.Errorf("TooLargeReason() = %q, want %q", got, want)
		}
		if wsrtt.ReasonUnsupportedType != "Only Text messages supported (not binary)" {
			t.Errorf("ReasonUnsupportedType = %q", wsrtt.ReasonUnsupportedType)
		}

		// Close frame payloads are limited to 123 bytes of reason text.
		reasons := []string{
			wsrtt.TooLargeReason(wsrtt.MaxMessageSize),
			wsrtt.ReasonUnsupportedType,
			wsrtt.ReasonInvalidMessage,
			wsrtt.ReasonRateLimitExceeded,
			wsrtt.ReasonServerShutdown,
		}
		for _, r := range reasons {
			if r == "" || len(r) > 123 {
				t.Errorf("reason %q has invalid length %d", r, len(r))
			}
		}
	})
}

// TestSessionStateString tests the state names used in logs
func TestSessionStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state wsrtt.SessionState
		want  string
	}{
		{wsrtt.StateOpen, "open"},
		{wsrtt.StateClosing, "closing"},
		{wsrtt.StateClosed, "closed"},
		{wsrtt.SessionState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("SessionState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
