package websocket

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wsrtt/internal/protocol"
)

type fakeMessage struct {
	messageType int
	frames      []io.Reader
	err         error
}

// fakeSource replays messages; each message is a list of frame readers.
type fakeSource struct {
	messages []fakeMessage
}

func (f *fakeSource) NextReader() (int, io.Reader, error) {
	if len(f.messages) == 0 {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	m := f.messages[0]
	f.messages = f.messages[1:]
	if m.err != nil {
		return 0, nil, m.err
	}
	return m.messageType, io.MultiReader(m.frames...), nil
}

func textFrames(parts ...string) fakeMessage {
	frames := make([]io.Reader, 0, len(parts))
	for _, p := range parts {
		frames = append(frames, strings.NewReader(p))
	}
	return fakeMessage{messageType: websocket.TextMessage, frames: frames}
}

// TestAssemblerFragments tests that continuation frames are concatenated
func TestAssemblerFragments(t *testing.T) {
	t.Parallel()

	src := &fakeSource{messages: []fakeMessage{
		textFrames(`{"id":"1","type":"REQ",`, `"content":"AA`, `AA","date":1000}`),
	}}
	a := NewAssembler(src, 1024)

	msg, err := a.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if msg.ID.String() != "1" || msg.Content != "AAAA" || string(msg.Date) != "1000" {
		t.Errorf("unexpected message %+v", msg)
	}

	_, err = a.Next()
	if !errors.Is(err, ErrPeerClosed) {
		t.Errorf("Next() error = %v, want ErrPeerClosed", err)
	}
}

// TestAssemblerSizeLimit tests the size cap across fragments
func TestAssemblerSizeLimit(t *testing.T) {
	t.Parallel()

	const limit = 64

	tests := []struct {
		name      string
		parts     []string
		wantError error
	}{
		{
			name:  "single frame below limit",
			parts: []string{strings.Repeat("a", limit-1)},
		},
		{
			name:  "exactly the limit",
			parts: []string{strings.Repeat("a", limit/2), strings.Repeat("a", limit/2)},
		},
		{
			name:  "exactly the limit in one frame",
			parts: []string{strings.Repeat("a", limit)},
		},
		{
			name:  "limit-sized fragment then empty final fragment",
			parts: []string{strings.Repeat("a", limit), ""},
		},
		{
			name:  "empty fragments around the payload",
			parts: []string{"", strings.Repeat("a", limit), "", ""},
		},
		{
			name:      "one byte over in the last fragment",
			parts:     []string{strings.Repeat("a", limit), "a"},
			wantError: ErrMessageTooLarge,
		},
		{
			name:      "many fragments over the limit",
			parts:     []string{strings.Repeat("a", 40), strings.Repeat("a", 40), strings.Repeat("a", 40)},
			wantError: ErrMessageTooLarge,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := NewAssembler(&fakeSource{messages: []fakeMessage{textFrames(tt.parts...)}}, limit)
			payload, err := a.ReadPayload()

			if tt.wantError != nil {
				if !errors.Is(err, tt.wantError) {
					t.Fatalf("ReadPayload() error = %v, want %v", err, tt.wantError)
				}
				if payload != nil {
					t.Errorf("payload = %d bytes, want none", len(payload))
				}
				return
			}

			if err != nil {
				t.Fatalf("ReadPayload() error = %v", err)
			}
			if want := strings.Join(tt.parts, ""); string(payload) != want {
				t.Errorf("payload length = %d, want %d", len(payload), len(want))
			}
		})
	}
}

// TestAssemblerRejectsBinary tests that non-text data frames are refused
func TestAssemblerRejectsBinary(t *testing.T) {
	t.Parallel()

	src := &fakeSource{messages: []fakeMessage{{
		messageType: websocket.BinaryMessage,
		frames:      []io.Reader{strings.NewReader("\x00\x01")},
	}}}

	_, err := NewAssembler(src, 1024).Next()
	if !errors.Is(err, ErrUnsupportedMessageType) {
		t.Errorf("Next() error = %v, want ErrUnsupportedMessageType", err)
	}
}

// TestAssemblerCloseFrame tests that a close frame ends assembly without a message
func TestAssemblerCloseFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  fakeMessage
	}{
		{
			name: "close before any frame",
			msg:  fakeMessage{err: &websocket.CloseError{Code: websocket.CloseGoingAway, Text: "bye"}},
		},
		{
			name: "close between fragments",
			msg: fakeMessage{
				messageType: websocket.TextMessage,
				frames: []io.Reader{
					strings.NewReader(`{"id":"1",`),
					iotest.ErrReader(&websocket.CloseError{Code: websocket.CloseGoingAway, Text: "bye"}),
				},
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewAssembler(&fakeSource{messages: []fakeMessage{tt.msg}}, 1024).Next()
			if !errors.Is(err, ErrPeerClosed) {
				t.Fatalf("Next() error = %v, want ErrPeerClosed", err)
			}

			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				t.Fatal("close error should stay in the chain")
			}
			if closeErr.Code != websocket.CloseGoingAway {
				t.Errorf("close code = %d, want %d", closeErr.Code, websocket.CloseGoingAway)
			}
		})
	}
}

// TestAssemblerDecodeError tests that malformed payloads surface ErrDecode
func TestAssemblerDecodeError(t *testing.T) {
	t.Parallel()

	src := &fakeSource{messages: []fakeMessage{textFrames(`{"id":`)}}

	_, err := NewAssembler(src, 1024).Next()
	if !errors.Is(err, protocol.ErrDecode) {
		t.Errorf("Next() error = %v, want ErrDecode", err)
	}
}

// TestAssemblerReusesBuffer tests that payloads do not alias each other
func TestAssemblerReusesBuffer(t *testing.T) {
	t.Parallel()

	src := &fakeSource{messages: []fakeMessage{textFrames("first"), textFrames("second")}}
	a := NewAssembler(src, 1024)

	first, err := a.ReadPayload()
	if err != nil {
		t.Fatalf("ReadPayload() error = %v", err)
	}
	second, err := a.ReadPayload()
	if err != nil {
		t.Fatalf("ReadPayload() error = %v", err)
	}

	if string(first) != "first" || string(second) != "second" {
		t.Errorf("got %q and %q", first, second)
	}
}
