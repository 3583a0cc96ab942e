package websocket

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wsrtt/internal/protocol"
)

var (
	// ErrMessageTooLarge is returned when the assembled payload exceeds the size cap.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrUnsupportedMessageType is returned for data frames that are not text.
	ErrUnsupportedMessageType = errors.New("unsupported message type")
	// ErrPeerClosed is returned when a close frame ends assembly.
	ErrPeerClosed = errors.New("peer closed the connection")
)

// frameSource yields one message at a time as a reader over its frames.
// *websocket.Conn satisfies it; continuation frames are stitched together by
// the returned reader until the frame with FIN set.
type frameSource interface {
	NextReader() (messageType int, r io.Reader, err error)
}

// Assembler reads complete text messages from a frame source.
type Assembler struct {
	src   frameSource
	limit int
	buf   bytes.Buffer
}

// NewAssembler creates an assembler enforcing limit bytes per message.
func NewAssembler(src frameSource, limit int) *Assembler {
	return &Assembler{src: src, limit: limit}
}

// Limit returns the size cap in bytes.
func (a *Assembler) Limit() int {
	return a.limit
}

// ReadPayload returns the raw payload of the next text message. Nothing is
// returned for a message that fails the type or size checks.
//
// The cap applies to the assembled length, whatever the fragmentation: a
// message of exactly limit bytes is accepted even when its final frame is
// empty.
func (a *Assembler) ReadPayload() ([]byte, error) {
	messageType, r, err := a.src.NextReader()
	if err != nil {
		return nil, wrapReadError(err)
	}

	if messageType != websocket.TextMessage {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMessageType, messageType)
	}

	a.buf.Reset()
	// Read one byte past the cap so an exact-size message is accepted.
	n, err := a.buf.ReadFrom(io.LimitReader(r, int64(a.limit)+1))
	if err != nil {
		return nil, wrapReadError(err)
	}
	if n > int64(a.limit) {
		a.buf.Reset()
		return nil, fmt.Errorf("%w: limit %d bytes", ErrMessageTooLarge, a.limit)
	}

	payload := make([]byte, a.buf.Len())
	copy(payload, a.buf.Bytes())
	return payload, nil
}

// Next reads and decodes the next AppMessage.
func (a *Assembler) Next() (protocol.AppMessage, error) {
	payload, err := a.ReadPayload()
	if err != nil {
		return protocol.AppMessage{}, err
	}
	return protocol.Decode(payload)
}

func wrapReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("%w: %w", ErrPeerClosed, closeErr)
	}
	return err
}
