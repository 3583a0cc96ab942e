package protocol

import (
	stdjson "encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

// codec matches encoding/json except that <, > and & are written as is, so
// echoed content keeps the bytes the client sent.
var codec = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// ErrDecode is returned for payloads that are not valid UTF-8 JSON AppMessages.
var ErrDecode = errors.New("malformed message")

// MessageType distinguishes requests from their echoed responses.
type MessageType string

const (
	Request  MessageType = "REQ"
	Response MessageType = "RSP"
)

type idKind uint8

const (
	idAbsent idKind = iota
	idNull
	idString
	idNumber
)

// MessageID is the caller-assigned correlation id. It accepts a JSON string,
// number or null and is written back in the form it was read. A message
// without an id is echoed without one.
type MessageID struct {
	value string
	kind  idKind
}

// NewID returns a string-typed id.
func NewID(s string) MessageID {
	return MessageID{value: s, kind: idString}
}

// NumericID returns an id that is encoded as a JSON number.
func NumericID(n int64) MessageID {
	return MessageID{value: strconv.FormatInt(n, 10), kind: idNumber}
}

func (id MessageID) String() string { return id.value }

// Numeric reports whether the id travels as a JSON number.
func (id MessageID) Numeric() bool { return id.kind == idNumber }

// Present reports whether the id field appeared in the decoded message.
func (id MessageID) Present() bool { return id.kind != idAbsent }

func (id MessageID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idNumber:
		return []byte(id.value), nil
	case idNull:
		return []byte("null"), nil
	}
	return codec.Marshal(id.value)
}

func (id *MessageID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		*id = MessageID{}
		return nil
	}
	if string(b) == "null" {
		*id = MessageID{kind: idNull}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := codec.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = NewID(s)
		return nil
	}
	var n stdjson.Number
	if err := codec.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = MessageID{value: n.String(), kind: idNumber}
	return nil
}

// AppMessage is the request/response envelope exchanged over the socket.
// Date is kept as raw JSON so numbers and strings pass through untouched.
type AppMessage struct {
	ID      MessageID          `json:"id"`
	Type    MessageType        `json:"type"`
	Content string             `json:"content"`
	Date    stdjson.RawMessage `json:"date,omitempty"`
}

// wireMessage is the encoded form of AppMessage; a nil ID leaves the field out.
type wireMessage struct {
	ID      *MessageID         `json:"id,omitempty"`
	Type    MessageType        `json:"type"`
	Content string             `json:"content"`
	Date    stdjson.RawMessage `json:"date,omitempty"`
}

func (m AppMessage) wire() wireMessage {
	w := wireMessage{Type: m.Type, Content: m.Content, Date: m.Date}
	if m.ID.Present() {
		w.ID = &m.ID
	}
	return w
}

func (m AppMessage) MarshalJSON() ([]byte, error) {
	return codec.Marshal(m.wire())
}

// Echo turns a request into its response. Only Type changes.
func Echo(msg AppMessage) AppMessage {
	msg.Type = Response
	return msg
}

// Encode serializes msg to its JSON wire form.
func Encode(msg AppMessage) ([]byte, error) {
	return codec.Marshal(msg.wire())
}

// Decode parses a complete text payload into an AppMessage.
func Decode(data []byte) (AppMessage, error) {
	var msg AppMessage
	if !utf8.Valid(data) {
		return msg, fmt.Errorf("%w: payload is not valid UTF-8", ErrDecode)
	}
	if err := codec.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return msg, nil
}
