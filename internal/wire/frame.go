// Package wire defines the JSON frames exchanged over the sync websocket.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Type is the frame discriminator carried in the "type" field.
type Type string

const (
	TypeConnected  Type = "connected"
	TypeNewMessage Type = "new_message"
	TypeHeartbeat  Type = "heartbeat"
	TypePing       Type = "ping"
	TypePong       Type = "pong"
)

// Frame is one websocket message. Only the fields relevant to Type are set.
type Frame struct {
	Type      Type        `json:"type"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Data      *NewMessage `json:"data,omitempty"`
}

// NewMessage is the payload of a new_message frame.
type NewMessage struct {
	ChatID    int64  `json:"chatId"`
	MessageID int64  `json:"messageId"`
	TS        int64  `json:"ts"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
}

// Message converts the payload into the domain message.
func (n NewMessage) Message() chat.Message {
	return chat.Message{
		ID:        n.MessageID,
		ChatID:    n.ChatID,
		Timestamp: n.TS,
		Sender:    n.Sender,
		Body:      n.Body,
	}
}

// Connected builds the acknowledgment sent on accept.
func Connected(ts int64) Frame { return Frame{Type: TypeConnected, Timestamp: ts} }

// Heartbeat builds the periodic server heartbeat.
func Heartbeat(ts int64) Frame { return Frame{Type: TypeHeartbeat, Timestamp: ts} }

// Ping builds the client liveness probe.
func Ping() Frame { return Frame{Type: TypePing} }

// Pong builds the reply to a ping.
func Pong(ts int64) Frame { return Frame{Type: TypePong, Timestamp: ts} }

// NewMessageFrame wraps m in a new_message frame.
func NewMessageFrame(m chat.Message) Frame {
	return Frame{
		Type: TypeNewMessage,
		Data: &NewMessage{
			ChatID:    m.ChatID,
			MessageID: m.ID,
			TS:        m.Timestamp,
			Sender:    m.Sender,
			Body:      m.Body,
		},
	}
}

// Known reports whether t is one of the frame types of the protocol.
func (t Type) Known() bool {
	switch t {
	case TypeConnected, TypeNewMessage, TypeHeartbeat, TypePing, TypePong:
		return true
	}
	return false
}

// DecodeError is returned for a payload that is not a valid frame.
// It is never fatal to the connection.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	errMissingType = errors.New("missing type")
	errMissingData = errors.New("new_message without data")
)

// Encode marshals f to JSON.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses a frame. Unknown types decode without error so callers can
// log and skip them; structurally invalid payloads yield a *DecodeError.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, &DecodeError{Size: len(data), Err: err}
	}
	if f.Type == "" {
		return Frame{}, &DecodeError{Size: len(data), Err: errMissingType}
	}
	if f.Type == TypeNewMessage && f.Data == nil {
		return Frame{}, &DecodeError{Size: len(data), Err: errMissingData}
	}
	return f, nil
}
