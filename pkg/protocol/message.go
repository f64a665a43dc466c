// Package protocol defines the messages exchanged over the sync websocket.
package protocol

import "encoding/json"

// Message types
const (
	// server -> client: full-state patch, sent once on join
	TypeInit = "init"
	// client -> server: one committed change
	TypeChange = "change"
	// server -> every client of the document, in backend order
	TypePatch = "patch"
	TypeError = "error"
	TypePing  = "ping"
)

// Message is the envelope of every websocket frame.
type Message struct {
	Type       string          `json:"type"`
	ClientID   string          `json:"clientId,omitempty"`
	DocumentID string          `json:"documentId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ErrorData is the payload of a TypeError message.
type ErrorData struct {
	Message string `json:"message"`
}

// New marshals data into a message of the given type.
func New(typ, documentID string, data any) (Message, error) {
	msg := Message{Type: typ, DocumentID: documentID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}
		msg.Data = raw
	}
	return msg, nil
}

// Encode marshals data into a ready-to-send frame.
func Encode(typ, documentID string, data any) ([]byte, error) {
	msg, err := New(typ, documentID, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}
