// Package hub fans camera events out to websocket clients over buffered
// channels. Clients that cannot keep up are dropped.
package hub

import "encoding/json"

// MessageType indicates the websocket frame type.
type MessageType int

const (
	// JSONMessage is sent as a text frame.
	JSONMessage MessageType = iota
	// BinaryMessage is sent as a binary frame (e.g. JPEG previews).
	BinaryMessage
)

// Message is one frame queued for every client.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps raw bytes.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// EventType names a dashboard event.
type EventType string

const (
	// EventProgress is the latest progress of a running calibration.
	EventProgress EventType = "progress"
	// EventCamera carries a camera's state after a change.
	EventCamera EventType = "camera"
	// EventRemoved reports a deleted camera.
	EventRemoved EventType = "removed"
	// EventBoard reports a board change.
	EventBoard EventType = "board"
)

// Event is the JSON payload sent to dashboard clients.
type Event struct {
	Type     EventType `json:"type"`
	CameraID int       `json:"camera_id,omitempty"`
	RunID    string    `json:"run_id,omitempty"`
	Percent  int       `json:"percent"`
	Phase    string    `json:"phase,omitempty"`
	Status   string    `json:"status,omitempty"`
	Message  string    `json:"message,omitempty"`

	// HasPreview is set when a preview can be fetched for the camera.
	HasPreview bool `json:"has_preview,omitempty"`
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	return e.Type == EventCamera && (e.Status == "succeeded" || e.Status == "failed" || e.Status == "not_run")
}

// DecodeEvent parses a JSON event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}
