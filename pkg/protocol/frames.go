// Package protocol defines the JSON the overlay server speaks: the
// /state.json document and the frames pushed over the /ws stream.
// It has no dependencies on the rest of famista so overlay clients can
// import it.
package protocol

// ProtocolVersion is sent in the hello frame.
const ProtocolVersion = 1

// FrameTypeEvent is the only frame type the server pushes.
const FrameTypeEvent = "event"

// EventFrame is pushed from server to client.
type EventFrame struct {
	Type    string `json:"type"`              // always "event"
	Event   string `json:"event"`             // event name
	Payload any    `json:"payload,omitempty"` // event data
	Seq     uint64 `json:"seq,omitempty"`     // snapshot sequence, when the event carries one
}

// NewEvent builds an event frame.
func NewEvent(event string, payload any, seq uint64) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: event, Payload: payload, Seq: seq}
}

// Hello is the payload of the first frame on a stream.
type Hello struct {
	Protocol int       `json:"protocol"`
	State    StateView `json:"state"`
}

// ErrorShape is the body of a non-2xx JSON response.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
