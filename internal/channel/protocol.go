package channel

import "encoding/json"

type MessageType string

const (
	// Client to server.
	MsgSubscribe   MessageType = "subscribe"
	MsgUnsubscribe MessageType = "unsubscribe"
	MsgPublish     MessageType = "publish"

	// Server to client.
	MsgEvent MessageType = "event"
	MsgError MessageType = "error"
)

// Frame is the single message shape on the event channel.
type Frame struct {
	Type    MessageType     `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

func eventFrame(topic, event string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Type: MsgEvent, Topic: topic, Event: event, Payload: payload})
}

// ErrorFrame serializes a non-fatal error notice for one client.
func ErrorFrame(message string) []byte {
	data, _ := json.Marshal(Frame{Type: MsgError, Message: message})
	return data
}
