package hub

import (
	"encoding/json"
	"time"

	"github.com/aretw0/docsync/pkg/core"
)

// Wire message types.
const (
	TypeFileUpdate = "file_update"
	TypeFileDelete = "file_delete"
)

// Commands a viewer may send over the live channel.
const (
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"
)

// Message is the JSON frame pushed to every session for a change.
// ProductName duplicates Namespace for viewers that predate namespaces.
type Message struct {
	Type        string    `json:"type"`
	Filename    string    `json:"filename"`
	Namespace   string    `json:"namespace"`
	ProductName string    `json:"productName"`
	Data        any       `json:"data,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewMessage converts a change event to its wire form.
func NewMessage(ev core.ChangeEvent) Message {
	msg := Message{
		Type:        TypeFileUpdate,
		Filename:    ev.Name,
		Namespace:   ev.Namespace,
		ProductName: ev.Namespace,
		Data:        ev.Payload,
		Timestamp:   ev.Timestamp.UTC(),
	}
	if ev.Kind == core.EventDeleted {
		msg.Type = TypeFileDelete
		msg.Data = nil
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg
}

// Key returns the document key the message refers to.
func (m Message) Key() core.Key {
	return core.Key{Namespace: m.Namespace, Name: m.Filename}
}

// Encode renders the message as a single JSON frame.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Command is a frame sent by a viewer. Keys use the "namespace/name" form.
type Command struct {
	Type string   `json:"type"`
	Keys []string `json:"keys"`
}
