package presence

import (
	"encoding/json"
	"time"

	"quillsync/internal/model"
)

// Event names carried on the document channel.
const (
	EventUserJoin      = "user_join"
	EventHeartbeat     = "heartbeat"
	EventCursorUpdate  = "cursor_update"
	EventContentChange = "content_change"
	EventUserLeave     = "user_leave"
)

// Envelope is the wire message for all presence and content events on a
// document channel. Content is set for content_change, Cursor for
// cursor_update; the identity fields ride on every event.
type Envelope struct {
	Event       string        `json:"event"`
	UserID      string        `json:"userId"`
	DisplayName string        `json:"displayName"`
	Color       string        `json:"color"`
	Timestamp   int64         `json:"timestamp"`
	Content     string        `json:"content,omitempty"`
	Cursor      *model.Cursor `json:"cursor,omitempty"`
}

func (e Envelope) encode() ([]byte, error) {
	return json.Marshal(e)
}

func decodeEnvelope(payload []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(payload, &e)
	return e, err
}

// ChannelName is the pub/sub topic for one document. The websocket relay
// uses the same topic so library and websocket clients share a channel.
func ChannelName(documentID string) string {
	return "document:" + documentID
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
