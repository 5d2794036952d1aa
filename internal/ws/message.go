// Package ws implements the real-time pub/sub hub that pushes pipeline
// events to connected clients over gorilla/websocket: availability
// transitions, job progress, and per-user notifications.
//
// Topic naming convention:
//
//	availability             — every registered→available transition
//	job:<id>                 — progress updates for one job
//	notifications:<user_id>  — in-app notifications for a specific user
package ws

// MessageType identifies the kind of event carried by a Message.
type MessageType string

const (
	// MsgAvailability is sent when a tracked domain transitions from
	// registered to available.
	MsgAvailability MessageType = "availability"

	// MsgJobProgress is sent after a batch flush with the job's updated
	// processed/errors counters.
	MsgJobProgress MessageType = "job.progress"

	// MsgNotification is sent when a new in-app notification is created for
	// the subscribed user.
	MsgNotification MessageType = "notification"
)

// Message is the envelope for every frame sent to clients.
//
// JSON example:
//
//	{"type":"availability","topic":"availability","payload":{"name":"expired.example"}}
type Message struct {
	Type    MessageType `json:"type"`
	Topic   string      `json:"topic"`
	Payload any         `json:"payload"`
}
