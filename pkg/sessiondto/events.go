package sessiondto

import "time"

type EventKind string

const (
	EventSnapshot            EventKind = "snapshot"
	EventMoveApplied         EventKind = "moveApplied"
	EventStatusChanged       EventKind = "statusChanged"
	EventNegotiationCreated  EventKind = "negotiationCreated"
	EventNegotiationResolved EventKind = "negotiationResolved"
	EventReply               EventKind = "reply"
)

// Event is one outbound frame. State-changing events always carry the full
// snapshot; replies go only to the connection that sent the command.
type Event struct {
	Kind      EventKind      `json:"kind"`
	SessionID string         `json:"session_id"`
	Version   int64          `json:"version"`
	Session   *Snapshot      `json:"session,omitempty"`
	Reply     *CommandResult `json:"reply,omitempty"`
	At        time.Time      `json:"at"`
}
