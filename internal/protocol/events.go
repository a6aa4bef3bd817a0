package protocol

import "time"

// ChangeKind classifies a mailbox change reported by the server.
type ChangeKind string

const (
	// KindNewMessageCount marks an update to the number of messages in
	// the mailbox (an untagged EXISTS line).
	KindNewMessageCount ChangeKind = "new-message-count"
	// KindOther marks any other mailbox mutation (EXPUNGE, RECENT, flag
	// changes).
	KindOther ChangeKind = "other"
)

// ChangeEvent is one server-reported mailbox mutation.
type ChangeEvent struct {
	Kind       ChangeKind
	Value      uint32
	ObservedAt time.Time
}

// EventType distinguishes the outcomes of a single poll.
type EventType int

const (
	// EventTimeout means no line arrived within the poll window. It is
	// the zero value: an empty Event means "nothing happened".
	EventTimeout EventType = iota
	// EventHeartbeat is server keepalive traffic.
	EventHeartbeat
	// EventChange carries a ChangeEvent.
	EventChange
	// EventClosed means the server ended the session (BYE or dropped
	// transport). The session is no longer usable.
	EventClosed
)

// Event is the result of one PollEvent call.
type Event struct {
	Type   EventType
	Change ChangeEvent
}
