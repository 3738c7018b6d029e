package core

import (
	"encoding/json"
	"time"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRegistered confirms a register-user command.
	EventRegistered EventKind = iota
	// EventError notifies clients about a domain error.
	EventError

	// Call events
	// EventIncomingCall rings the callee.
	EventIncomingCall
	// EventCallRinging confirms to the caller that the callee is being rung.
	EventCallRinging
	// EventCalleeOffline tells the caller the callee has no live connection.
	EventCalleeOffline
	// EventCallAccepted notifies the caller that the call was accepted.
	EventCallAccepted
	// EventCallRejected notifies the caller that the call was rejected.
	EventCallRejected
	// EventCallTooLate answers a transition request on a call that can no longer take it.
	EventCallTooLate
	// EventCallCanceled tells the callee to stop ringing.
	EventCallCanceled
	// EventCallTimeout tells the caller nobody answered in time.
	EventCallTimeout
	// EventCallEnded notifies the other party of a hangup.
	EventCallEnded

	// Room events
	// EventExistingUsers delivers the membership snapshot to a joiner.
	EventExistingUsers
	// EventUserJoined notifies existing members about a new member.
	EventUserJoined
	// EventUserLeft notifies remaining members about a departure.
	EventUserLeft

	// Relay events
	// EventOffer is a relayed SDP offer.
	EventOffer
	// EventAnswer is a relayed SDP answer.
	EventAnswer
	// EventICECandidate is a relayed ICE candidate.
	EventICECandidate
	// EventChatMessage is a chat line in the room.
	EventChatMessage
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Room     string
	From     string // sender connection id for relayed and membership events
	FromName string
	Identity string // EventRegistered
	Payload  json.RawMessage
	Text     string
	Members  []Member // EventExistingUsers
	Call     *CallEvent
	Error    *CoreError
	At       time.Time
}

// Member is one room member as exposed to other members.
type Member struct {
	ID          string
	DisplayName string
}

// CallEvent holds data specific to call events.
type CallEvent struct {
	CallID     string
	RoomID     string
	CallerID   string
	CallerName string
	CalleeID   string
	State      string // current state for too-late answers
	Reason     string // canceled/ended reasons
	By         string // identity that ended the call
}

func errorEvent(code, msg string) *Event {
	return &Event{Kind: EventError, Error: coreError(code, msg)}
}
