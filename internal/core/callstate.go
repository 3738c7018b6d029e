package core

import (
	"time"

	"github.com/vovakirdan/wirecall/internal/store"
)

// CallState is the lifecycle position of a call invitation.
type CallState int

const (
	CallStateUninitiated CallState = iota
	CallStateRinging
	CallStateAccepted
	CallStateRejected
	CallStateTimedOut
	CallStateUnreachable
	CallStateCanceled
	CallStateEnded
)

var callStateNames = map[CallState]string{
	CallStateUninitiated: "uninitiated",
	CallStateRinging:     "ringing",
	CallStateAccepted:    "accepted",
	CallStateRejected:    "rejected",
	CallStateTimedOut:    "timed_out",
	CallStateUnreachable: "unreachable",
	CallStateCanceled:    "canceled",
	CallStateEnded:       "ended",
}

func (s CallState) String() string {
	if name, ok := callStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	switch s {
	case CallStateRejected, CallStateTimedOut, CallStateUnreachable, CallStateCanceled, CallStateEnded:
		return true
	}
	return false
}

// Persisted returns the stored status and end reason for s.
// Timeouts, unreachable callees and cancellations are stored as ended calls
// so the persisted sequence stays within pending, accepted, rejected, ended.
func (s CallState) Persisted() (store.CallStatus, store.EndReason) {
	switch s {
	case CallStateAccepted:
		return store.CallStatusAccepted, store.EndReasonNone
	case CallStateRejected:
		return store.CallStatusRejected, store.EndReasonNone
	case CallStateTimedOut:
		return store.CallStatusEnded, store.EndReasonTimeout
	case CallStateUnreachable:
		return store.CallStatusEnded, store.EndReasonUnreachable
	case CallStateCanceled:
		return store.CallStatusEnded, store.EndReasonCanceled
	case CallStateEnded:
		return store.CallStatusEnded, store.EndReasonHangup
	default:
		return store.CallStatusPending, store.EndReasonNone
	}
}

var callTransitions = map[CallState][]CallState{
	CallStateUninitiated: {CallStateRinging, CallStateUnreachable},
	CallStateRinging:     {CallStateAccepted, CallStateRejected, CallStateTimedOut, CallStateCanceled, CallStateUnreachable},
	CallStateAccepted:    {CallStateEnded},
}

// CanTransition reports whether from -> to is a legal call transition.
func CanTransition(from, to CallState) bool {
	for _, next := range callTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Participant is one side of a call.
type Participant struct {
	Identity string
	Name     string
}

// callSession is the hub-owned record of a single invitation.
type callSession struct {
	id      string
	roomID  string
	caller  Participant
	callee  Participant
	state   CallState
	created time.Time
	ended   time.Time
	timer   *time.Timer

	// set once the party has been a member of roomID
	callerJoined bool
	calleeJoined bool
}

// transition moves the call to next when legal. Terminal states stop the ring timer.
func (c *callSession) transition(next CallState, at time.Time) bool {
	if !CanTransition(c.state, next) {
		return false
	}
	c.state = next
	if next.Terminal() {
		c.ended = at
	}
	if next != CallStateRinging && c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return true
}

func (c *callSession) isParticipant(identity string) bool {
	return identity != "" && (identity == c.caller.Identity || identity == c.callee.Identity)
}

func (c *callSession) markJoined(identity string) {
	switch identity {
	case c.caller.Identity:
		c.callerJoined = true
	case c.callee.Identity:
		c.calleeJoined = true
	}
}

func (c *callSession) bothJoined() bool {
	return c.callerJoined && c.calleeJoined
}

// peerOf returns the other side of the call.
func (c *callSession) peerOf(identity string) string {
	if identity == c.caller.Identity {
		return c.callee.Identity
	}
	return c.caller.Identity
}

func (c *callSession) record() store.Call {
	status, reason := c.state.Persisted()
	return store.Call{
		ID:        c.id,
		CallerID:  c.caller.Identity,
		CalleeID:  c.callee.Identity,
		RoomID:    c.roomID,
		Status:    status,
		EndReason: reason,
		CreatedAt: c.created,
		UpdatedAt: c.created,
	}
}

func (c *callSession) event() *CallEvent {
	return &CallEvent{
		CallID:     c.id,
		RoomID:     c.roomID,
		CallerID:   c.caller.Identity,
		CallerName: c.caller.Name,
		CalleeID:   c.callee.Identity,
		State:      c.state.String(),
	}
}
