package core

import (
	"time"

	"github.com/vovakirdan/wirecall/internal/store"
	"github.com/vovakirdan/wirecall/internal/utils"
)

// Reasons attached to canceled and ended notifications.
const (
	ReasonCanceled           = "canceled"
	ReasonCallerDisconnected = "caller_disconnected"
	ReasonTimeout            = "timeout"
	ReasonHangup             = "hangup"
	ReasonRoomEmpty          = "room_empty"
	ReasonDisconnected       = "disconnected"
)

func (h *Hub) identityOf(c *Client) (string, bool) {
	identity, ok := h.presence.IdentityOf(c)
	if !ok {
		h.deliver(c, errorEvent(ErrCodeNotRegistered, "register-user first"))
	}
	return identity, ok
}

func (h *Hub) handleInitiate(c *Client, cmd *Command) {
	caller, ok := h.identityOf(c)
	if !ok {
		return
	}
	if cmd.CalleeID == "" {
		h.deliver(c, errorEvent(ErrCodeBadRequest, "calleeId required"))
		return
	}
	if cmd.CalleeID == caller {
		h.deliver(c, errorEvent(ErrCodeCannotCallSelf, "cannot call yourself"))
		return
	}

	now := h.now()
	call := &callSession{
		id:      utils.NewCallID(),
		roomID:  utils.NewRoomID(),
		caller:  Participant{Identity: caller, Name: c.Name},
		callee:  Participant{Identity: cmd.CalleeID},
		state:   CallStateUninitiated,
		created: now,
	}
	h.calls[call.id] = call
	h.callByRoom[call.roomID] = call
	if h.recorder != nil {
		h.recorder.RecordCreated(call.record())
	}
	h.metrics.CallInitiated()

	calleeConn, online := h.presence.Lookup(cmd.CalleeID)
	if !online {
		h.applyTransition(call, CallStateUnreachable, now, "")
		h.deliver(c, &Event{Kind: EventCalleeOffline, Call: call.event()})
		return
	}
	call.callee.Name = calleeConn.Name

	h.applyTransition(call, CallStateRinging, now, "")
	callID := call.id
	call.timer = time.AfterFunc(h.ringTimeout, func() {
		select {
		case h.timeouts <- callID:
		case <-h.done:
		}
	})

	h.log.Info().
		Str("call_id", call.id).
		Str("caller", caller).
		Str("callee", cmd.CalleeID).
		Msg("call ringing")

	h.deliver(calleeConn, &Event{Kind: EventIncomingCall, Call: call.event()})
	h.deliver(c, &Event{Kind: EventCallRinging, Call: call.event()})
}

// lookupCall resolves the call a command refers to and checks that identity takes part in it.
func (h *Hub) lookupCall(c *Client, cmd *Command, identity string) (*callSession, bool) {
	if cmd.CallID == "" {
		h.deliver(c, errorEvent(ErrCodeBadRequest, "callId required"))
		return nil, false
	}
	call, ok := h.calls[cmd.CallID]
	if !ok {
		h.deliver(c, errorEvent(ErrCodeCallNotFound, "call not found"))
		return nil, false
	}
	if !call.isParticipant(identity) {
		h.deliver(c, errorEvent(ErrCodeNotParticipant, "not a participant of this call"))
		return nil, false
	}
	return call, true
}

func (h *Hub) tooLate(c *Client, call *callSession) {
	h.deliver(c, &Event{Kind: EventCallTooLate, Call: call.event()})
}

func (h *Hub) handleAccept(c *Client, cmd *Command) {
	identity, ok := h.identityOf(c)
	if !ok {
		return
	}
	call, ok := h.lookupCall(c, cmd, identity)
	if !ok {
		return
	}
	if identity != call.callee.Identity {
		h.deliver(c, errorEvent(ErrCodeNotParticipant, "only the callee can accept"))
		return
	}
	if !h.applyTransition(call, CallStateAccepted, h.now(), "") {
		h.tooLate(c, call)
		return
	}
	h.deliverTo(call.caller.Identity, &Event{Kind: EventCallAccepted, Call: call.event()})
}

func (h *Hub) handleReject(c *Client, cmd *Command) {
	identity, ok := h.identityOf(c)
	if !ok {
		return
	}
	call, ok := h.lookupCall(c, cmd, identity)
	if !ok {
		return
	}
	if identity != call.callee.Identity {
		h.deliver(c, errorEvent(ErrCodeNotParticipant, "only the callee can reject"))
		return
	}
	if !h.applyTransition(call, CallStateRejected, h.now(), "") {
		h.tooLate(c, call)
		return
	}
	h.deliverTo(call.caller.Identity, &Event{Kind: EventCallRejected, Call: call.event()})
}

func (h *Hub) handleCancel(c *Client, cmd *Command) {
	identity, ok := h.identityOf(c)
	if !ok {
		return
	}
	call, ok := h.lookupCall(c, cmd, identity)
	if !ok {
		return
	}
	if identity != call.caller.Identity {
		h.deliver(c, errorEvent(ErrCodeNotParticipant, "only the caller can cancel"))
		return
	}
	if !h.applyTransition(call, CallStateCanceled, h.now(), "") {
		h.tooLate(c, call)
		return
	}
	ev := call.event()
	ev.Reason = ReasonCanceled
	h.deliverTo(call.callee.Identity, &Event{Kind: EventCallCanceled, Call: ev})
}

func (h *Hub) handleEnd(c *Client, cmd *Command) {
	identity, ok := h.identityOf(c)
	if !ok {
		return
	}
	call, ok := h.lookupCall(c, cmd, identity)
	if !ok {
		return
	}
	if !h.applyTransition(call, CallStateEnded, h.now(), store.EndReasonHangup) {
		h.tooLate(c, call)
		return
	}
	ev := call.event()
	ev.Reason = ReasonHangup
	ev.By = identity
	h.deliverTo(call.peerOf(identity), &Event{Kind: EventCallEnded, Call: ev})
}

func (h *Hub) handleRingTimeout(callID string) {
	call, ok := h.calls[callID]
	if !ok {
		return
	}
	if !h.applyTransition(call, CallStateTimedOut, h.now(), "") {
		return
	}
	h.log.Info().Str("call_id", call.id).Msg("call timed out")

	h.deliverTo(call.caller.Identity, &Event{Kind: EventCallTimeout, Call: call.event()})
	ev := call.event()
	ev.Reason = ReasonTimeout
	h.deliverTo(call.callee.Identity, &Event{Kind: EventCallCanceled, Call: ev})
}

// cancelRingingFrom withdraws every invitation identity is still ringing out.
func (h *Hub) cancelRingingFrom(identity string) {
	now := h.now()
	for _, call := range h.calls {
		if call.caller.Identity != identity || call.state != CallStateRinging {
			continue
		}
		h.applyTransition(call, CallStateCanceled, now, "")
		ev := call.event()
		ev.Reason = ReasonCallerDisconnected
		h.deliverTo(call.callee.Identity, &Event{Kind: EventCallCanceled, Call: ev})
	}
}

// dropRingingTo reports invitations to a callee that went offline mid-ring.
func (h *Hub) dropRingingTo(identity string) {
	now := h.now()
	for _, call := range h.calls {
		if call.callee.Identity != identity || call.state != CallStateRinging {
			continue
		}
		h.applyTransition(call, CallStateUnreachable, now, "")
		h.deliverTo(call.caller.Identity, &Event{Kind: EventCalleeOffline, Call: call.event()})
	}
}

// endRoomCall runs when roomID empties. Once both parties have been in the
// room an empty room ends the call quietly. Before that the call survives
// unless one of its parties is offline.
func (h *Hub) endRoomCall(roomID string) {
	call, ok := h.callByRoom[roomID]
	if !ok || call.state != CallStateAccepted {
		return
	}
	if call.bothJoined() {
		h.applyTransition(call, CallStateEnded, h.now(), store.EndReasonRoomEmpty)
		h.log.Info().Str("call_id", call.id).Msg("call ended, room empty")
		return
	}
	for _, p := range []Participant{call.caller, call.callee} {
		if _, online := h.presence.Lookup(p.Identity); !online {
			h.endDisconnected(call, p.Identity)
			return
		}
	}
}

// endAbandonedCalls ends accepted calls of an identity that went offline
// while nobody is left in the call's room to carry it on.
func (h *Hub) endAbandonedCalls(identity string) {
	for _, call := range h.calls {
		if call.state != CallStateAccepted || !call.isParticipant(identity) {
			continue
		}
		if room, ok := h.rooms.Get(call.roomID); ok && !room.Empty() {
			continue
		}
		h.endDisconnected(call, identity)
	}
}

func (h *Hub) endDisconnected(call *callSession, identity string) {
	if !h.applyTransition(call, CallStateEnded, h.now(), store.EndReasonDisconnected) {
		return
	}
	h.log.Info().Str("call_id", call.id).Str("identity", identity).Msg("call ended, participant offline")
	ev := call.event()
	ev.Reason = ReasonDisconnected
	ev.By = identity
	h.deliverTo(call.peerOf(identity), &Event{Kind: EventCallEnded, Call: ev})
}

// applyTransition moves the call and queues the matching record write.
// reason overrides the end reason derived from the new state.
func (h *Hub) applyTransition(call *callSession, next CallState, at time.Time, reason store.EndReason) bool {
	if !call.transition(next, at) {
		return false
	}
	h.metrics.CallTransition(next.String())
	// Ringing keeps the pending status written at creation.
	if h.recorder == nil || next == CallStateRinging {
		return true
	}
	status, derived := next.Persisted()
	if reason == "" {
		reason = derived
	}
	h.recorder.RecordStatus(call.id, status, reason, at)
	return true
}
