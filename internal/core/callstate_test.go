package core

import (
	"testing"
	"time"

	"github.com/vovakirdan/wirecall/internal/store"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to CallState
		want     bool
	}{
		{CallStateUninitiated, CallStateRinging, true},
		{CallStateUninitiated, CallStateUnreachable, true},
		{CallStateUninitiated, CallStateAccepted, false},
		{CallStateRinging, CallStateAccepted, true},
		{CallStateRinging, CallStateRejected, true},
		{CallStateRinging, CallStateTimedOut, true},
		{CallStateRinging, CallStateCanceled, true},
		{CallStateRinging, CallStateUnreachable, true},
		{CallStateRinging, CallStateEnded, false},
		{CallStateAccepted, CallStateEnded, true},
		{CallStateAccepted, CallStateRejected, false},
		{CallStateRejected, CallStateAccepted, false},
		{CallStateTimedOut, CallStateAccepted, false},
		{CallStateEnded, CallStateEnded, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPersistedStatusesNeverMoveBackwards(t *testing.T) {
	rank := map[store.CallStatus]int{
		store.CallStatusPending:  0,
		store.CallStatusAccepted: 1,
		store.CallStatusRejected: 2,
		store.CallStatusEnded:    2,
	}

	// Walk every legal path from the start state and check the persisted sequence.
	var walk func(state CallState, prev store.CallStatus)
	walk = func(state CallState, prev store.CallStatus) {
		status, _ := state.Persisted()
		if rank[status] < rank[prev] {
			t.Fatalf("status moved backwards at %s: %s after %s", state, status, prev)
		}
		if state.Terminal() && len(callTransitions[state]) != 0 {
			t.Fatalf("terminal state %s has outgoing transitions", state)
		}
		for _, next := range callTransitions[state] {
			walk(next, status)
		}
	}
	walk(CallStateUninitiated, store.CallStatusPending)
}

func TestCallSessionTransitionStopsTimer(t *testing.T) {
	fired := make(chan struct{}, 1)
	call := &callSession{id: "c1", state: CallStateRinging}
	call.timer = time.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })

	if !call.transition(CallStateAccepted, time.Now()) {
		t.Fatal("ringing -> accepted rejected")
	}
	if call.timer != nil {
		t.Fatal("timer not cleared")
	}
	select {
	case <-fired:
		t.Fatal("ring timer fired after accept")
	case <-time.After(60 * time.Millisecond):
	}

	if call.transition(CallStateRejected, time.Now()) {
		t.Fatal("accepted -> rejected should be refused")
	}
	if call.state != CallStateAccepted {
		t.Fatalf("state changed on refused transition: %s", call.state)
	}
}

func TestCallSessionRecordsEndTime(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	call := &callSession{id: "c1", state: CallStateAccepted}

	call.transition(CallStateEnded, at)

	if !call.ended.Equal(at) {
		t.Fatalf("expected end time %v, got %v", at, call.ended)
	}
	status, reason := call.state.Persisted()
	if status != store.CallStatusEnded || reason != store.EndReasonHangup {
		t.Fatalf("unexpected persisted form %s/%s", status, reason)
	}
}

func TestCallSessionJoinedTracking(t *testing.T) {
	call := &callSession{
		caller: Participant{Identity: "alice"},
		callee: Participant{Identity: "bob"},
	}
	call.markJoined("mallory")
	call.markJoined("alice")
	if call.bothJoined() {
		t.Fatal("only the caller has joined")
	}
	call.markJoined("bob")
	if !call.bothJoined() {
		t.Fatal("expected both parties joined")
	}
}
