package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirecall/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustNotEvent fails if an event of kind arrives on ch within wait.
func mustNotEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func startHub(t *testing.T, opts ...Option) (*Hub, *fakeRecorder) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	rec := &fakeRecorder{}
	hub := NewHub(rec, nil, opts...)
	go hub.Run(ctx)
	return hub, rec
}

// connect registers a fresh client under identity and waits for the confirmation.
func connect(t *testing.T, hub *Hub, id, identity string) *Client {
	t.Helper()

	c := NewClient(id, identity, 0)
	hub.RegisterClient(c)
	if identity != "" {
		c.Commands <- &Command{Kind: CommandRegisterUser, Identity: identity, DisplayName: identity}
		mustEvent(t, c.Events, EventRegistered)
	}
	return c
}

type recordedWrite struct {
	op     string
	callID string
	status store.CallStatus
	reason store.EndReason
}

type fakeRecorder struct {
	mu     sync.Mutex
	writes []recordedWrite
}

func (f *fakeRecorder) RecordCreated(call store.Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, recordedWrite{op: "create", callID: call.ID, status: call.Status, reason: call.EndReason})
}

func (f *fakeRecorder) RecordStatus(callID string, status store.CallStatus, reason store.EndReason, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, recordedWrite{op: "update", callID: callID, status: status, reason: reason})
}

func (f *fakeRecorder) forCall(callID string) []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedWrite
	for _, w := range f.writes {
		if w.callID == callID {
			out = append(out, w)
		}
	}
	return out
}
