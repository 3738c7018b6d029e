package peer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirecall/internal/proto"
)

// scriptedServer answers register-user and then pushes one user-joined event.
func scriptedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx := r.Context()

		var in proto.Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil || in.Type != proto.InboundTypeRegisterUser {
			return
		}
		_ = wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeUserLeft, Data: proto.EventUserLeft{PeerID: "stale"}})
		_ = wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeRegistered, Data: proto.EventRegistered{ConnectionID: "c-1", Identity: "alice"}})
		_ = wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeUserJoined, Data: proto.EventUserJoined{PeerID: "c-2", PeerName: "Bob"}})

		// wait for the client to hang up
		_, _, _ = conn.Read(ctx)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWSSignalerRegisterAndEvents(t *testing.T) {
	srv := scriptedServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sig, err := DialSignaler(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	reg, err := sig.Register(ctx, proto.RegisterUserData{Identity: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", reg.ConnectionID)
	assert.Equal(t, "alice", reg.Identity)

	select {
	case ev := <-sig.Events():
		require.Equal(t, proto.OutboundTypeUserJoined, ev.Type)
		var joined proto.EventUserJoined
		require.NoError(t, decode(ev, &joined))
		assert.Equal(t, "Bob", joined.PeerName)
	case <-ctx.Done():
		t.Fatal("no event after registration")
	}

	_ = sig.Close()
	require.NoError(t, sig.Close(), "second close is a no-op")
	select {
	case _, ok := <-sig.Events():
		assert.False(t, ok, "events close with the connection")
	case <-ctx.Done():
		t.Fatal("events channel not closed")
	}
}
