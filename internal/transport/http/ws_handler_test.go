package http

import (
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/identity"
	"github.com/vovakirdan/wirecall/internal/metrics"
	"github.com/vovakirdan/wirecall/internal/proto"
	"github.com/vovakirdan/wirecall/internal/store"
	"github.com/vovakirdan/wirecall/internal/store/sqlite"
)

type testEnv struct {
	ts    *httptest.Server
	hub   *core.Hub
	store store.CallStore
}

func startTestServer(t *testing.T, resolver identity.Resolver) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	disabledLogger := zerolog.Nop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	recorder := core.NewCallRecorder(st, &disabledLogger, core.WithRetries(1, time.Millisecond))
	go recorder.Run(ctx)

	hub := core.NewHub(recorder, &disabledLogger, core.WithMetrics(m))
	go hub.Run(ctx)

	cfg := config.Default()
	cfg.Addr = ":0"
	server := NewServer(Deps{Hub: hub, Calls: st, Resolver: resolver, Gatherer: reg}, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub, store: st}
}

func (e *testEnv) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string, data any) {
	t.Helper()

	inbound, err := proto.NewInbound(msgType, data)
	if err != nil {
		t.Fatalf("marshal %s: %v", msgType, err)
	}
	if err := wsjson.Write(ctx, conn, inbound); err != nil {
		t.Fatalf("send %s: %v", msgType, err)
	}
}

// readUntil reads messages until one of msgType arrives and decodes its data into out.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string, out any) proto.OutboundRaw {
	t.Helper()

	for {
		var raw proto.OutboundRaw
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if raw.Type != msgType {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(raw.Data, out); err != nil {
				t.Fatalf("decode %s: %v", msgType, err)
			}
		}
		return raw
	}
}

func register(t *testing.T, ctx context.Context, conn *websocket.Conn, id, name string) proto.EventRegistered {
	t.Helper()

	send(t, ctx, conn, proto.InboundTypeRegisterUser, proto.RegisterUserData{Identity: id, DisplayName: name})
	var reg proto.EventRegistered
	readUntil(t, ctx, conn, proto.OutboundTypeRegistered, &reg)
	return reg
}

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, nil)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn := env.dial(t, ctx)
	register(t, ctx, conn, "alice", "Alice")

	resp, err := env.ts.Client().Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "wirecall_connections 1") {
		t.Fatalf("connection gauge missing from metrics:\n%s", body)
	}
}

func TestProtocolVersionMismatch(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn := env.dial(t, ctx)

	send(t, ctx, conn, proto.InboundTypeRegisterUser, proto.RegisterUserData{Identity: "alice", Protocol: proto.ProtocolVersion + 1})

	raw := readUntil(t, ctx, conn, proto.OutboundTypeError, nil)
	if raw.Error == nil || raw.Error.Code != core.ErrCodeUnsupportedVersion {
		t.Fatalf("expected unsupported_version error, got %+v", raw)
	}
}

func TestMalformedMessageKeepsConnection(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn := env.dial(t, ctx)

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw := readUntil(t, ctx, conn, proto.OutboundTypeError, nil)
	if raw.Error == nil || raw.Error.Code != core.ErrCodeInvalidMessage {
		t.Fatalf("expected invalid_message, got %+v", raw)
	}

	send(t, ctx, conn, "dance", map[string]string{})
	raw = readUntil(t, ctx, conn, proto.OutboundTypeError, nil)
	if raw.Error == nil || raw.Error.Code != core.ErrCodeInvalidMessage {
		t.Fatalf("expected invalid_message for unknown type, got %+v", raw)
	}

	reg := register(t, ctx, conn, "alice", "Alice")
	if reg.Identity != "alice" || reg.ConnectionID == "" {
		t.Fatalf("unexpected registration: %+v", reg)
	}
}

func TestCallFlowOverWebSocket(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doctor := env.dial(t, ctx)
	patient := env.dial(t, ctx)
	doctorReg := register(t, ctx, doctor, "dr-house", "Dr. House")
	patientReg := register(t, ctx, patient, "patient-7", "Patient")

	send(t, ctx, doctor, proto.InboundTypeInitiateCall, proto.InitiateCallData{CalleeID: "patient-7"})

	var incoming proto.EventIncomingCall
	readUntil(t, ctx, patient, proto.OutboundTypeIncomingCall, &incoming)
	if incoming.CallerID != "dr-house" || incoming.CallerName != "Dr. House" {
		t.Fatalf("unexpected incoming call: %+v", incoming)
	}

	send(t, ctx, patient, proto.InboundTypeAcceptCall, proto.CallRefData{CallID: incoming.CallID})

	var accepted proto.EventCallAccepted
	readUntil(t, ctx, doctor, proto.OutboundTypeCallAccepted, &accepted)
	if accepted.RoomID != incoming.RoomID {
		t.Fatalf("room mismatch: %s vs %s", accepted.RoomID, incoming.RoomID)
	}

	send(t, ctx, doctor, proto.InboundTypeJoinRoom, proto.JoinRoomData{RoomID: accepted.RoomID, DisplayName: "Dr. House"})
	var empty []proto.Member
	readUntil(t, ctx, doctor, proto.OutboundTypeExistingUsers, &empty)
	if len(empty) != 0 {
		t.Fatalf("expected empty room, got %+v", empty)
	}

	send(t, ctx, patient, proto.InboundTypeJoinRoom, proto.JoinRoomData{RoomID: incoming.RoomID, DisplayName: "Patient"})
	var members []proto.Member
	readUntil(t, ctx, patient, proto.OutboundTypeExistingUsers, &members)
	if len(members) != 1 || members[0].ID != doctorReg.ConnectionID {
		t.Fatalf("unexpected members: %+v", members)
	}

	var joined proto.EventUserJoined
	readUntil(t, ctx, doctor, proto.OutboundTypeUserJoined, &joined)
	if joined.PeerID != patientReg.ConnectionID || joined.PeerName != "Patient" {
		t.Fatalf("unexpected user-joined: %+v", joined)
	}

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}`)
	send(t, ctx, patient, proto.InboundTypeOffer, proto.SessionDescriptionData{Target: doctorReg.ConnectionID, SDP: sdp})

	var offer proto.EventSessionDescription
	readUntil(t, ctx, doctor, proto.OutboundTypeOffer, &offer)
	if offer.Caller != patientReg.ConnectionID || offer.Name != "Patient" {
		t.Fatalf("offer not tagged with sender: %+v", offer)
	}
	var gotSDP, wantSDP map[string]string
	_ = json.Unmarshal(offer.SDP, &gotSDP)
	_ = json.Unmarshal(sdp, &wantSDP)
	if gotSDP["sdp"] != wantSDP["sdp"] || gotSDP["type"] != "offer" {
		t.Fatalf("sdp altered: %s", offer.SDP)
	}

	send(t, ctx, doctor, proto.InboundTypeChatMessage, proto.ChatMessageData{RoomID: accepted.RoomID, Message: "hello"})
	var chat proto.EventChatMessage
	readUntil(t, ctx, patient, proto.OutboundTypeChatMessage, &chat)
	if chat.Sender != "Dr. House" || chat.SenderID != doctorReg.ConnectionID || chat.Message != "hello" {
		t.Fatalf("unexpected chat: %+v", chat)
	}

	// The accepted status lands in the store asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := env.ts.Client().Get(env.ts.URL + "/api/calls/" + incoming.CallID)
		if err != nil {
			t.Fatalf("get call: %v", err)
		}
		var call CallResponse
		_ = json.NewDecoder(resp.Body).Decode(&call)
		resp.Body.Close()
		if resp.StatusCode == stdhttp.StatusOK && call.Status == string(store.CallStatusAccepted) {
			if call.CallerID != "dr-house" || call.CalleeID != "patient-7" || call.RoomID != incoming.RoomID {
				t.Fatalf("unexpected call record: %+v", call)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("call never recorded as accepted, last status %d %+v", resp.StatusCode, call)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDisconnectNotifiesRoom(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := env.dial(t, ctx)
	b := env.dial(t, ctx)
	register(t, ctx, a, "alice", "Alice")
	bReg := register(t, ctx, b, "bob", "Bob")

	send(t, ctx, a, proto.InboundTypeJoinRoom, proto.JoinRoomData{RoomID: "room-x"})
	readUntil(t, ctx, a, proto.OutboundTypeExistingUsers, nil)
	send(t, ctx, b, proto.InboundTypeJoinRoom, proto.JoinRoomData{RoomID: "room-x"})
	readUntil(t, ctx, a, proto.OutboundTypeUserJoined, nil)

	b.Close(websocket.StatusNormalClosure, "bye")

	var left proto.EventUserLeft
	readUntil(t, ctx, a, proto.OutboundTypeUserLeft, &left)
	if left.PeerID != bReg.ConnectionID {
		t.Fatalf("unexpected user-left: %+v", left)
	}
}

func TestListParticipantCalls(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx)
	register(t, ctx, conn, "alice", "Alice")
	send(t, ctx, conn, proto.InboundTypeInitiateCall, proto.InitiateCallData{CalleeID: "nobody"})
	readUntil(t, ctx, conn, proto.OutboundTypeCalleeOffline, nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := env.ts.Client().Get(env.ts.URL + "/api/participants/alice/calls?limit=5")
		if err != nil {
			t.Fatalf("list calls: %v", err)
		}
		var calls []CallResponse
		_ = json.NewDecoder(resp.Body).Decode(&calls)
		resp.Body.Close()
		if len(calls) == 1 && calls[0].Status == string(store.CallStatusEnded) {
			if calls[0].EndReason != string(store.EndReasonUnreachable) {
				t.Fatalf("expected unreachable end reason, got %+v", calls[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("unexpected call list: %+v", calls)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := env.ts.Client().Get(env.ts.URL + "/api/participants/alice/calls?limit=zero")
	if err != nil {
		t.Fatalf("list calls: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestPresenceEndpoint(t *testing.T) {
	env := startTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn := env.dial(t, ctx)
	register(t, ctx, conn, "alice", "Alice")

	for identity, want := range map[string]bool{"alice": true, "bob": false} {
		resp, err := env.ts.Client().Get(env.ts.URL + "/api/participants/" + identity + "/presence")
		if err != nil {
			t.Fatalf("presence: %v", err)
		}
		var p PresenceResponse
		_ = json.NewDecoder(resp.Body).Decode(&p)
		resp.Body.Close()
		if p.Online != want {
			t.Fatalf("%s: expected online=%v, got %+v", identity, want, p)
		}
	}
}
