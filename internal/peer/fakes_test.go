package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirecall/internal/proto"
)

type sentMessage struct {
	Type string
	Data json.RawMessage
}

type fakeSignaler struct {
	mu     sync.Mutex
	sent   []sentMessage
	events chan proto.OutboundRaw
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{events: make(chan proto.OutboundRaw, 64)}
}

func (f *fakeSignaler) Send(_ context.Context, msgType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{Type: msgType, Data: payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaler) Events() <-chan proto.OutboundRaw {
	return f.events
}

func (f *fakeSignaler) emit(t *testing.T, msgType string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	f.events <- proto.OutboundRaw{Type: msgType, Data: payload}
}

func (f *fakeSignaler) sentOf(msgType string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSignaler) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// descriptionsTo decodes the offers or answers sent to target.
func (f *fakeSignaler) descriptionsTo(t *testing.T, msgType, target string) []webrtc.SessionDescription {
	t.Helper()
	var out []webrtc.SessionDescription
	for _, m := range f.sentOf(msgType) {
		var data proto.SessionDescriptionData
		require.NoError(t, json.Unmarshal(m.Data, &data))
		if data.Target != target {
			continue
		}
		var desc webrtc.SessionDescription
		require.NoError(t, json.Unmarshal(data.SDP, &desc))
		out = append(out, desc)
	}
	return out
}

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	s.track = track
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

type fakeConn struct {
	mu           sync.Mutex
	senders      []*fakeSender
	offerOptions []*webrtc.OfferOptions
	locals       []webrtc.SessionDescription
	remote       *webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit
	closed       int
	onState      func(webrtc.ICEConnectionState)
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) (trackSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeSender{track: track}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *fakeConn) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offerOptions = append(c.offerOptions, opts)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (c *fakeConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (c *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locals = append(c.locals, desc)
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = &desc
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return errors.New("remote description not set")
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeConn) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (c *fakeConn) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	c.mu.Lock()
	c.onState = f
	c.mu.Unlock()
}

func (c *fakeConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) fireState(state webrtc.ICEConnectionState) {
	c.mu.Lock()
	f := c.onState
	c.mu.Unlock()
	f(state)
}

func (c *fakeConn) appliedCandidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.candidates))
	for _, cand := range c.candidates {
		out = append(out, cand.Candidate)
	}
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) videoSender() *fakeSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.senders[len(c.senders)-1]
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	delay time.Duration
}

func (f *fakeFactory) build(webrtc.Configuration) (peerConn, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	c := &fakeConn{}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

type fakeMedia struct {
	err    error
	audio  *webrtc.TrackLocalStaticSample
	video  *webrtc.TrackLocalStaticSample
	mu     sync.Mutex
	closed int
}

func newFakeMedia(t *testing.T) *fakeMedia {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "cam")
	require.NoError(t, err)
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "cam")
	require.NoError(t, err)
	return &fakeMedia{audio: audio, video: video}
}

func (m *fakeMedia) Acquire(context.Context) (LocalMedia, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m, nil
}

func (m *fakeMedia) AudioTrack() webrtc.TrackLocal { return m.audio }
func (m *fakeMedia) VideoTrack() webrtc.TrackLocal { return m.video }
func (m *fakeMedia) Level() float64                { return 0 }

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type recordingScreen struct {
	inner SyntheticScreen
	mu    sync.Mutex
	last  ScreenCapture
}

func (r *recordingScreen) Start(ctx context.Context) (ScreenCapture, error) {
	c, err := r.inner.Start(ctx)
	if err == nil {
		r.mu.Lock()
		r.last = c
		r.mu.Unlock()
	}
	return c, err
}

func (r *recordingScreen) capture() ScreenCapture {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

type testSession struct {
	*Session
	sig     *fakeSignaler
	factory *fakeFactory
	media   *fakeMedia
}

func startSession(t *testing.T, mutate func(*Config)) *testSession {
	t.Helper()
	sig := newFakeSignaler()
	factory := &fakeFactory{}
	media := newFakeMedia(t)
	cfg := Config{RoomID: "room-1", DisplayName: "me", Media: media}
	if mutate != nil {
		mutate(&cfg)
	}
	s := newSession(sig, cfg, factory.build, nil)
	require.NoError(t, s.Join(context.Background()))
	t.Cleanup(func() { _ = s.Leave(context.Background()) })
	return &testSession{Session: s, sig: sig, factory: factory, media: media}
}

func candidateJSON(t *testing.T, c string) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(webrtc.ICECandidateInit{Candidate: c})
	require.NoError(t, err)
	return payload
}

func sdpJSON(t *testing.T, typ webrtc.SDPType, sdp string) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(webrtc.SessionDescription{Type: typ, SDP: sdp})
	require.NoError(t, err)
	return payload
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
