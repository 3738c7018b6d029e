package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/proto"
)

// Config describes one participant's session in a room.
type Config struct {
	RoomID      string
	DisplayName string
	ICEServers  []string

	Media  MediaSource
	Screen ScreenSource

	// OnPeerFailed fires when a peer's ICE fails again after a restart.
	OnPeerFailed func(peerID string, err error)
	// OnSpeaking reports activity transitions. peerID is empty for the local participant.
	OnSpeaking    func(peerID string, speaking bool)
	OnRemoteTrack func(peerID string, track *webrtc.TrackRemote)
	OnChat        func(msg proto.EventChatMessage)
	// OnEvent receives server events the session does not consume, such as call-ended.
	OnEvent func(ev proto.OutboundRaw)

	DetectorOptions []DetectorOption
	SendTimeout     time.Duration
}

// Session is a participant in one room. It offers to the members present when
// it joins and answers the members who join later.
type Session struct {
	cfg     Config
	sig     Signaler
	newConn connFactory
	logger  *zerolog.Logger

	mu     sync.Mutex
	peers  map[string]*remotePeer
	media  LocalMedia
	screen ScreenCapture
	joined bool
	closed bool

	local     *ActivityDetector
	ctx       context.Context
	cancel    context.CancelFunc
	leaveOnce sync.Once
	loopDone  chan struct{}
}

// NewSession prepares a session backed by pion peer connections.
func NewSession(sig Signaler, cfg Config, logger *zerolog.Logger) (*Session, error) {
	factory, err := pionFactory()
	if err != nil {
		return nil, err
	}
	return newSession(sig, cfg, factory, logger), nil
}

func newSession(sig Signaler, cfg Config, factory connFactory, logger *zerolog.Logger) *Session {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	l := logger.With().Str("component", "peer").Str("room_id", cfg.RoomID).Logger()
	return &Session{
		cfg:      cfg,
		sig:      sig,
		newConn:  factory,
		logger:   &l,
		peers:    make(map[string]*remotePeer),
		loopDone: make(chan struct{}),
	}
}

// Join acquires local media and then enters the room. Nothing is sent to the
// server when media acquisition fails.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.joined || s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.joined = true
	s.mu.Unlock()

	if s.cfg.Media == nil {
		return ErrMediaUnavailable
	}
	media, err := s.cfg.Media.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	s.mu.Lock()
	s.media = media
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.local = NewActivityDetector(media, func(speaking bool) { s.speaking("", speaking) }, s.cfg.DetectorOptions...)
	s.mu.Unlock()
	s.local.Start()

	go s.loop()

	if err := s.sig.Send(ctx, proto.InboundTypeJoinRoom, proto.JoinRoomData{
		RoomID:      s.cfg.RoomID,
		DisplayName: s.cfg.DisplayName,
	}); err != nil {
		s.teardown()
		return fmt.Errorf("join room: %w", err)
	}
	s.logger.Info().Msg("joined room")
	return nil
}

// Leave tears the session down locally and then tells the server, best effort.
func (s *Session) Leave(ctx context.Context) error {
	first := false
	s.leaveOnce.Do(func() {
		first = true
		s.teardown()
	})
	if !first {
		return nil
	}
	if err := s.sig.Send(ctx, proto.InboundTypeLeaveRoom, proto.LeaveRoomData{RoomID: s.cfg.RoomID}); err != nil {
		s.logger.Warn().Err(err).Msg("leave-room not delivered")
	}
	return nil
}

// Done is closed when the event loop has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.loopDone
}

// Peers returns the ids of the current remote peers.
func (s *Session) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	return ids
}

// SendChat posts a chat line to the room.
func (s *Session) SendChat(ctx context.Context, message string) error {
	return s.sig.Send(ctx, proto.InboundTypeChatMessage, proto.ChatMessageData{RoomID: s.cfg.RoomID, Message: message})
}

func (s *Session) teardown() {
	s.mu.Lock()
	s.closed = true
	peers := s.peers
	s.peers = make(map[string]*remotePeer)
	screen := s.screen
	s.screen = nil
	media := s.media
	local := s.local
	cancel := s.cancel
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	if screen != nil {
		screen.Stop()
	}
	if local != nil {
		local.Stop()
	}
	if media != nil {
		if err := media.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close local media")
		}
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Session) loop() {
	defer close(s.loopDone)
	events := s.sig.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.logger.Info().Msg("signaling closed")
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev proto.OutboundRaw) {
	var err error
	switch ev.Type {
	case proto.OutboundTypeExistingUsers:
		var members []proto.Member
		if err = json.Unmarshal(ev.Data, &members); err == nil {
			for _, m := range members {
				if offerErr := s.offerTo(m.ID, m.DisplayName); offerErr != nil {
					s.logger.Error().Err(offerErr).Str("peer_id", m.ID).Msg("offer failed")
				}
			}
		}
	case proto.OutboundTypeUserJoined:
		var data proto.EventUserJoined
		if err = json.Unmarshal(ev.Data, &data); err == nil {
			_, err = s.ensurePeer(s.ctx, data.PeerID, data.PeerName)
		}
	case proto.OutboundTypeOffer:
		var data proto.EventSessionDescription
		if err = json.Unmarshal(ev.Data, &data); err == nil {
			err = s.handleOffer(data)
		}
	case proto.OutboundTypeAnswer:
		var data proto.EventSessionDescription
		if err = json.Unmarshal(ev.Data, &data); err == nil {
			err = s.handleAnswer(data)
		}
	case proto.OutboundTypeICECandidate:
		var data proto.EventICECandidate
		if err = json.Unmarshal(ev.Data, &data); err == nil {
			err = s.handleCandidate(data)
		}
	case proto.OutboundTypeUserLeft:
		var data proto.EventUserLeft
		if err = json.Unmarshal(ev.Data, &data); err == nil {
			s.closePeer(data.PeerID)
		}
	case proto.OutboundTypeChatMessage:
		var data proto.EventChatMessage
		if err = json.Unmarshal(ev.Data, &data); err == nil && s.cfg.OnChat != nil {
			s.cfg.OnChat(data)
		}
	default:
		if ev.Error != nil {
			s.logger.Warn().Str("code", ev.Error.Code).Str("msg", ev.Error.Msg).Msg("server error")
		}
		if s.cfg.OnEvent != nil {
			s.cfg.OnEvent(ev)
		}
	}
	if err != nil {
		s.logger.Error().Err(err).Str("type", ev.Type).Msg("handle event")
	}
}

// ensurePeer returns the peer for id, creating it at most once. A caller that
// races an in-flight creation waits for it.
func (s *Session) ensurePeer(ctx context.Context, id, name string) (*remotePeer, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if p, ok := s.peers[id]; ok {
		s.mu.Unlock()
		select {
		case <-p.ready:
			return p, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := newRemotePeer(id, name)
	s.peers[id] = p
	s.mu.Unlock()

	p.err = s.buildPeer(p)
	close(p.ready)
	if p.err != nil {
		s.mu.Lock()
		if s.peers[id] == p {
			delete(s.peers, id)
		}
		s.mu.Unlock()
		p.close()
		return nil, p.err
	}
	return p, nil
}

func (s *Session) peer(id string) (*remotePeer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	return p, ok
}

func (s *Session) buildPeer(p *remotePeer) error {
	pc, err := s.newConn(iceConfig(s.cfg.ICEServers))
	if err != nil {
		return err
	}
	p.pc = pc

	s.mu.Lock()
	audio := s.media.AudioTrack()
	video := s.media.VideoTrack()
	if s.screen != nil {
		video = s.screen.Track()
	}
	s.mu.Unlock()

	if audio != nil {
		if p.senders[webrtc.RTPCodecTypeAudio], err = pc.AddTrack(audio); err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
	}
	if video != nil {
		if p.senders[webrtc.RTPCodecTypeVideo], err = pc.AddTrack(video); err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		s.send(proto.InboundTypeICECandidate, proto.ICECandidateData{Target: p.id, Candidate: payload})
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.onICEState(p, state)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.onTrack(p, track, receiver)
	})
	return nil
}

func (s *Session) send(msgType string, data any) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SendTimeout)
	defer cancel()
	if err := s.sig.Send(ctx, msgType, data); err != nil {
		s.logger.Warn().Err(err).Str("type", msgType).Msg("signal not sent")
	}
}

func (s *Session) offerTo(id, name string) error {
	p, err := s.ensurePeer(s.ctx, id, name)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.offerer = true
	payload, err := p.createOffer(nil)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	s.send(proto.InboundTypeOffer, proto.SessionDescriptionData{Target: id, SDP: payload})
	return nil
}

func (s *Session) handleOffer(data proto.EventSessionDescription) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(data.SDP, &desc); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	p, err := s.ensurePeer(s.ctx, data.Caller, data.Name)
	if err != nil {
		return err
	}
	p.mu.Lock()
	payload, err := p.acceptOffer(desc, s.logger)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	s.send(proto.InboundTypeAnswer, proto.SessionDescriptionData{Target: p.id, SDP: payload})
	return nil
}

func (s *Session) handleAnswer(data proto.EventSessionDescription) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(data.SDP, &desc); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	p, ok := s.peer(data.Caller)
	if !ok {
		return fmt.Errorf("answer from unknown peer %s", data.Caller)
	}
	<-p.ready
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acceptAnswer(desc, s.logger)
}

func (s *Session) handleCandidate(data proto.EventICECandidate) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(data.Candidate, &c); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	p, err := s.ensurePeer(s.ctx, data.Caller, "")
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addCandidate(c)
}

func (s *Session) closePeer(id string) {
	s.mu.Lock()
	p, ok := s.peers[id]
	if ok {
		delete(s.peers, id)
	}
	s.mu.Unlock()
	if ok {
		<-p.ready
		p.close()
		s.logger.Info().Str("peer_id", id).Msg("peer closed")
	}
}

func (s *Session) onICEState(p *remotePeer, state webrtc.ICEConnectionState) {
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		p.mu.Lock()
		p.iceFailures = 0
		if p.phase != phaseClosed {
			p.phase = phaseConnected
		}
		p.mu.Unlock()
	case webrtc.ICEConnectionStateFailed:
		p.mu.Lock()
		if p.phase == phaseClosed {
			p.mu.Unlock()
			return
		}
		p.iceFailures++
		failures := p.iceFailures
		restart := failures == 1 && p.offerer
		var payload json.RawMessage
		var err error
		if restart {
			payload, err = p.createOffer(&webrtc.OfferOptions{ICERestart: true})
		}
		p.mu.Unlock()

		switch {
		case failures >= 2:
			s.logger.Warn().Str("peer_id", p.id).Msg("ice failed after restart")
			if s.cfg.OnPeerFailed != nil {
				s.cfg.OnPeerFailed(p.id, ErrICEFailed)
			}
		case restart && err != nil:
			s.logger.Error().Err(err).Str("peer_id", p.id).Msg("ice restart offer")
		case restart:
			s.logger.Info().Str("peer_id", p.id).Msg("ice restart")
			s.send(proto.InboundTypeOffer, proto.SessionDescriptionData{Target: p.id, SDP: payload})
		}
	}
}

func (s *Session) onTrack(p *remotePeer, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	if s.cfg.OnRemoteTrack != nil {
		s.cfg.OnRemoteTrack(p.id, track)
	}
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	extID, ok := audioLevelExtensionID(receiver)
	if !ok {
		return
	}
	detector := NewActivityDetector(p.level, func(speaking bool) { s.speaking(p.id, speaking) }, s.cfg.DetectorOptions...)
	p.mu.Lock()
	if p.phase == phaseClosed {
		p.mu.Unlock()
		return
	}
	p.detector = detector
	p.mu.Unlock()
	detector.Start()

	go func() {
		if err := readAudioLevels(track, extID, p.level); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug().Err(err).Str("peer_id", p.id).Msg("audio level reader stopped")
		}
	}()
}

func (s *Session) speaking(peerID string, speaking bool) {
	if s.cfg.OnSpeaking != nil {
		s.cfg.OnSpeaking(peerID, speaking)
	}
}
