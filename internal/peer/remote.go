package peer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type peerPhase int

const (
	phaseNew peerPhase = iota
	phaseHaveLocalOffer
	phaseHaveRemoteOffer
	// offer/answer exchange complete
	phaseConnected
	phaseClosed
)

func (p peerPhase) String() string {
	switch p {
	case phaseNew:
		return "new"
	case phaseHaveLocalOffer:
		return "have-local-offer"
	case phaseHaveRemoteOffer:
		return "have-remote-offer"
	case phaseConnected:
		return "connected"
	case phaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// remotePeer is the connection to one other room member. mu guards everything
// below it; ready is closed once pc is built (or building failed with err).
type remotePeer struct {
	id    string
	name  string
	ready chan struct{}
	err   error
	level *levelMeter

	mu          sync.Mutex
	phase       peerPhase
	queue       candidateQueue
	pc          peerConn
	senders     map[webrtc.RTPCodecType]trackSender
	detector    *ActivityDetector
	offerer     bool
	iceFailures int

	closeOnce sync.Once
}

func newRemotePeer(id, name string) *remotePeer {
	return &remotePeer{
		id:      id,
		name:    name,
		ready:   make(chan struct{}),
		level:   &levelMeter{},
		senders: make(map[webrtc.RTPCodecType]trackSender),
	}
}

// createOffer sets a local offer and returns it encoded. Caller holds mu.
func (p *remotePeer) createOffer(opts *webrtc.OfferOptions) (json.RawMessage, error) {
	if p.phase == phaseClosed {
		return nil, ErrSessionClosed
	}
	offer, err := p.pc.CreateOffer(opts)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	p.phase = phaseHaveLocalOffer
	return json.Marshal(offer)
}

// acceptOffer applies a remote offer, flushes buffered candidates and returns
// the encoded answer. A colliding local offer is rolled back. Caller holds mu.
func (p *remotePeer) acceptOffer(offer webrtc.SessionDescription, logger *zerolog.Logger) (json.RawMessage, error) {
	if p.phase == phaseClosed {
		return nil, ErrSessionClosed
	}
	// Only the joiner offers and only the original offerer restarts ICE, so a
	// collision means the remote broke that rule. Roll back and answer anyway.
	if p.phase == phaseHaveLocalOffer {
		logger.Debug().Str("peer_id", p.id).Msg("offer collision, rolling back")
		if err := p.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return nil, fmt.Errorf("rollback: %w", err)
		}
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	p.phase = phaseHaveRemoteOffer
	p.flushCandidates(logger)

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	p.phase = phaseConnected
	return json.Marshal(answer)
}

// acceptAnswer applies the answer to our outstanding offer. Caller holds mu.
func (p *remotePeer) acceptAnswer(answer webrtc.SessionDescription, logger *zerolog.Logger) error {
	if p.phase != phaseHaveLocalOffer {
		logger.Debug().Str("peer_id", p.id).Stringer("phase", p.phase).Msg("ignoring unexpected answer")
		return nil
	}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	p.phase = phaseConnected
	p.flushCandidates(logger)
	return nil
}

// addCandidate applies c or buffers it until the remote description arrives.
// Caller holds mu.
func (p *remotePeer) addCandidate(c webrtc.ICECandidateInit) error {
	if p.phase == phaseClosed {
		return nil
	}
	next, applyNow := p.queue.push(c)
	if !applyNow {
		p.queue = next
		return nil
	}
	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (p *remotePeer) flushCandidates(logger *zerolog.Logger) {
	next, flush := p.queue.remoteSet()
	p.queue = next
	for _, c := range flush {
		if err := p.pc.AddICECandidate(c); err != nil {
			logger.Warn().Err(err).Str("peer_id", p.id).Msg("buffered candidate rejected")
		}
	}
}

// replaceVideo swaps the outgoing video track in place; no renegotiation.
func (p *remotePeer) replaceVideo(track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase == phaseClosed {
		return nil
	}
	sender, ok := p.senders[webrtc.RTPCodecTypeVideo]
	if !ok {
		return nil
	}
	return sender.ReplaceTrack(track)
}

// close releases the peer. Safe to call repeatedly.
func (p *remotePeer) close() {
	p.closeOnce.Do(func() {
		<-p.ready
		p.mu.Lock()
		p.phase = phaseClosed
		p.queue = candidateQueue{}
		pc := p.pc
		detector := p.detector
		p.detector = nil
		p.mu.Unlock()

		if detector != nil {
			detector.Stop()
		}
		if pc != nil {
			// closing the connection ends the RTP readers
			_ = pc.Close()
		}
	})
}
