// Package peer is the participant side of a call: it joins a room through the
// signaling server and keeps one WebRTC connection per remote member (full mesh).
package peer

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/vovakirdan/wirecall/internal/proto"
)

var (
	ErrMediaUnavailable = errors.New("local media unavailable")
	ErrNoScreenSource   = errors.New("screen sharing not available")
	ErrICEFailed        = errors.New("ice connection failed after restart")
	ErrSessionClosed    = errors.New("session closed")
)

// Signaler is the session's link to the signaling server.
type Signaler interface {
	Send(ctx context.Context, msgType string, data any) error
	Events() <-chan proto.OutboundRaw
}

// LevelSource reports an audio level in [0, 1].
type LevelSource interface {
	Level() float64
}

// LocalMedia is an acquired camera and microphone.
type LocalMedia interface {
	AudioTrack() webrtc.TrackLocal
	VideoTrack() webrtc.TrackLocal
	LevelSource
	Close() error
}

// MediaSource acquires local media. Acquisition may fail, for example when the
// user denies access.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

// ScreenCapture is a running screen share. Ended is closed when the user stops
// sharing from outside the session.
type ScreenCapture interface {
	Track() webrtc.TrackLocal
	Ended() <-chan struct{}
	Stop()
}

// ScreenSource starts screen captures.
type ScreenSource interface {
	Start(ctx context.Context) (ScreenCapture, error)
}

// peerConn is the part of *webrtc.PeerConnection a session drives.
type peerConn interface {
	AddTrack(track webrtc.TrackLocal) (trackSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// trackSender is the part of *webrtc.RTPSender used for track swaps.
type trackSender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
	Track() webrtc.TrackLocal
}

type connFactory func(cfg webrtc.Configuration) (peerConn, error)
