package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var ErrAlreadySharing = errors.New("screen share already active")

// StartScreenShare sends the screen instead of the camera to every peer. The
// senders swap tracks in place, so no offer is exchanged.
func (s *Session) StartScreenShare(ctx context.Context) error {
	if s.cfg.Screen == nil {
		return ErrNoScreenSource
	}
	s.mu.Lock()
	switch {
	case s.closed || s.media == nil:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.screen != nil:
		s.mu.Unlock()
		return ErrAlreadySharing
	}
	s.mu.Unlock()

	capture, err := s.cfg.Screen.Start(ctx)
	if err != nil {
		return fmt.Errorf("start screen capture: %w", err)
	}

	s.mu.Lock()
	if s.closed || s.screen != nil {
		s.mu.Unlock()
		capture.Stop()
		return ErrAlreadySharing
	}
	s.screen = capture
	peers := s.snapshotPeers()
	s.mu.Unlock()

	s.replaceVideo(peers, capture.Track())
	go s.watchScreen(capture)
	s.logger.Info().Int("peers", len(peers)).Msg("screen share started")
	return nil
}

// StopScreenShare restores the camera. It is a no-op when not sharing.
func (s *Session) StopScreenShare() error {
	s.mu.Lock()
	capture := s.screen
	s.screen = nil
	peers := s.snapshotPeers()
	var camera webrtc.TrackLocal
	if s.media != nil {
		camera = s.media.VideoTrack()
	}
	s.mu.Unlock()
	if capture == nil {
		return nil
	}
	capture.Stop()
	s.replaceVideo(peers, camera)
	s.logger.Info().Msg("screen share stopped")
	return nil
}

// Sharing reports whether a screen share is active.
func (s *Session) Sharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen != nil
}

func (s *Session) watchScreen(capture ScreenCapture) {
	select {
	case <-capture.Ended():
		s.mu.Lock()
		current := s.screen == capture
		s.mu.Unlock()
		if current {
			_ = s.StopScreenShare()
		}
	case <-s.ctx.Done():
	}
}

// snapshotPeers copies the peer set. Caller holds s.mu.
func (s *Session) snapshotPeers() []*remotePeer {
	peers := make([]*remotePeer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

func (s *Session) replaceVideo(peers []*remotePeer, track webrtc.TrackLocal) {
	for _, p := range peers {
		<-p.ready
		if p.err != nil {
			continue
		}
		if err := p.replaceVideo(track); err != nil {
			s.logger.Warn().Err(err).Str("peer_id", p.id).Msg("replace video track")
		}
	}
}
