package peer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// audioLevelURI is the RTP header extension carrying per-packet audio levels (RFC 6464).
const audioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

type pionConn struct {
	*webrtc.PeerConnection
}

func (p pionConn) AddTrack(track webrtc.TrackLocal) (trackSender, error) {
	return p.PeerConnection.AddTrack(track)
}

// newAPI builds a pion API with default codecs and the audio level extension,
// so remote speakers can be detected from RTP headers alone.
func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: audioLevelURI}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register audio level extension: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m)), nil
}

func pionFactory() (connFactory, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	return func(cfg webrtc.Configuration) (peerConn, error) {
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}
		return pionConn{pc}, nil
	}, nil
}

func iceConfig(servers []string) webrtc.Configuration {
	if len(servers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: servers}},
	}
}
