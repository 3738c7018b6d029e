package peer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const opusFrame = 20 * time.Millisecond

// SyntheticMedia is a MediaSource for headless participants. It sends Opus
// silence and exposes a settable microphone level.
type SyntheticMedia struct {
	StreamID string
	// Video adds a VP8 track that carries no frames until something writes to it.
	Video bool

	level atomic.Uint64
}

// SetLevel sets the level reported to the activity detector.
func (m *SyntheticMedia) SetLevel(level float64) {
	m.level.Store(math.Float64bits(level))
}

func (m *SyntheticMedia) Acquire(ctx context.Context) (LocalMedia, error) {
	stream := m.StreamID
	if stream == "" {
		stream = uuid.NewString()
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", stream,
	)
	if err != nil {
		return nil, fmt.Errorf("audio track: %w", err)
	}
	local := &syntheticLocal{source: m, audio: audio, stop: make(chan struct{})}
	if m.Video {
		local.video, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", stream,
		)
		if err != nil {
			return nil, fmt.Errorf("video track: %w", err)
		}
	}
	local.wg.Add(1)
	go local.pumpAudio()
	return local, nil
}

type syntheticLocal struct {
	source *SyntheticMedia
	audio  *webrtc.TrackLocalStaticSample
	video  *webrtc.TrackLocalStaticSample

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func (l *syntheticLocal) AudioTrack() webrtc.TrackLocal {
	return l.audio
}

func (l *syntheticLocal) VideoTrack() webrtc.TrackLocal {
	if l.video == nil {
		return nil
	}
	return l.video
}

func (l *syntheticLocal) Level() float64 {
	return math.Float64frombits(l.source.level.Load())
}

func (l *syntheticLocal) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	l.wg.Wait()
	return nil
}

func (l *syntheticLocal) pumpAudio() {
	defer l.wg.Done()
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			// unbound tracks drop samples; nothing to handle
			_ = l.audio.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame})
		}
	}
}

// SyntheticScreen is a ScreenSource whose captures end after Duration, or
// only when stopped if Duration is zero.
type SyntheticScreen struct {
	Duration time.Duration
}

func (s *SyntheticScreen) Start(ctx context.Context) (ScreenCapture, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"screen", uuid.NewString(),
	)
	if err != nil {
		return nil, fmt.Errorf("screen track: %w", err)
	}
	c := &syntheticCapture{track: track, ended: make(chan struct{})}
	if s.Duration > 0 {
		go func() {
			select {
			case <-time.After(s.Duration):
				c.Stop()
			case <-c.ended:
			}
		}()
	}
	return c, nil
}

type syntheticCapture struct {
	track *webrtc.TrackLocalStaticSample
	ended chan struct{}
	once  sync.Once
}

func (c *syntheticCapture) Track() webrtc.TrackLocal { return c.track }
func (c *syntheticCapture) Ended() <-chan struct{}   { return c.ended }

func (c *syntheticCapture) Stop() {
	c.once.Do(func() { close(c.ended) })
}
