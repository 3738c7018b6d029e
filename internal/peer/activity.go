package peer

import (
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const (
	defaultSampleInterval = 200 * time.Millisecond
	defaultSpeakingDecay  = 500 * time.Millisecond
	defaultSpeakingLevel  = 0.1
)

// DetectorOption configures an ActivityDetector.
type DetectorOption func(*ActivityDetector)

// WithThreshold sets the level at or above which a source counts as speaking.
func WithThreshold(level float64) DetectorOption {
	return func(d *ActivityDetector) { d.threshold = level }
}

// WithTiming overrides the sampling interval and the hold time after the last loud sample.
func WithTiming(interval, decay time.Duration) DetectorOption {
	return func(d *ActivityDetector) {
		if interval > 0 {
			d.interval = interval
		}
		if decay >= 0 {
			d.decay = decay
		}
	}
}

// ActivityDetector turns a level stream into speaking/silent transitions.
// onChange is called from the detector goroutine only on transitions.
type ActivityDetector struct {
	source    LevelSource
	onChange  func(speaking bool)
	threshold float64
	interval  time.Duration
	decay     time.Duration

	speaking bool
	lastLoud time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewActivityDetector(source LevelSource, onChange func(speaking bool), opts ...DetectorOption) *ActivityDetector {
	d := &ActivityDetector{
		source:    source,
		onChange:  onChange,
		threshold: defaultSpeakingLevel,
		interval:  defaultSampleInterval,
		decay:     defaultSpeakingDecay,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the sampling loop until Stop.
func (d *ActivityDetector) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case now := <-ticker.C:
				d.sample(now)
			}
		}
	}()
}

// Stop ends the loop and waits for it. Safe to call more than once, and on a
// detector that was never started.
func (d *ActivityDetector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	if d.started.Load() {
		<-d.done
	}
}

func (d *ActivityDetector) sample(now time.Time) {
	if d.source.Level() >= d.threshold {
		d.lastLoud = now
		if !d.speaking {
			d.speaking = true
			d.notify(true)
		}
		return
	}
	if d.speaking && now.Sub(d.lastLoud) >= d.decay {
		d.speaking = false
		d.notify(false)
	}
}

func (d *ActivityDetector) notify(speaking bool) {
	if d.onChange != nil {
		d.onChange(speaking)
	}
}

// levelMeter stores the latest level read from RTP headers.
type levelMeter struct {
	bits atomic.Uint64
}

func (m *levelMeter) Level() float64 {
	return math.Float64frombits(m.bits.Load())
}

func (m *levelMeter) set(level float64) {
	m.bits.Store(math.Float64bits(level))
}

// levelFromDBov maps the RFC 6464 level (0 loudest, 127 silence) to [0, 1].
func levelFromDBov(dBov uint8) float64 {
	if dBov > 127 {
		dBov = 127
	}
	return 1 - float64(dBov)/127
}

// audioLevelExtensionID finds the negotiated id of the audio level extension.
func audioLevelExtensionID(receiver *webrtc.RTPReceiver) (uint8, bool) {
	if receiver == nil {
		return 0, false
	}
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == audioLevelURI {
			return uint8(ext.ID), true
		}
	}
	return 0, false
}

// readAudioLevels feeds meter from the track until the track ends.
func readAudioLevels(track *webrtc.TrackRemote, extID uint8, meter *levelMeter) error {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		applyAudioLevel(pkt, extID, meter)
	}
}

func applyAudioLevel(pkt *rtp.Packet, extID uint8, meter *levelMeter) {
	payload := pkt.GetExtension(extID)
	if payload == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(payload); err != nil {
		return
	}
	meter.set(levelFromDBov(ext.Level))
}
