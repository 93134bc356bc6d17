// Package media owns the audio path: microphone capture encoded to opus
// and fed into the outgoing track, and per-peer playback of remote opus
// streams.
package media

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const (
	sampleRate = 48000
	channels   = 1
	// 20ms frames at 48kHz, the usual opus framing.
	frameSize = 960
)

// Engine holds the process-wide audio resources: the portaudio runtime,
// the single outgoing track every peer connection attaches, and the
// playback mixer. Calls open and close microphones against it.
type Engine struct {
	logger  *zap.Logger
	track   *webrtc.TrackLocalStaticSample
	speaker *Speaker
}

// NewEngine initializes the audio runtime. The outgoing track exists for
// the whole process; it only carries samples while a microphone is open.
func NewEngine(logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audio runtime: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: sampleRate, Channels: channels},
		"audio", "chatbox",
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("outgoing track: %w", err)
	}
	return &Engine{
		logger:  logger,
		track:   track,
		speaker: newSpeaker(logger),
	}, nil
}

// Track returns the outgoing audio track.
func (e *Engine) Track() *webrtc.TrackLocalStaticSample {
	return e.track
}

// Play starts rendering one remote peer's stream.
func (e *Engine) Play(peerID string, track *webrtc.TrackRemote) {
	e.speaker.Play(peerID, track)
}

// SetVolume scales one peer's playback.
func (e *Engine) SetVolume(peerID string, volume float64) {
	e.speaker.SetVolume(peerID, volume)
}

// Stop tears down one peer's playback.
func (e *Engine) Stop(peerID string) {
	e.speaker.Stop(peerID)
}

// Open acquires the default input device and starts feeding the
// outgoing track.
func (e *Engine) Open() (*Microphone, error) {
	return newMicrophone(e.track, e.logger)
}

// Close releases the audio runtime. Open microphones must be closed
// first.
func (e *Engine) Close() error {
	e.speaker.closeAll()
	return portaudio.Terminate()
}
