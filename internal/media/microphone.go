package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"
)

// Microphone captures the default input device, encodes 20ms opus
// frames and writes them to the outgoing track. One microphone exists
// per call.
type Microphone struct {
	stream *portaudio.Stream
	enc    *opus.Encoder
	track  *webrtc.TrackLocalStaticSample
	logger *zap.Logger

	mu      sync.Mutex
	enabled bool

	done chan struct{}
	once sync.Once
}

func newMicrophone(track *webrtc.TrackLocalStaticSample, logger *zap.Logger) (*Microphone, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	m := &Microphone{
		enc:     enc,
		track:   track,
		logger:  logger,
		enabled: true,
		done:    make(chan struct{}),
	}

	in := make([]int16, frameSize)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), frameSize, in)
	if err != nil {
		return nil, fmt.Errorf("open input device: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start capture: %w", err)
	}
	m.stream = stream

	go m.captureLoop(in)
	return m, nil
}

// SetEnabled toggles capture without stopping the device. While
// disabled, frames are still read (keeping the device drained) but not
// encoded or sent.
func (m *Microphone) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

func (m *Microphone) isEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Close stops the device and the capture loop. Idempotent.
func (m *Microphone) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		if e := m.stream.Stop(); e != nil {
			err = e
		}
		if e := m.stream.Close(); e != nil && err == nil {
			err = e
		}
	})
	return err
}

func (m *Microphone) captureLoop(in []int16) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-m.done:
			return
		default:
		}

		if err := m.stream.Read(); err != nil {
			select {
			case <-m.done:
			default:
				m.logger.Warn("capture read failed", zap.Error(err))
			}
			return
		}
		if !m.isEnabled() {
			continue
		}

		n, err := m.enc.Encode(in, buf)
		if err != nil {
			m.logger.Warn("opus encode failed", zap.Error(err))
			continue
		}
		sample := pionmedia.Sample{
			Data:     append([]byte(nil), buf[:n]...),
			Duration: 20 * time.Millisecond,
		}
		if err := m.track.WriteSample(sample); err != nil {
			m.logger.Warn("track write failed", zap.Error(err))
		}
	}
}
