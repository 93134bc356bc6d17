package media

import (
	"errors"
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"
)

// Speaker renders remote opus streams, one playback pipeline per peer,
// each with its own volume.
type Speaker struct {
	logger *zap.Logger

	mu      sync.Mutex
	streams map[string]*playback
}

func newSpeaker(logger *zap.Logger) *Speaker {
	return &Speaker{logger: logger, streams: make(map[string]*playback)}
}

// Play starts decoding and rendering one remote track. A second call
// for the same peer replaces the previous pipeline.
func (s *Speaker) Play(peerID string, track *webrtc.TrackRemote) {
	p, err := newPlayback(track, s.logger)
	if err != nil {
		s.logger.Warn("playback setup failed", zap.String("peer", peerID), zap.Error(err))
		return
	}

	s.mu.Lock()
	if prev, ok := s.streams[peerID]; ok {
		prev.close()
	}
	s.streams[peerID] = p
	s.mu.Unlock()

	go p.loop()
}

// SetVolume scales one peer's playback; 1.0 is unity gain.
func (s *Speaker) SetVolume(peerID string, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.streams[peerID]; ok {
		p.setVolume(volume)
	}
}

// Stop tears down one peer's pipeline.
func (s *Speaker) Stop(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.streams[peerID]; ok {
		p.close()
		delete(s.streams, peerID)
	}
}

func (s *Speaker) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.streams {
		p.close()
		delete(s.streams, id)
	}
}

type playback struct {
	track  *webrtc.TrackRemote
	dec    *opus.Decoder
	stream *portaudio.Stream
	out    []int16
	logger *zap.Logger

	mu     sync.Mutex
	volume float64

	done chan struct{}
	once sync.Once
}

func newPlayback(track *webrtc.TrackRemote, logger *zap.Logger) (*playback, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	out := make([]int16, frameSize)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), frameSize, out)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}
	return &playback{
		track:  track,
		dec:    dec,
		stream: stream,
		out:    out,
		logger: logger,
		volume: 1.0,
		done:   make(chan struct{}),
	}, nil
}

func (p *playback) setVolume(volume float64) {
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
}

func (p *playback) close() {
	p.once.Do(func() {
		close(p.done)
		p.stream.Stop()
		p.stream.Close()
	})
}

func (p *playback) loop() {
	pcm := make([]int16, frameSize)
	for {
		select {
		case <-p.done:
			return
		default:
		}

		pkt, _, err := p.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Warn("remote stream read failed", zap.Error(err))
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		n, err := p.dec.Decode(pkt.Payload, pcm)
		if err != nil {
			p.logger.Warn("opus decode failed", zap.Error(err))
			continue
		}

		p.mu.Lock()
		vol := p.volume
		p.mu.Unlock()
		for i := 0; i < n; i++ {
			p.out[i] = int16(float64(pcm[i]) * vol)
		}
		for i := n; i < frameSize; i++ {
			p.out[i] = 0
		}
		if err := p.stream.Write(); err != nil {
			select {
			case <-p.done:
				return
			default:
				p.logger.Warn("playback write failed", zap.Error(err))
			}
		}
	}
}
