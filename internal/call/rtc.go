package call

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// AudioTrack provides the local capture track attached to every link.
type AudioTrack interface {
	Track() *webrtc.TrackLocalStaticSample
}

// Playback renders remote audio streams, one per peer.
type Playback interface {
	Play(peerID string, track *webrtc.TrackRemote)
	SetVolume(peerID string, volume float64)
	Stop(peerID string)
}

// WebRTCFactory builds pion-backed pairwise links.
type WebRTCFactory struct {
	Audio    AudioTrack
	Playback Playback
	Logger   *zap.Logger
}

// New creates one peer connection with the local track attached and the
// candidate/track callbacks wired.
func (f *WebRTCFactory) New(_ context.Context, peerID string, events LinkEvents) (PeerLink, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: defaultICEServers})
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}
	if f.Audio != nil {
		if _, err := pc.AddTrack(f.Audio.Track()); err != nil {
			pc.Close()
			return nil, fmt.Errorf("attach audio track: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || events.Candidate == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			logger.Warn("candidate marshal failed", zap.Error(err))
			return
		}
		events.Candidate(raw)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if f.Playback != nil {
			f.Playback.Play(peerID, track)
		}
	})

	return &webrtcLink{pc: pc, peerID: peerID, playback: f.Playback}, nil
}

type webrtcLink struct {
	pc       *webrtc.PeerConnection
	peerID   string
	playback Playback
}

func (l *webrtcLink) Offer(_ context.Context) (json.RawMessage, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	return json.Marshal(offer)
}

func (l *webrtcLink) AcceptOffer(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return json.Marshal(answer)
}

func (l *webrtcLink) AcceptAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (l *webrtcLink) AddCandidate(raw json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return l.pc.AddICECandidate(init)
}

func (l *webrtcLink) SetVolume(volume float64) {
	if l.playback != nil {
		l.playback.SetVolume(l.peerID, volume)
	}
}

func (l *webrtcLink) Close() error {
	if l.playback != nil {
		l.playback.Stop(l.peerID)
	}
	return l.pc.Close()
}
