package call

import (
	"context"
	"encoding/json"
)

// PeerLink is one pairwise media connection toward a single remote
// participant. An N-party call holds one link per remote peer.
type PeerLink interface {
	// Offer creates the local offer and returns its SDP for signaling.
	Offer(ctx context.Context) (json.RawMessage, error)
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	// AcceptAnswer applies the remote answer to a link we offered on.
	AcceptAnswer(answer json.RawMessage) error
	// AddCandidate applies one remote ICE candidate. Only valid once a
	// remote description has been applied.
	AddCandidate(candidate json.RawMessage) error
	// SetVolume scales local playback of this peer's stream. Does not
	// affect what is sent.
	SetVolume(volume float64)
	Close() error
}

// LinkEvents carries the per-link callbacks a manager installs at
// creation time.
type LinkEvents struct {
	// Candidate fires for every locally gathered ICE candidate.
	Candidate func(candidate json.RawMessage)
}

// LinkFactory builds pairwise connections with local media already
// attached.
type LinkFactory interface {
	New(ctx context.Context, peerID string, events LinkEvents) (PeerLink, error)
}

// MediaSource is the local capture pipeline, opened once per call and
// shared by every link of that call.
type MediaSource interface {
	// SetEnabled toggles capture without renegotiating anything.
	SetEnabled(enabled bool)
	Close() error
}

// MediaOpener acquires the microphone for a starting call.
type MediaOpener func(ctx context.Context) (MediaSource, error)
