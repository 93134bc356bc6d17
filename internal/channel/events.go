package channel

import "encoding/json"

// Wire event kinds. These are the exact names the relay understands; the
// inbound set mirrors the outbound set plus identity, group-call fan-out
// and channel errors.
const (
	EventIdentity    = "userId"
	EventChatMessage = "chatMessage"
	EventError       = "error"

	EventCallRequest  = "callRequest"
	EventCallAccepted = "callAccepted"
	EventCallRejected = "callRejected"
	EventCallEnded    = "callEnded"

	EventStartGroupCall   = "startGroupCall"
	EventEndGroupCall     = "endGroupCall"
	EventGroupCallStarted = "groupCallStarted"
	EventGroupCallEnded   = "groupCallEnded"
	EventJoinGroup        = "joinGroup"

	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "iceCandidate"
)

// frame is the envelope every channel message travels in.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CallSignal addresses 1:1 call lifecycle events. To is set outbound,
// From inbound.
type CallSignal struct {
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
}

// GroupCallSignal addresses group call lifecycle events.
type GroupCallSignal struct {
	GroupID  string `json:"groupId"`
	CallerID string `json:"callerId,omitempty"`
}

// OfferSignal carries an SDP offer between two peers. The SDP body is
// opaque to the channel.
type OfferSignal struct {
	To    string          `json:"to,omitempty"`
	From  string          `json:"from,omitempty"`
	Offer json.RawMessage `json:"offer"`
}

// AnswerSignal carries an SDP answer between two peers.
type AnswerSignal struct {
	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
	Answer json.RawMessage `json:"answer"`
}

// CandidateSignal carries one trickled ICE candidate between two peers.
type CandidateSignal struct {
	To        string          `json:"to,omitempty"`
	From      string          `json:"from,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}

// ErrorSignal is the relay's channel-level error report.
type ErrorSignal struct {
	Message string `json:"message"`
}
