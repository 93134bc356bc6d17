// Package call implements the voice call state machine: ringing and
// active phases for 1:1 and group calls, and the mesh of pairwise
// connections negotiated over the signaling channel.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/einfra-labs/chatbox/internal/authz"
	"github.com/einfra-labs/chatbox/internal/bus"
	"github.com/einfra-labs/chatbox/internal/channel"
	"github.com/einfra-labs/chatbox/internal/model"
)

// Phase is the call session's lifecycle state.
type Phase int

const (
	// Idle means no call session exists.
	Idle Phase = iota
	// RingingOut means a 1:1 invite was sent and awaits a terminal event.
	RingingOut
	// RingingIn means a 1:1 invite was received and awaits a local decision.
	RingingIn
	// GroupIncoming means another member started a group call and the
	// local user must join or decline.
	GroupIncoming
	// Active means media links are being established or running.
	Active
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case RingingOut:
		return "ringing-out"
	case RingingIn:
		return "ringing-in"
	case GroupIncoming:
		return "group-incoming"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// ErrBusy means a call session already exists and a new one cannot start.
var ErrBusy = errors.New("call already in progress")

// ErrPermissionDenied means the group's membership flags forbid starting
// a call.
var ErrPermissionDenied = errors.New("permission denied")

// Emitter sends outbound frames on the event channel.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Roster resolves identities against the current snapshots.
type Roster interface {
	SelfID() string
	Group(id string) *model.Group
	Contact(id string) *model.Contact
}

// Notifier surfaces user-facing call notices.
type Notifier interface {
	Notify(text string)
}

// Status is the observable call session snapshot published on the bus.
type Status struct {
	Phase    Phase
	Scope    model.Scope
	PeerID   string // 1:1 counterparty
	GroupID  string
	CallerID string // group call initiator
	Muted    bool
	Since    time.Time // Active transition time, zero otherwise
}

type peerState struct {
	link      PeerLink
	remoteSet bool
}

// Manager owns the single call session. All mutation goes through its
// methods; inbound signaling handlers are registered on the channel
// dispatch table.
type Manager struct {
	emitter Emitter
	links   LinkFactory
	media   MediaOpener
	roster  Roster
	notify  Notifier
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time

	mu           sync.Mutex
	phase        Phase
	scope        model.Scope
	peerID       string
	groupID      string
	callerID     string
	participants []string
	peers        map[string]*peerState
	pendingICE   map[string][]json.RawMessage
	mic          MediaSource
	muted        bool
	since        time.Time
}

// Config assembles a call manager's collaborators.
type Config struct {
	Emitter Emitter
	Links   LinkFactory
	Media   MediaOpener
	Roster  Roster
	Notify  Notifier
	Bus     *bus.Bus
	Logger  *zap.Logger
	Now     func() time.Time
}

// NewManager creates an idle call manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		emitter:    cfg.Emitter,
		links:      cfg.Links,
		media:      cfg.Media,
		roster:     cfg.Roster,
		notify:     cfg.Notify,
		bus:        cfg.Bus,
		logger:     logger,
		now:        now,
		peers:      make(map[string]*peerState),
		pendingICE: make(map[string][]json.RawMessage),
	}
}

// Status returns the current session snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{
		Phase:    m.phase,
		Scope:    m.scope,
		PeerID:   m.peerID,
		GroupID:  m.groupID,
		CallerID: m.callerID,
		Muted:    m.muted,
		Since:    m.since,
	}
}

// Duration returns how long the call has been active.
func (m *Manager) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Active || m.since.IsZero() {
		return 0
	}
	return m.now().Sub(m.since)
}

// Participants returns the resolved remote participant set of a group
// call.
func (m *Manager) Participants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.participants))
	copy(out, m.participants)
	return out
}

// Invite starts an outgoing 1:1 call.
func (m *Manager) Invite(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Idle {
		return ErrBusy
	}
	if err := m.emitter.Emit(ctx, channel.EventCallRequest, channel.CallSignal{To: userID}); err != nil {
		return err
	}
	m.phase = RingingOut
	m.scope = model.ScopeUser
	m.peerID = userID
	m.publishLocked()
	return nil
}

// Accept answers an incoming 1:1 call. The caller drives the offer; the
// accepting side only announces and then negotiates reactively.
func (m *Manager) Accept(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != RingingIn {
		return nil
	}
	if err := m.openMediaLocked(ctx); err != nil {
		m.teardownLocked()
		return err
	}
	if err := m.emitter.Emit(ctx, channel.EventCallAccepted, channel.CallSignal{To: m.peerID}); err != nil {
		m.teardownLocked()
		return err
	}
	m.activateLocked()
	return nil
}

// Reject declines an incoming 1:1 call.
func (m *Manager) Reject(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != RingingIn {
		return nil
	}
	err := m.emitter.Emit(ctx, channel.EventCallRejected, channel.CallSignal{To: m.peerID})
	m.teardownLocked()
	return err
}

// EndCall hangs up the current session. Idempotent: ending with no
// session is a no-op.
func (m *Manager) EndCall(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Idle {
		return nil
	}
	var err error
	switch m.scope {
	case model.ScopeGroup:
		if m.phase == Active {
			err = m.emitter.Emit(ctx, channel.EventEndGroupCall, channel.GroupCallSignal{GroupID: m.groupID})
		}
	default:
		err = m.emitter.Emit(ctx, channel.EventCallEnded, channel.CallSignal{To: m.peerID})
	}
	m.teardownLocked()
	return err
}

// StartGroupCall starts a call in a group. The initiator joins
// immediately without a self-prompt; everyone else is rung via the
// relay's fan-out.
func (m *Manager) StartGroupCall(ctx context.Context, groupID string) error {
	selfID := m.roster.SelfID()
	group := m.roster.Group(groupID)
	if !authz.CanCall(group, selfID) {
		if m.notify != nil {
			m.notify.Notify("Permission denied: You cannot start calls in this group")
		}
		return ErrPermissionDenied
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Idle {
		return ErrBusy
	}
	if err := m.openMediaLocked(ctx); err != nil {
		m.teardownLocked()
		return err
	}
	if err := m.emitter.Emit(ctx, channel.EventStartGroupCall, channel.GroupCallSignal{GroupID: groupID}); err != nil {
		m.teardownLocked()
		return err
	}
	m.scope = model.ScopeGroup
	m.groupID = groupID
	m.callerID = selfID
	m.participants = m.resolveParticipants(group)
	m.activateLocked()
	return nil
}

// JoinGroupCall accepts a ringing group call. The joiner offers toward
// every resolved participant, building its side of the mesh.
func (m *Manager) JoinGroupCall(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != GroupIncoming {
		m.mu.Unlock()
		return nil
	}
	if err := m.openMediaLocked(ctx); err != nil {
		m.teardownLocked()
		m.mu.Unlock()
		return err
	}
	m.activateLocked()
	targets := make([]string, len(m.participants))
	copy(targets, m.participants)
	m.mu.Unlock()

	for _, peer := range targets {
		if err := m.offerTo(ctx, peer); err != nil {
			m.logger.Warn("group call offer failed", zap.String("peer", peer), zap.Error(err))
		}
	}
	return nil
}

// DeclineGroupCall dismisses a ringing group call locally. The call
// continues for everyone else; no frame is emitted.
func (m *Manager) DeclineGroupCall() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != GroupIncoming {
		return
	}
	m.teardownLocked()
}

// SetMuted toggles local capture for the whole call.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	if m.mic != nil {
		m.mic.SetEnabled(!muted)
	}
	m.publishLocked()
}

// SetVolume scales playback of one remote participant's stream.
func (m *Manager) SetVolume(peerID string, volume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[peerID]; ok {
		p.link.SetVolume(volume)
	}
}

// HandleCallRequest is the channel handler for an inbound 1:1 invite.
func (m *Manager) HandleCallRequest(data json.RawMessage) {
	var sig channel.CallSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("malformed call request", zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Idle {
		m.logger.Info("call request ignored while busy", zap.String("from", sig.From))
		return
	}
	m.phase = RingingIn
	m.scope = model.ScopeUser
	m.peerID = sig.From
	m.publishLocked()
}

// HandleCallAccepted is the channel handler for the callee's accept. The
// caller attaches media and drives the offer.
func (m *Manager) HandleCallAccepted(data json.RawMessage) {
	var sig channel.CallSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("malformed call accept", zap.Error(err))
		return
	}
	ctx := context.Background()

	m.mu.Lock()
	if m.phase != RingingOut || sig.From != m.peerID {
		m.mu.Unlock()
		return
	}
	if err := m.openMediaLocked(ctx); err != nil {
		m.teardownLocked()
		m.mu.Unlock()
		return
	}
	m.activateLocked()
	peer := m.peerID
	m.mu.Unlock()

	if err := m.offerTo(ctx, peer); err != nil {
		m.logger.Error("offer failed", zap.String("peer", peer), zap.Error(err))
	}
}

// HandleCallRejected is the channel handler for the callee's reject.
func (m *Manager) HandleCallRejected(data json.RawMessage) {
	var sig channel.CallSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("malformed call reject", zap.Error(err))
		return
	}
	m.mu.Lock()
	if m.phase != RingingOut || sig.From != m.peerID {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.mu.Unlock()
	if m.notify != nil {
		m.notify.Notify("Call rejected")
	}
}

// HandleCallEnded is the channel handler for the remote hang-up.
func (m *Manager) HandleCallEnded(data json.RawMessage) {
	var sig channel.CallSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("malformed call end", zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Idle || m.scope != model.ScopeUser || sig.From != m.peerID {
		return
	}
	m.teardownLocked()
}

// HandleGroupCallStarted is the channel handler for the relay's group
// call fan-out. The participant set is the intersection of the group's
// members and the known directory, so stale membership entries never
// produce phantom peers.
func (m *Manager) HandleGroupCallStarted(data json.RawMessage) {
	var sig channel.GroupCallSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("malformed group call start", zap.Error(err))
		return
	}
	if sig.CallerID == m.roster.SelfID() {
		return
	}
	group := m.roster.Group(sig.GroupID)
	if group == nil {
		m.logger.Warn("group call for unknown group", zap.String("group", sig.GroupID))
		return
	}

	m.mu.Lock()
	if m.phase != Idle {
		m.logger.Info("group call ignored while busy", zap.String("group", sig.GroupID))
		m.mu.Unlock()
		return
	}
	m.phase = GroupIncoming
	m.scope = model.ScopeGroup
	m.groupID = sig.GroupID
	m.callerID = sig.CallerID
	m.participants = m.resolveParticipants(group)
	m.publishLocked()
	m.mu.Unlock()

	if m.notify != nil {
		m.notify.Notify("Group call started in " + group.Name)
	}
}

// HandleGroupCallEnded is the channel handler for a group call ending.
func (m *Manager) HandleGroupCallEnded(data json.RawMessage) {
	var sig channel.GroupCallSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("malformed group call end", zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scope != model.ScopeGroup || sig.GroupID != m.groupID {
		return
	}
	m.teardownLocked()
}

// HandleOffer is the channel handler for a remote SDP offer. An offer
// from a peer with no link yet creates one reactively, mirroring the
// offering side. An offer from a peer we ourselves offered toward but
// never heard back from means our offer was lost (the peer had not
// joined yet) or both sides offered at once; either way the inbound
// offer is answered and the stale outbound link dropped.
func (m *Manager) HandleOffer(data json.RawMessage) {
	var sig channel.OfferSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("malformed offer", zap.Error(err))
		return
	}
	ctx := context.Background()

	m.mu.Lock()
	if m.phase != Active {
		m.mu.Unlock()
		return
	}
	var stale PeerLink
	if p, exists := m.peers[sig.From]; exists {
		if p.remoteSet {
			m.logger.Warn("duplicate offer ignored", zap.String("peer", sig.From))
			m.mu.Unlock()
			return
		}
		stale = p.link
		delete(m.peers, sig.From)
	}
	m.mu.Unlock()

	if stale != nil {
		m.logger.Info("yielding to inbound offer", zap.String("peer", sig.From))
		if err := stale.Close(); err != nil {
			m.logger.Warn("stale link close failed", zap.String("peer", sig.From), zap.Error(err))
		}
	}

	link, err := m.links.New(ctx, sig.From, m.linkEvents(ctx, sig.From))
	if err != nil {
		m.logger.Error("peer link failed", zap.String("peer", sig.From), zap.Error(err))
		return
	}
	answer, err := link.AcceptOffer(ctx, sig.Offer)
	if err != nil {
		m.logger.Error("answer failed", zap.String("peer", sig.From), zap.Error(err))
		link.Close()
		return
	}

	m.mu.Lock()
	if m.phase != Active {
		// Call ended during negotiation.
		m.mu.Unlock()
		link.Close()
		return
	}
	m.peers[sig.From] = &peerState{link: link, remoteSet: true}
	m.flushCandidatesLocked(sig.From)
	m.mu.Unlock()

	if err := m.emitter.Emit(ctx, channel.EventAnswer, channel.AnswerSignal{To: sig.From, Answer: answer}); err != nil {
		m.logger.Error("answer emit failed", zap.String("peer", sig.From), zap.Error(err))
	}
}

// HandleAnswer is the channel handler for the remote answer to a link we
// offered on. Applying it unblocks any queued candidates.
func (m *Manager) HandleAnswer(data json.RawMessage) {
	var sig channel.AnswerSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("malformed answer", zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[sig.From]
	if !ok {
		m.logger.Warn("answer for unknown peer", zap.String("peer", sig.From))
		return
	}
	if p.remoteSet {
		// Answer to an outbound offer already abandoned for the peer's
		// own inbound offer.
		m.logger.Info("late answer ignored", zap.String("peer", sig.From))
		return
	}
	if err := p.link.AcceptAnswer(sig.Answer); err != nil {
		m.logger.Error("remote answer failed", zap.String("peer", sig.From), zap.Error(err))
		return
	}
	p.remoteSet = true
	m.flushCandidatesLocked(sig.From)
}

// HandleICECandidate is the channel handler for trickled candidates.
// Candidates can outrun the offer/answer exchange; anything arriving
// before the peer's remote description is queued and flushed later.
func (m *Manager) HandleICECandidate(data json.RawMessage) {
	var sig channel.CandidateSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		m.logger.Warn("malformed candidate", zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Idle {
		return
	}
	p, ok := m.peers[sig.From]
	if !ok || !p.remoteSet {
		m.pendingICE[sig.From] = append(m.pendingICE[sig.From], sig.Candidate)
		return
	}
	if err := p.link.AddCandidate(sig.Candidate); err != nil {
		m.logger.Warn("candidate rejected", zap.String("peer", sig.From), zap.Error(err))
	}
}

// offerTo builds a link toward one peer and sends the offer.
func (m *Manager) offerTo(ctx context.Context, peerID string) error {
	link, err := m.links.New(ctx, peerID, m.linkEvents(ctx, peerID))
	if err != nil {
		return err
	}
	offer, err := link.Offer(ctx)
	if err != nil {
		link.Close()
		return err
	}

	m.mu.Lock()
	if m.phase != Active {
		m.mu.Unlock()
		link.Close()
		return nil
	}
	m.peers[peerID] = &peerState{link: link}
	m.mu.Unlock()

	return m.emitter.Emit(ctx, channel.EventOffer, channel.OfferSignal{To: peerID, Offer: offer})
}

func (m *Manager) linkEvents(ctx context.Context, peerID string) LinkEvents {
	return LinkEvents{
		Candidate: func(candidate json.RawMessage) {
			err := m.emitter.Emit(ctx, channel.EventICECandidate,
				channel.CandidateSignal{To: peerID, Candidate: candidate})
			if err != nil {
				m.logger.Warn("candidate emit failed", zap.String("peer", peerID), zap.Error(err))
			}
		},
	}
}

// resolveParticipants intersects the group's membership with the known
// directory and drops the local user.
func (m *Manager) resolveParticipants(group *model.Group) []string {
	selfID := m.roster.SelfID()
	var out []string
	for _, member := range group.Members {
		id := member.UserID.ID
		if id == selfID || m.roster.Contact(id) == nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (m *Manager) openMediaLocked(ctx context.Context) error {
	if m.media == nil || m.mic != nil {
		return nil
	}
	mic, err := m.media(ctx)
	if err != nil {
		m.logger.Error("microphone unavailable", zap.Error(err))
		if m.notify != nil {
			m.notify.Notify("Could not access microphone")
		}
		return err
	}
	m.mic = mic
	m.mic.SetEnabled(!m.muted)
	return nil
}

func (m *Manager) activateLocked() {
	m.phase = Active
	m.since = m.now()
	m.publishLocked()
}

// teardownLocked closes every pairwise link and the local media,
// clearing the whole session. Safe to call from any phase.
func (m *Manager) teardownLocked() {
	for id, p := range m.peers {
		if err := p.link.Close(); err != nil {
			m.logger.Warn("link close failed", zap.String("peer", id), zap.Error(err))
		}
	}
	m.peers = make(map[string]*peerState)
	m.pendingICE = make(map[string][]json.RawMessage)
	if m.mic != nil {
		if err := m.mic.Close(); err != nil {
			m.logger.Warn("media close failed", zap.Error(err))
		}
		m.mic = nil
	}
	m.phase = Idle
	m.scope = ""
	m.peerID = ""
	m.groupID = ""
	m.callerID = ""
	m.participants = nil
	m.muted = false
	m.since = time.Time{}
	m.publishLocked()
}

func (m *Manager) flushCandidatesLocked(peerID string) {
	p, ok := m.peers[peerID]
	if !ok {
		return
	}
	for _, candidate := range m.pendingICE[peerID] {
		if err := p.link.AddCandidate(candidate); err != nil {
			m.logger.Warn("queued candidate rejected", zap.String("peer", peerID), zap.Error(err))
		}
	}
	delete(m.pendingICE, peerID)
}

func (m *Manager) publishLocked() {
	if m.bus != nil {
		m.bus.Emit(bus.KindCallState, m.statusLocked())
	}
}
