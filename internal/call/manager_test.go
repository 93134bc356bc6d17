package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/einfra-labs/chatbox/internal/channel"
	"github.com/einfra-labs/chatbox/internal/model"
)

type sentFrame struct {
	event   string
	payload any
}

type fakeEmitter struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (f *fakeEmitter) Emit(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	f.frames = append(f.frames, sentFrame{event: event, payload: payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeEmitter) byEvent(event string) []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentFrame
	for _, fr := range f.frames {
		if fr.event == event {
			out = append(out, fr)
		}
	}
	return out
}

type fakeLink struct {
	peerID        string
	offered       int
	answered      []json.RawMessage
	remoteAnswers int
	candidates    []json.RawMessage
	closed        int
	volume        float64
}

func (l *fakeLink) Offer(context.Context) (json.RawMessage, error) {
	l.offered++
	return json.RawMessage(`{"type":"offer","peer":"` + l.peerID + `"}`), nil
}

func (l *fakeLink) AcceptOffer(_ context.Context, offer json.RawMessage) (json.RawMessage, error) {
	l.answered = append(l.answered, offer)
	return json.RawMessage(`{"type":"answer"}`), nil
}

func (l *fakeLink) AcceptAnswer(json.RawMessage) error {
	l.remoteAnswers++
	return nil
}

func (l *fakeLink) AddCandidate(candidate json.RawMessage) error {
	l.candidates = append(l.candidates, candidate)
	return nil
}

func (l *fakeLink) SetVolume(volume float64) { l.volume = volume }

func (l *fakeLink) Close() error {
	l.closed++
	return nil
}

type fakeFactory struct {
	mu    sync.Mutex
	links map[string]*fakeLink
	err   error
}

func (f *fakeFactory) New(_ context.Context, peerID string, _ LinkEvents) (PeerLink, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.links == nil {
		f.links = make(map[string]*fakeLink)
	}
	link := &fakeLink{peerID: peerID}
	f.links[peerID] = link
	return link, nil
}

func (f *fakeFactory) link(peerID string) *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[peerID]
}

type fakeMedia struct {
	enabled bool
	closed  int
}

func (m *fakeMedia) SetEnabled(enabled bool) { m.enabled = enabled }
func (m *fakeMedia) Close() error {
	m.closed++
	return nil
}

type fakeRoster struct {
	selfID   string
	groups   []model.Group
	contacts []model.Contact
}

func (r *fakeRoster) SelfID() string { return r.selfID }

func (r *fakeRoster) Group(id string) *model.Group {
	for i := range r.groups {
		if r.groups[i].ID == id {
			return &r.groups[i]
		}
	}
	return nil
}

func (r *fakeRoster) Contact(id string) *model.Contact {
	for i := range r.contacts {
		if r.contacts[i].ID == id {
			return &r.contacts[i]
		}
	}
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Notify(text string) {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
}

type harness struct {
	manager *Manager
	emitter *fakeEmitter
	factory *fakeFactory
	media   *fakeMedia
	notes   *fakeNotifier
}

func newHarness(roster *fakeRoster) *harness {
	h := &harness{
		emitter: &fakeEmitter{},
		factory: &fakeFactory{},
		media:   &fakeMedia{},
		notes:   &fakeNotifier{},
	}
	h.manager = NewManager(Config{
		Emitter: h.emitter,
		Links:   h.factory,
		Media:   func(context.Context) (MediaSource, error) { return h.media, nil },
		Roster:  roster,
		Notify:  h.notes,
	})
	return h
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestCallerFlowInviteAcceptOffer(t *testing.T) {
	h := newHarness(&fakeRoster{selfID: "me"})
	ctx := context.Background()

	if err := h.manager.Invite(ctx, "peer"); err != nil {
		t.Fatal(err)
	}
	if got := h.manager.Status().Phase; got != RingingOut {
		t.Fatalf("phase = %v, want RingingOut", got)
	}
	if len(h.emitter.byEvent(channel.EventCallRequest)) != 1 {
		t.Fatal("invite must emit one call request")
	}

	h.manager.HandleCallAccepted(mustRaw(t, channel.CallSignal{From: "peer"}))

	if got := h.manager.Status().Phase; got != Active {
		t.Fatalf("phase = %v, want Active after accept", got)
	}
	link := h.factory.link("peer")
	if link == nil || link.offered != 1 {
		t.Fatal("caller must build a link and offer exactly once")
	}
	if len(h.emitter.byEvent(channel.EventOffer)) != 1 {
		t.Fatal("offer must be signaled")
	}
	if !h.media.enabled {
		t.Error("microphone must be live")
	}
}

func TestCalleeFlowAnswersReactively(t *testing.T) {
	h := newHarness(&fakeRoster{selfID: "me"})
	ctx := context.Background()

	h.manager.HandleCallRequest(mustRaw(t, channel.CallSignal{From: "caller"}))
	if got := h.manager.Status().Phase; got != RingingIn {
		t.Fatalf("phase = %v, want RingingIn", got)
	}

	if err := h.manager.Accept(ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.emitter.byEvent(channel.EventCallAccepted)) != 1 {
		t.Fatal("accept must be signaled")
	}
	if h.factory.link("caller") != nil {
		t.Fatal("callee must not offer; the link is built when the offer arrives")
	}

	h.manager.HandleOffer(mustRaw(t, channel.OfferSignal{From: "caller", Offer: json.RawMessage(`{"type":"offer"}`)}))

	link := h.factory.link("caller")
	if link == nil || len(link.answered) != 1 {
		t.Fatal("incoming offer must create a link and answer it")
	}
	if len(h.emitter.byEvent(channel.EventAnswer)) != 1 {
		t.Fatal("answer must be signaled")
	}
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	h := newHarness(&fakeRoster{selfID: "me"})
	ctx := context.Background()

	if err := h.manager.Invite(ctx, "peer"); err != nil {
		t.Fatal(err)
	}
	h.manager.HandleCallAccepted(mustRaw(t, channel.CallSignal{From: "peer"}))
	link := h.factory.link("peer")

	first := json.RawMessage(`{"candidate":"a"}`)
	second := json.RawMessage(`{"candidate":"b"}`)
	h.manager.HandleICECandidate(mustRaw(t, channel.CandidateSignal{From: "peer", Candidate: first}))
	h.manager.HandleICECandidate(mustRaw(t, channel.CandidateSignal{From: "peer", Candidate: second}))
	if len(link.candidates) != 0 {
		t.Fatal("candidates before the answer must be queued, not applied")
	}

	h.manager.HandleAnswer(mustRaw(t, channel.AnswerSignal{From: "peer", Answer: json.RawMessage(`{"type":"answer"}`)}))
	if len(link.candidates) != 2 {
		t.Fatalf("got %d applied candidates after answer, want 2 flushed in order", len(link.candidates))
	}
	if string(link.candidates[0]) != string(first) {
		t.Error("queued candidates must flush in arrival order")
	}

	// Late candidates now apply directly.
	h.manager.HandleICECandidate(mustRaw(t, channel.CandidateSignal{From: "peer", Candidate: json.RawMessage(`{"candidate":"c"}`)}))
	if len(link.candidates) != 3 {
		t.Error("candidates after the answer must apply immediately")
	}
}

func TestRejectNotifiesCaller(t *testing.T) {
	h := newHarness(&fakeRoster{selfID: "me"})
	if err := h.manager.Invite(context.Background(), "peer"); err != nil {
		t.Fatal(err)
	}

	h.manager.HandleCallRejected(mustRaw(t, channel.CallSignal{From: "peer"}))

	if got := h.manager.Status().Phase; got != Idle {
		t.Fatalf("phase = %v, want Idle after reject", got)
	}
	h.notes.mu.Lock()
	defer h.notes.mu.Unlock()
	if len(h.notes.texts) != 1 || h.notes.texts[0] != "Call rejected" {
		t.Errorf("notices = %v, want the rejection notice", h.notes.texts)
	}
}

func TestFirstTerminalEventWins(t *testing.T) {
	h := newHarness(&fakeRoster{selfID: "me"})
	if err := h.manager.Invite(context.Background(), "peer"); err != nil {
		t.Fatal(err)
	}

	h.manager.HandleCallRejected(mustRaw(t, channel.CallSignal{From: "peer"}))
	h.manager.HandleCallAccepted(mustRaw(t, channel.CallSignal{From: "peer"}))

	if got := h.manager.Status().Phase; got != Idle {
		t.Fatalf("phase = %v, want the earlier reject to stand", got)
	}
	if h.factory.link("peer") != nil {
		t.Error("a late accept must not open any link")
	}
}

func TestEndCallIdempotent(t *testing.T) {
	h := newHarness(&fakeRoster{selfID: "me"})
	ctx := context.Background()

	if err := h.manager.Invite(ctx, "peer"); err != nil {
		t.Fatal(err)
	}
	h.manager.HandleCallAccepted(mustRaw(t, channel.CallSignal{From: "peer"}))
	link := h.factory.link("peer")

	if err := h.manager.EndCall(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.manager.EndCall(ctx); err != nil {
		t.Fatal(err)
	}

	if got := len(h.emitter.byEvent(channel.EventCallEnded)); got != 1 {
		t.Fatalf("call-ended frames = %d, want exactly 1", got)
	}
	if link.closed != 1 {
		t.Errorf("link closes = %d, want 1", link.closed)
	}
	if h.media.closed != 1 {
		t.Errorf("media closes = %d, want 1", h.media.closed)
	}
	if got := h.manager.Status().Phase; got != Idle {
		t.Fatalf("phase = %v, want Idle", got)
	}
}

func TestGroupCallInitiatorAutoJoins(t *testing.T) {
	roster := &fakeRoster{
		selfID: "alice",
		groups: []model.Group{{
			ID: "g1", Name: "Gophers",
			Creator: model.Ref{ID: "alice"},
			Members: []model.Member{
				{UserID: model.Ref{ID: "alice"}},
				{UserID: model.Ref{ID: "bob"}},
			},
		}},
		contacts: []model.Contact{{ID: "alice"}, {ID: "bob"}},
	}
	h := newHarness(roster)

	if err := h.manager.StartGroupCall(context.Background(), "g1"); err != nil {
		t.Fatal(err)
	}
	st := h.manager.Status()
	if st.Phase != Active || st.GroupID != "g1" {
		t.Fatalf("status = %+v, want active in g1", st)
	}
	if len(h.emitter.byEvent(channel.EventStartGroupCall)) != 1 {
		t.Fatal("start must be signaled once")
	}
	// The initiator waits for joiners to offer toward it.
	if len(h.emitter.byEvent(channel.EventOffer)) != 0 {
		t.Error("initiator must not offer preemptively")
	}
	if got := h.manager.Participants(); len(got) != 1 || got[0] != "bob" {
		t.Errorf("participants = %v, want [bob]", got)
	}
}

func TestGroupCallStartDeniedWithoutPermission(t *testing.T) {
	roster := &fakeRoster{
		selfID: "bob",
		groups: []model.Group{{
			ID:      "g1",
			Creator: model.Ref{ID: "alice"},
			Members: []model.Member{{UserID: model.Ref{ID: "bob"}, CanCall: false}},
		}},
	}
	h := newHarness(roster)

	err := h.manager.StartGroupCall(context.Background(), "g1")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if len(h.emitter.frames) != 0 {
		t.Error("denied start must not emit any frame")
	}
	if len(h.notes.texts) != 1 {
		t.Error("denial must raise a notice")
	}
}

func TestGroupCallParticipantsIntersectDirectory(t *testing.T) {
	// Group holds a stale member "eve" missing from the directory; she
	// must not become a call participant.
	roster := &fakeRoster{
		selfID: "dana",
		groups: []model.Group{{
			ID: "g1", Name: "Gophers",
			Creator: model.Ref{ID: "carol"},
			Members: []model.Member{
				{UserID: model.Ref{ID: "carol"}},
				{UserID: model.Ref{ID: "dana"}},
				{UserID: model.Ref{ID: "eve"}},
			},
		}},
		contacts: []model.Contact{{ID: "carol"}, {ID: "dana"}},
	}
	h := newHarness(roster)

	h.manager.HandleGroupCallStarted(mustRaw(t, channel.GroupCallSignal{GroupID: "g1", CallerID: "carol"}))

	st := h.manager.Status()
	if st.Phase != GroupIncoming || st.CallerID != "carol" {
		t.Fatalf("status = %+v, want GroupIncoming from carol", st)
	}
	if got := h.manager.Participants(); len(got) != 1 || got[0] != "carol" {
		t.Fatalf("participants = %v, want [carol]", got)
	}
	h.notes.mu.Lock()
	notice := h.notes.texts[0]
	h.notes.mu.Unlock()
	if notice != "Group call started in Gophers" {
		t.Errorf("notice = %q", notice)
	}

	if err := h.manager.JoinGroupCall(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.manager.Status().Phase; got != Active {
		t.Fatalf("phase = %v, want Active after join", got)
	}
	if link := h.factory.link("carol"); link == nil || link.offered != 1 {
		t.Error("joiner must offer toward each resolved participant")
	}
	if h.factory.link("eve") != nil {
		t.Error("no link may be built toward a stale member")
	}
}

func TestGroupCallDeclineIsLocal(t *testing.T) {
	roster := &fakeRoster{
		selfID:   "dana",
		groups:   []model.Group{{ID: "g1", Members: []model.Member{{UserID: model.Ref{ID: "carol"}}}}},
		contacts: []model.Contact{{ID: "carol"}},
	}
	h := newHarness(roster)

	h.manager.HandleGroupCallStarted(mustRaw(t, channel.GroupCallSignal{GroupID: "g1", CallerID: "carol"}))
	h.manager.DeclineGroupCall()

	if got := h.manager.Status().Phase; got != Idle {
		t.Fatalf("phase = %v, want Idle after decline", got)
	}
	if len(h.emitter.frames) != 0 {
		t.Error("declining must not emit any frame")
	}
}

func TestGroupCallEndedTearsDownMesh(t *testing.T) {
	roster := &fakeRoster{
		selfID: "dana",
		groups: []model.Group{{ID: "g1", Members: []model.Member{
			{UserID: model.Ref{ID: "carol"}},
			{UserID: model.Ref{ID: "bob"}},
		}}},
		contacts: []model.Contact{{ID: "carol"}, {ID: "bob"}},
	}
	h := newHarness(roster)
	ctx := context.Background()

	h.manager.HandleGroupCallStarted(mustRaw(t, channel.GroupCallSignal{GroupID: "g1", CallerID: "carol"}))
	if err := h.manager.JoinGroupCall(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(h.emitter.byEvent(channel.EventOffer)); got != 2 {
		t.Fatalf("offers = %d, want full fan-out toward both peers", got)
	}

	h.manager.HandleGroupCallEnded(mustRaw(t, channel.GroupCallSignal{GroupID: "g1"}))

	if got := h.manager.Status().Phase; got != Idle {
		t.Fatalf("phase = %v, want Idle", got)
	}
	for _, peer := range []string{"carol", "bob"} {
		if link := h.factory.link(peer); link == nil || link.closed != 1 {
			t.Errorf("link to %s not closed exactly once", peer)
		}
	}
	if h.media.closed != 1 {
		t.Error("local media must be released")
	}
}

// Three-party mesh with staggered joins: dana joins before bob, so her
// offer toward bob is lost while he is still being rung. When bob joins
// and offers back, dana must answer instead of treating it as a
// duplicate, or the dana-bob leg never comes up.
func TestGroupMeshStaggeredJoins(t *testing.T) {
	roster := &fakeRoster{
		selfID: "dana",
		groups: []model.Group{{ID: "g1", Name: "Gophers", Members: []model.Member{
			{UserID: model.Ref{ID: "carol"}},
			{UserID: model.Ref{ID: "bob"}},
			{UserID: model.Ref{ID: "dana"}},
		}}},
		contacts: []model.Contact{{ID: "carol"}, {ID: "bob"}, {ID: "dana"}},
	}
	h := newHarness(roster)
	ctx := context.Background()

	h.manager.HandleGroupCallStarted(mustRaw(t, channel.GroupCallSignal{GroupID: "g1", CallerID: "carol"}))
	if err := h.manager.JoinGroupCall(ctx); err != nil {
		t.Fatal(err)
	}
	if got := len(h.emitter.byEvent(channel.EventOffer)); got != 2 {
		t.Fatalf("offers = %d, want fan-out toward carol and bob", got)
	}
	staleBob := h.factory.link("bob")

	// The initiator answers normally.
	h.manager.HandleAnswer(mustRaw(t, channel.AnswerSignal{From: "carol", Answer: json.RawMessage(`{"type":"answer"}`)}))
	if link := h.factory.link("carol"); link.remoteAnswers != 1 {
		t.Fatal("carol's answer must be applied to her link")
	}

	// Bob joined later; dana's offer never reached him and he offers
	// toward her instead.
	h.manager.HandleOffer(mustRaw(t, channel.OfferSignal{From: "bob", Offer: json.RawMessage(`{"type":"offer"}`)}))

	answers := h.emitter.byEvent(channel.EventAnswer)
	if len(answers) != 1 {
		t.Fatalf("answers emitted = %d, want bob's offer answered", len(answers))
	}
	if sig := answers[0].payload.(channel.AnswerSignal); sig.To != "bob" {
		t.Errorf("answer addressed to %q, want bob", sig.To)
	}
	if staleBob.closed != 1 {
		t.Error("the unanswered outbound link must be closed")
	}
	freshBob := h.factory.link("bob")
	if freshBob == staleBob || len(freshBob.answered) != 1 {
		t.Fatal("bob's offer must be answered on a fresh link")
	}

	// The leg is negotiated: bob's candidates apply directly, and a
	// stray answer to the abandoned offer changes nothing.
	h.manager.HandleICECandidate(mustRaw(t, channel.CandidateSignal{From: "bob", Candidate: json.RawMessage(`{"candidate":"x"}`)}))
	if len(freshBob.candidates) != 1 {
		t.Error("candidates from bob must apply to the fresh link")
	}
	h.manager.HandleAnswer(mustRaw(t, channel.AnswerSignal{From: "bob", Answer: json.RawMessage(`{"type":"answer"}`)}))
	if freshBob.remoteAnswers != 0 {
		t.Error("a late answer to the dropped offer must be ignored")
	}
}

func TestGroupCallRejoinAfterEnd(t *testing.T) {
	roster := &fakeRoster{
		selfID:   "dana",
		groups:   []model.Group{{ID: "g1", Members: []model.Member{{UserID: model.Ref{ID: "carol"}}, {UserID: model.Ref{ID: "dana"}}}}},
		contacts: []model.Contact{{ID: "carol"}, {ID: "dana"}},
	}
	h := newHarness(roster)
	ctx := context.Background()

	h.manager.HandleGroupCallStarted(mustRaw(t, channel.GroupCallSignal{GroupID: "g1", CallerID: "carol"}))
	if err := h.manager.JoinGroupCall(ctx); err != nil {
		t.Fatal(err)
	}
	first := h.factory.link("carol")
	// A candidate still in flight when the call ends must not leak into
	// the next session.
	h.manager.HandleICECandidate(mustRaw(t, channel.CandidateSignal{From: "carol", Candidate: json.RawMessage(`{"candidate":"old"}`)}))
	h.manager.HandleGroupCallEnded(mustRaw(t, channel.GroupCallSignal{GroupID: "g1"}))
	if first.closed != 1 {
		t.Fatal("leaving must close the mesh")
	}

	h.manager.HandleGroupCallStarted(mustRaw(t, channel.GroupCallSignal{GroupID: "g1", CallerID: "carol"}))
	if got := h.manager.Status().Phase; got != GroupIncoming {
		t.Fatalf("phase = %v, want rung again after rejoin", got)
	}
	if err := h.manager.JoinGroupCall(ctx); err != nil {
		t.Fatal(err)
	}
	second := h.factory.link("carol")
	if second == first || second.offered != 1 {
		t.Fatal("rejoining must build a fresh link")
	}
	if got := len(h.emitter.byEvent(channel.EventOffer)); got != 2 {
		t.Fatalf("offers = %d, want one per join", got)
	}

	h.manager.HandleAnswer(mustRaw(t, channel.AnswerSignal{From: "carol", Answer: json.RawMessage(`{"type":"answer"}`)}))
	if len(second.candidates) != 0 {
		t.Error("candidates from the previous session must not flush into the new link")
	}
}

func TestMediaFailureAbortsAcceptToIdle(t *testing.T) {
	h := newHarness(&fakeRoster{selfID: "me"})
	h.manager.media = func(context.Context) (MediaSource, error) {
		return nil, errors.New("no input device")
	}

	h.manager.HandleCallRequest(mustRaw(t, channel.CallSignal{From: "caller"}))
	if err := h.manager.Accept(context.Background()); err == nil {
		t.Fatal("expected media error")
	}

	if got := h.manager.Status().Phase; got != Idle {
		t.Fatalf("phase = %v, want Idle after media failure", got)
	}
	if len(h.emitter.byEvent(channel.EventCallAccepted)) != 0 {
		t.Error("no accept frame may be sent when setup aborted")
	}
	h.notes.mu.Lock()
	defer h.notes.mu.Unlock()
	if len(h.notes.texts) != 1 {
		t.Error("media failure must raise a notice")
	}
}

func TestMuteTogglesCaptureOnly(t *testing.T) {
	h := newHarness(&fakeRoster{selfID: "me"})
	ctx := context.Background()
	if err := h.manager.Invite(ctx, "peer"); err != nil {
		t.Fatal(err)
	}
	h.manager.HandleCallAccepted(mustRaw(t, channel.CallSignal{From: "peer"}))
	link := h.factory.link("peer")

	h.manager.SetMuted(true)
	if h.media.enabled {
		t.Error("mute must disable capture")
	}
	if link.closed != 0 {
		t.Error("mute must not touch any link")
	}
	h.manager.SetMuted(false)
	if !h.media.enabled {
		t.Error("unmute must re-enable capture")
	}

	h.manager.SetVolume("peer", 0.5)
	if link.volume != 0.5 {
		t.Errorf("volume = %v, want 0.5", link.volume)
	}
}
