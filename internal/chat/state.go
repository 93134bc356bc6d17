// Package chat holds the conversation state machine: snapshot ingestion,
// reconciliation of optimistic sends with server echoes, recency ordering,
// and the notification surfaces.
package chat

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/einfra-labs/chatbox/internal/bus"
	"github.com/einfra-labs/chatbox/internal/model"
	"go.uber.org/zap"
)

// Emitter sends outbound frames on the event channel.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Decryptor resolves a message body's displayable text. Bound to the
// account private key by the caller.
type Decryptor func(encrypted, plain string, confidential, selfAuthored bool) string

// History fetches conversation history from the REST collaborator.
type History interface {
	PrivateHistory(ctx context.Context, userID string) ([]model.Message, error)
	GroupHistory(ctx context.Context, groupID string) ([]model.Message, error)
}

// Cache persists confirmed messages and directory entries locally so the
// UI can render without a round trip. Optional; a nil cache disables it.
type Cache interface {
	SaveMessage(msg *model.Message) error
	SaveContacts(contacts []model.Contact) error
}

// GroupsAPI is the slice of the REST collaborator that manages groups.
type GroupsAPI interface {
	CreateGroup(ctx context.Context, name string) (*model.Group, error)
	AddMember(ctx context.Context, groupID, userID string, canSend, canCall bool) (*model.Group, error)
	UpdatePermissions(ctx context.Context, groupID, userID string, canSend, canCall bool) (*model.Group, error)
}

// Uploader pushes attachment bytes to the server, which turns them into
// a file message and echoes it back on the channel.
type Uploader interface {
	Upload(ctx context.Context, recipient, group, tempID, filename string, r io.Reader) (*model.FileMeta, error)
}

// Activity is one per-conversation recency record. The slice holding
// these is kept most-recent-first.
type Activity struct {
	Key     model.ConvKey
	At      time.Time
	Preview string
}

// DefaultToastTTL is how long a transient notice stays visible.
const DefaultToastTTL = 2 * time.Second

// State owns all conversation data for one session.
type State struct {
	emitter  Emitter
	history  History
	cache    Cache
	manage   GroupsAPI
	upload   Uploader
	decrypt  Decryptor
	bus      *bus.Bus
	logger   *zap.Logger
	toastTTL time.Duration
	now      func() time.Time

	mu            sync.Mutex
	selfID        string
	contacts      []model.Contact
	groups        []model.Group
	conversations map[model.ConvKey][]model.Message
	activity      []Activity
	notifications []Notification
	toasts        []Toast
}

// Config assembles a chat state's collaborators.
type Config struct {
	Emitter  Emitter
	History  History
	Cache    Cache
	Groups   GroupsAPI
	Upload   Uploader
	Decrypt  Decryptor
	Bus      *bus.Bus
	Logger   *zap.Logger
	ToastTTL time.Duration // zero means DefaultToastTTL
	Now      func() time.Time
}

// New creates an empty chat state.
func New(cfg Config) *State {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	decrypt := cfg.Decrypt
	if decrypt == nil {
		decrypt = func(_, plain string, _, _ bool) string { return plain }
	}
	ttl := cfg.ToastTTL
	if ttl == 0 {
		ttl = DefaultToastTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &State{
		emitter:       cfg.Emitter,
		history:       cfg.History,
		cache:         cfg.Cache,
		manage:        cfg.Groups,
		upload:        cfg.Upload,
		decrypt:       decrypt,
		bus:           cfg.Bus,
		logger:        logger,
		toastTTL:      ttl,
		now:           now,
		conversations: make(map[model.ConvKey][]model.Message),
	}
}

// SetSelf records the server-resolved identity for this session.
func (s *State) SetSelf(id string) {
	s.mu.Lock()
	s.selfID = id
	s.mu.Unlock()
}

// SetDirectory installs the directory snapshot, replacing any previous one.
func (s *State) SetDirectory(contacts []model.Contact) {
	s.mu.Lock()
	s.contacts = contacts
	s.mu.Unlock()
	if s.cache != nil {
		if err := s.cache.SaveContacts(contacts); err != nil {
			s.logger.Warn("contact cache write failed", zap.Error(err))
		}
	}
	s.publish(bus.KindChatSnapshot, nil)
}

// SetGroups installs the group snapshot.
func (s *State) SetGroups(groups []model.Group) {
	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()
	s.publish(bus.KindChatSnapshot, nil)
}

// SetActivity installs the recency snapshot. Scope for each bare id is
// resolved against the group snapshot; anything unknown is a contact.
func (s *State) SetActivity(records []model.LastActivity) {
	s.mu.Lock()
	s.activity = s.activity[:0]
	for _, rec := range records {
		key := model.UserKey(rec.ID)
		if s.groupLocked(rec.ID) != nil {
			key = model.GroupKey(rec.ID)
		}
		s.activity = append(s.activity, Activity{Key: key, At: rec.At, Preview: rec.Preview})
	}
	s.mu.Unlock()
	s.publish(bus.KindChatActivity, nil)
}

// SelfID returns the cached identity, empty before identification.
func (s *State) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// Contacts returns the directory in current recency order.
func (s *State) Contacts() []model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Contact, len(s.contacts))
	copy(out, s.contacts)
	return out
}

// Groups returns the known groups in current recency order.
func (s *State) Groups() []model.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Group, len(s.groups))
	copy(out, s.groups)
	return out
}

// Group looks a group up by id; nil when unknown.
func (s *State) Group(id string) *model.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupLocked(id)
}

func (s *State) groupLocked(id string) *model.Group {
	for i := range s.groups {
		if s.groups[i].ID == id {
			g := s.groups[i]
			return &g
		}
	}
	return nil
}

// Contact looks a directory entry up by id; nil when unknown.
func (s *State) Contact(id string) *model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.contacts {
		if s.contacts[i].ID == id {
			c := s.contacts[i]
			return &c
		}
	}
	return nil
}

// Conversation returns the message list for a conversation, oldest first.
func (s *State) Conversation(key model.ConvKey) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.conversations[key]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}

// ActivityOrder returns the conversations most-recent-first.
func (s *State) ActivityOrder() []Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Activity, len(s.activity))
	copy(out, s.activity)
	return out
}

// UpsertGroup merges one group (created or updated via REST) into the
// snapshot without disturbing recency order.
func (s *State) UpsertGroup(group model.Group) {
	s.mu.Lock()
	replaced := false
	for i := range s.groups {
		if s.groups[i].ID == group.ID {
			s.groups[i] = group
			replaced = true
			break
		}
	}
	if !replaced {
		s.groups = append(s.groups, group)
	}
	s.mu.Unlock()
	s.publish(bus.KindChatSnapshot, nil)
}

func (s *State) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Emit(kind, payload)
	}
}
