// Package channel owns the single persistent event channel to the relay:
// connect, authenticate, identify, dispatch inbound events to their owning
// components, and tear down cleanly. It never reconnects on its own; the
// caller re-establishes on next start.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/einfra-labs/chatbox/internal/bus"
	"github.com/einfra-labs/chatbox/internal/model"
	"go.uber.org/zap"
)

var (
	// ErrChannelOpen is returned when Open is called while a channel
	// already exists. Exactly one channel exists per session.
	ErrChannelOpen = errors.New("event channel already open")
	// ErrNotConnected is returned when emitting without an open channel.
	ErrNotConnected = errors.New("event channel not connected")
)

// Handler consumes one inbound event's payload. Handlers run on the read
// loop, so inbound ordering is arrival order; they must not block.
type Handler func(data json.RawMessage)

// Snapshots is the slice of the REST collaborator fetched once at
// identification.
type Snapshots interface {
	Users(ctx context.Context) ([]model.Contact, error)
	Groups(ctx context.Context) ([]model.Group, error)
	LastMessages(ctx context.Context) ([]model.LastActivity, error)
}

// Sink receives the resolved identity and the initial snapshots.
type Sink interface {
	SetSelf(id string)
	SetDirectory(contacts []model.Contact)
	SetGroups(groups []model.Group)
	SetActivity(records []model.LastActivity)
}

// Config assembles a session's collaborators.
type Config struct {
	ServerURL string
	Dial      Dialer // nil means the default websocket dialer
	Snapshots Snapshots
	Sink      Sink
	Bus       *bus.Bus
	Logger    *zap.Logger
}

// Session manages the event channel lifecycle:
// Disconnected -> Connecting -> Identified -> Disconnected.
type Session struct {
	serverURL string
	dial      Dialer
	snapshots Snapshots
	sink      Sink
	bus       *bus.Bus
	logger    *zap.Logger

	mu       sync.Mutex
	state    State
	conn     Conn
	selfID   string
	handlers map[string]Handler
	cancel   context.CancelFunc
}

// New creates a disconnected session.
func New(cfg Config) *Session {
	dial := cfg.Dial
	if dial == nil {
		dial = DialWebsocket
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		serverURL: cfg.ServerURL,
		dial:      dial,
		snapshots: cfg.Snapshots,
		sink:      cfg.Sink,
		bus:       cfg.Bus,
		logger:    logger,
		state:     Disconnected,
		handlers:  make(map[string]Handler),
	}
}

// On registers the handler for an inbound event kind. The dispatch table
// is registered once per session, before Open, and torn down atomically
// with it.
func (s *Session) On(kind string, h Handler) {
	s.mu.Lock()
	s.handlers[kind] = h
	s.mu.Unlock()
}

// Open dials the relay, presenting token as the handshake credential, and
// starts the read loop. Opening an already-open session is forbidden.
// Close empties the dispatch table, so a session reopened after Close
// needs its handlers registered again via On.
func (s *Session) Open(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return ErrChannelOpen
	}
	if err := s.transition(Connecting); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	conn, err := s.dial(ctx, s.serverURL, token)
	if err != nil {
		s.mu.Lock()
		_ = s.transition(Disconnected)
		s.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	go s.readLoop(loopCtx, conn)
	s.logger.Info("event channel connected")
	return nil
}

// Emit sends one event frame. Fire-and-forget: the relay acknowledges
// nothing.
func (s *Session) Emit(ctx context.Context, event string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	raw, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return err
	}
	return conn.Write(ctx, raw)
}

// SelfID returns the server-resolved user id for this connection, empty
// until identified. Cached for the rest of the session to disambiguate
// self- from counterparty-authored events.
func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the session down: stops the read loop, closes the channel,
// clears the dispatch table and identity. Double-close is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.selfID = ""
	s.handlers = make(map[string]Handler)
	if s.state != Disconnected {
		_ = s.transition(Disconnected)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
		s.logger.Info("event channel closed")
	}
}

func (s *Session) readLoop(ctx context.Context, conn Conn) {
	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // deliberate teardown
			}
			s.logger.Warn("event channel read failed", zap.Error(err))
			if s.bus != nil {
				s.bus.Emit(bus.KindChannelError, err.Error())
			}
			s.Close()
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.logger.Warn("malformed channel frame", zap.Error(err))
			continue
		}
		s.dispatch(ctx, f)
	}
}

func (s *Session) dispatch(ctx context.Context, f frame) {
	switch f.Event {
	case EventIdentity:
		var id string
		if err := json.Unmarshal(f.Data, &id); err != nil {
			s.logger.Warn("malformed identity payload", zap.Error(err))
			return
		}
		s.identified(ctx, id)
	case EventError:
		var sig ErrorSignal
		_ = json.Unmarshal(f.Data, &sig)
		s.logger.Warn("relay reported error", zap.String("message", sig.Message))
		if s.bus != nil {
			s.bus.Emit(bus.KindChannelError, sig.Message)
		}
	default:
		s.mu.Lock()
		h := s.handlers[f.Event]
		s.mu.Unlock()
		if h == nil {
			s.logger.Debug("unhandled channel event", zap.String("event", f.Event))
			return
		}
		h(f.Data)
	}
}

// identified caches the resolved user id, fetches the three initial
// snapshots, and announces group membership so the relay routes group
// events to this connection.
func (s *Session) identified(ctx context.Context, id string) {
	s.mu.Lock()
	s.selfID = id
	if s.state == Connecting {
		_ = s.transition(Identified)
	}
	s.mu.Unlock()

	s.logger.Info("session identified", zap.String("user_id", id))
	if s.sink != nil {
		s.sink.SetSelf(id)
	}
	if s.snapshots == nil {
		return
	}

	if contacts, err := s.snapshots.Users(ctx); err != nil {
		s.logger.Error("directory snapshot failed", zap.Error(err))
	} else if s.sink != nil {
		s.sink.SetDirectory(contacts)
	}

	groups, err := s.snapshots.Groups(ctx)
	if err != nil {
		s.logger.Error("group snapshot failed", zap.Error(err))
	} else {
		if s.sink != nil {
			s.sink.SetGroups(groups)
		}
		for _, g := range groups {
			if err := s.Emit(ctx, EventJoinGroup, g.ID); err != nil {
				s.logger.Warn("join group announce failed", zap.String("group_id", g.ID), zap.Error(err))
			}
		}
	}

	if records, err := s.snapshots.LastMessages(ctx); err != nil {
		s.logger.Error("activity snapshot failed", zap.Error(err))
	} else if s.sink != nil {
		s.sink.SetActivity(records)
	}
}
