// Package app composes the client: logging, the session lock, the local
// cache, the REST and channel collaborators, chat and call state, and
// the TUI, wired through fx.
package app

import (
	"context"
	"crypto/rsa"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/einfra-labs/chatbox/internal/bus"
	"github.com/einfra-labs/chatbox/internal/call"
	"github.com/einfra-labs/chatbox/internal/channel"
	"github.com/einfra-labs/chatbox/internal/chat"
	"github.com/einfra-labs/chatbox/internal/crypto"
	"github.com/einfra-labs/chatbox/internal/lock"
	"github.com/einfra-labs/chatbox/internal/logging"
	"github.com/einfra-labs/chatbox/internal/media"
	"github.com/einfra-labs/chatbox/internal/rest"
	"github.com/einfra-labs/chatbox/internal/session"
	"github.com/einfra-labs/chatbox/internal/store"
	"github.com/einfra-labs/chatbox/internal/tui"
)

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	Account   string
	ServerURL string
}

// Module returns the fx module for the client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("chatbox",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCredentials,
			providePrivateKey,
			provideRest,
			provideMedia,
			provideCore,
			provideTUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Account), p.Account)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Account); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.Account))
	l, err := lock.Acquire(session.Dir(p.Account))
	if err != nil {
		return nil, err
	}
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.Account)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	version, changed, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if changed {
		logger.Info("migrations applied", zap.Uint("version", version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(p Params) (*session.Credentials, error) {
	creds, err := session.LoadCredentials(session.CredentialsPath(p.Account))
	if err != nil {
		return nil, err
	}
	if !creds.SignedIn() {
		return nil, errors.New("not signed in; run login first")
	}
	return creds, nil
}

func providePrivateKey(creds *session.Credentials, logger *zap.Logger) *rsa.PrivateKey {
	if creds.PrivateKey == "" {
		logger.Warn("no private key stored; confidential messages will not decrypt")
		return nil
	}
	key, err := crypto.ParsePrivateKey(creds.PrivateKey)
	if err != nil {
		logger.Error("private key unusable", zap.Error(err))
		return nil
	}
	return key
}

func provideRest(p Params, creds *session.Credentials, logger *zap.Logger) *rest.Client {
	c := rest.New(p.ServerURL, logger)
	c.SetToken(creds.Token)
	return c
}

// provideMedia opens the audio runtime. A machine with no usable audio
// still gets a working chat client; calls will fail with a notice.
func provideMedia(logger *zap.Logger) *media.Engine {
	engine, err := media.NewEngine(logger)
	if err != nil {
		logger.Warn("audio unavailable, voice calls disabled", zap.Error(err))
		return nil
	}
	return engine
}

// emitFunc adapts a closure to the Emitter interfaces, letting the chat
// and call layers be built before the channel session that serves them.
type emitFunc func(ctx context.Context, event string, payload any) error

func (f emitFunc) Emit(ctx context.Context, event string, payload any) error {
	return f(ctx, event, payload)
}

// Core bundles the mutually wired conversation and call state with the
// channel session they ride on.
type Core struct {
	fx.Out

	Chat    *chat.State
	Calls   *call.Manager
	Session *channel.Session
}

func provideCore(p Params, restClient *rest.Client, db *store.DB, key *rsa.PrivateKey,
	engine *media.Engine, b *bus.Bus, logger *zap.Logger) Core {

	// The session and the state layers reference each other; the emitter
	// indirection breaks the construction cycle.
	var sess *channel.Session
	emit := emitFunc(func(ctx context.Context, event string, payload any) error {
		return sess.Emit(ctx, event, payload)
	})

	chatState := chat.New(chat.Config{
		Emitter: emit,
		History: restClient,
		Groups:  restClient,
		Upload:  restClient,
		Cache:   &store.Cache{DB: db, Self: func() string { return sess.SelfID() }},
		Decrypt: func(encrypted, plain string, confidential, selfAuthored bool) string {
			return crypto.DecryptBody(encrypted, plain, confidential, selfAuthored, key, logger)
		},
		Bus:    b,
		Logger: logger,
	})

	callCfg := call.Config{
		Emitter: emit,
		Roster:  chatState,
		Notify:  chatState,
		Bus:     b,
		Logger:  logger,
	}
	if engine != nil {
		callCfg.Links = &call.WebRTCFactory{Audio: engine, Playback: engine, Logger: logger}
		callCfg.Media = func(context.Context) (call.MediaSource, error) { return engine.Open() }
	} else {
		callCfg.Links = unavailableLinks{}
		callCfg.Media = func(context.Context) (call.MediaSource, error) {
			return nil, errors.New("audio unavailable")
		}
	}
	calls := call.NewManager(callCfg)

	sess = channel.New(channel.Config{
		ServerURL: p.ServerURL,
		Snapshots: restClient,
		Sink:      chatState,
		Bus:       b,
		Logger:    logger,
	})
	registerHandlers(sess, chatState, calls)

	return Core{Chat: chatState, Calls: calls, Session: sess}
}

// registerHandlers installs the inbound dispatch table, once per session.
func registerHandlers(sess *channel.Session, chatState *chat.State, calls *call.Manager) {
	sess.On(channel.EventChatMessage, chatState.HandleChatMessage)
	sess.On(channel.EventCallRequest, calls.HandleCallRequest)
	sess.On(channel.EventCallAccepted, calls.HandleCallAccepted)
	sess.On(channel.EventCallRejected, calls.HandleCallRejected)
	sess.On(channel.EventCallEnded, calls.HandleCallEnded)
	sess.On(channel.EventGroupCallStarted, calls.HandleGroupCallStarted)
	sess.On(channel.EventGroupCallEnded, calls.HandleGroupCallEnded)
	sess.On(channel.EventOffer, calls.HandleOffer)
	sess.On(channel.EventAnswer, calls.HandleAnswer)
	sess.On(channel.EventICECandidate, calls.HandleICECandidate)
}

type unavailableLinks struct{}

func (unavailableLinks) New(context.Context, string, call.LinkEvents) (call.PeerLink, error) {
	return nil, errors.New("audio unavailable")
}

func provideTUI(p Params, chatState *chat.State, calls *call.Manager, b *bus.Bus, logger *zap.Logger) *tui.App {
	return tui.NewApp(chatState, calls, b, p.Account, logger)
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, ui *tui.App,
	sess *channel.Session, creds *session.Credentials, db *store.DB,
	engine *media.Engine, lk *lock.Lock, logger *zap.Logger) {

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sess.Open(ctx, creds.Token); err != nil {
				return err
			}
			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("ui error", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ui.Stop()
			sess.Close()
			if err := db.Close(); err != nil {
				logger.Warn("cache close failed", zap.Error(err))
			}
			if engine != nil {
				if err := engine.Close(); err != nil {
					logger.Warn("audio close failed", zap.Error(err))
				}
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
