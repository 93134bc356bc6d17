package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/einfra-labs/chatbox/internal/authz"
	"github.com/einfra-labs/chatbox/internal/bus"
	"github.com/einfra-labs/chatbox/internal/channel"
	"github.com/einfra-labs/chatbox/internal/model"
)

// ErrPermissionDenied means the group's membership flags forbid the
// action. Checked locally before any frame or request leaves.
var ErrPermissionDenied = errors.New("permission denied")

// ErrUploadUnavailable means no upload collaborator was wired.
var ErrUploadUnavailable = errors.New("file upload unavailable")

// outgoing is the chatMessage frame payload. Exactly one of
// Recipient/Group is set.
type outgoing struct {
	Recipient string `json:"recipient,omitempty"`
	Group     string `json:"group,omitempty"`
	Content   string `json:"content,omitempty"`
	TempID    string `json:"tempId"`
}

// SendText sends a text message with optimistic local echo: the pending
// message is inserted (and rendered) before any confirmation, identified
// by a generated tempId, and replaced in place when the server echo
// arrives. Group sends are permission-gated; a denial produces a
// notification and no frame.
func (s *State) SendText(ctx context.Context, key model.ConvKey, text string) (*model.Message, error) {
	selfID, err := s.checkSendable(key)
	if err != nil {
		return nil, err
	}

	msg := model.Message{
		TempID:    uuid.NewString(),
		Sender:    model.Ref{ID: selfID, Name: "You"},
		Content:   text,
		Timestamp: s.now(),
	}
	out := outgoing{Content: text, TempID: msg.TempID}
	if key.Scope == model.ScopeGroup {
		msg.Group = key.ID
		out.Group = key.ID
	} else {
		msg.Recipient = key.ID
		out.Recipient = key.ID
	}

	if err := s.emitter.Emit(ctx, channel.EventChatMessage, out); err != nil {
		return nil, fmt.Errorf("emit chat message: %w", err)
	}
	s.echo(key, msg)
	return &msg, nil
}

// SendFilePath uploads a local file as an attachment. The server turns
// the upload into a file message and echoes it on the channel; only the
// optimistic local copy is produced here, no frame is emitted.
func (s *State) SendFilePath(ctx context.Context, key model.ConvKey, path string) (*model.Message, error) {
	selfID, err := s.checkSendable(key)
	if err != nil {
		return nil, err
	}
	if s.upload == nil {
		return nil, ErrUploadUnavailable
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	msg := model.Message{
		TempID:    uuid.NewString(),
		Sender:    model.Ref{ID: selfID, Name: "You"},
		Timestamp: s.now(),
	}
	var recipient, group string
	if key.Scope == model.ScopeGroup {
		group = key.ID
		msg.Group = key.ID
	} else {
		recipient = key.ID
		msg.Recipient = key.ID
	}

	meta, err := s.upload.Upload(ctx, recipient, group, msg.TempID, filepath.Base(path), f)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	msg.File = meta
	s.echo(key, msg)
	return &msg, nil
}

// checkSendable enforces connectivity and group send permission. The
// permission is evaluated on every attempt, never cached, because
// membership can change mid-session.
func (s *State) checkSendable(key model.ConvKey) (string, error) {
	selfID := s.SelfID()
	if selfID == "" {
		return "", channel.ErrNotConnected
	}
	if key.Scope == model.ScopeGroup {
		if !authz.CanSend(s.Group(key.ID), selfID) {
			s.Notify("Permission denied: You cannot send messages in this group")
			return "", ErrPermissionDenied
		}
	}
	return selfID, nil
}

// echo inserts the pending message locally. No timeout: if the server
// echo never returns, the pending message stays pending.
func (s *State) echo(key model.ConvKey, msg model.Message) {
	s.mu.Lock()
	s.insertLocked(key, msg)
	s.touchActivityLocked(key, preview(&msg))
	s.mu.Unlock()
	s.publish(bus.KindChatMessage, key)
}
