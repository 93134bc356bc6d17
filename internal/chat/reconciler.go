package chat

import (
	"context"
	"encoding/json"

	"github.com/einfra-labs/chatbox/internal/bus"
	"github.com/einfra-labs/chatbox/internal/model"
	"go.uber.org/zap"
)

// HandleChatMessage is the channel dispatch handler for inbound
// chatMessage frames.
func (s *State) HandleChatMessage(data json.RawMessage) {
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("malformed chat message", zap.Error(err))
		return
	}
	s.Apply(msg)
}

// Apply merges one incoming message into conversation state.
//
// A confirmed echo replaces any earlier representation of the same
// lineage (same tempId or same id); exactly one survivor remains. The
// conversation's activity record is overwritten with the local receipt
// time and moved to the front, re-establishing a strict
// most-recently-active-first order. Non-self-authored messages raise a
// transient toast.
func (s *State) Apply(msg model.Message) {
	s.mu.Lock()
	selfAuthored := msg.SelfAuthored(s.selfID)
	s.resolveContentLocked(&msg)

	key, ok := msg.Key(s.selfID)
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("message with neither recipient nor group dropped",
			zap.String("id", msg.ID), zap.String("temp_id", msg.TempID))
		return
	}

	s.insertLocked(key, msg)
	s.touchActivityLocked(key, preview(&msg))

	var toastText string
	if !selfAuthored {
		toastText = toastTextFor(&msg, s.senderNameLocked(&msg))
	}
	s.mu.Unlock()

	if toastText != "" {
		s.addToast(toastText)
	}
	if msg.ID != "" && s.cache != nil {
		if err := s.cache.SaveMessage(&msg); err != nil {
			s.logger.Warn("message cache write failed", zap.Error(err), zap.String("id", msg.ID))
		}
	}
	s.publish(bus.KindChatMessage, key)
}

// insertLocked applies the matching rule: drop every message of the same
// lineage, then append the incoming one.
func (s *State) insertLocked(key model.ConvKey, msg model.Message) {
	conv := s.conversations[key]
	kept := conv[:0]
	for i := range conv {
		if !msg.Matches(&conv[i]) {
			kept = append(kept, conv[i])
		}
	}
	s.conversations[key] = append(kept, msg)
}

// touchActivityLocked overwrites the conversation's recency record with
// the local receipt time and moves it to the front, along with the owning
// contact or group in its own list. Stable: everything else keeps its
// relative order.
func (s *State) touchActivityLocked(key model.ConvKey, preview string) {
	kept := s.activity[:0]
	for i := range s.activity {
		if s.activity[i].Key != key {
			kept = append(kept, s.activity[i])
		}
	}
	s.activity = append([]Activity{{Key: key, At: s.now(), Preview: preview}}, kept...)

	switch key.Scope {
	case model.ScopeUser:
		for i := range s.contacts {
			if s.contacts[i].ID == key.ID {
				c := s.contacts[i]
				s.contacts = append(s.contacts[:i], s.contacts[i+1:]...)
				s.contacts = append([]model.Contact{c}, s.contacts...)
				break
			}
		}
	case model.ScopeGroup:
		for i := range s.groups {
			if s.groups[i].ID == key.ID {
				g := s.groups[i]
				s.groups = append(s.groups[:i], s.groups[i+1:]...)
				s.groups = append([]model.Group{g}, s.groups...)
				break
			}
		}
	}
}

// resolveContentLocked settles the displayable body. File messages bypass
// the envelope entirely; everything else goes through the decryptor,
// which handles the bypass/fallback/sentinel rules.
func (s *State) resolveContentLocked(msg *model.Message) {
	if msg.File != nil {
		return
	}
	msg.Content = s.decrypt(msg.EncryptedContent, msg.Content, msg.Private(), msg.SelfAuthored(s.selfID))
}

func (s *State) senderNameLocked(msg *model.Message) string {
	if msg.Sender.Name != "" {
		return msg.Sender.Name
	}
	for i := range s.contacts {
		if s.contacts[i].ID == msg.Sender.ID {
			return s.contacts[i].Name
		}
	}
	return "Someone"
}

func toastTextFor(msg *model.Message, senderName string) string {
	if msg.File != nil {
		return senderName + " sent a file"
	}
	return senderName + ": " + msg.Content
}

func preview(msg *model.Message) string {
	if msg.File != nil {
		return "Sent a file"
	}
	return msg.Content
}

// LoadHistory fetches and installs one conversation's history. On failure
// the previously loaded messages are left untouched.
func (s *State) LoadHistory(ctx context.Context, key model.ConvKey) ([]model.Message, error) {
	if s.history == nil {
		return s.Conversation(key), nil
	}

	var (
		msgs []model.Message
		err  error
	)
	switch key.Scope {
	case model.ScopeGroup:
		msgs, err = s.history.GroupHistory(ctx, key.ID)
	default:
		msgs, err = s.history.PrivateHistory(ctx, key.ID)
	}
	if err != nil {
		s.logger.Error("history fetch failed", zap.String("conversation", key.ID), zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	for i := range msgs {
		s.resolveContentLocked(&msgs[i])
	}
	s.conversations[key] = msgs
	s.mu.Unlock()

	if s.cache != nil {
		for i := range msgs {
			if msgs[i].ID != "" {
				_ = s.cache.SaveMessage(&msgs[i])
			}
		}
	}
	s.publish(bus.KindChatMessage, key)
	return s.Conversation(key), nil
}
