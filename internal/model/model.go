package model

import (
	"encoding/json"
	"time"
)

// Scope distinguishes the two kinds of conversations.
type Scope string

const (
	ScopeUser  Scope = "user"
	ScopeGroup Scope = "group"
)

// ConvKey uniquely identifies a conversation: a contact id for 1:1 chats
// or a group id for group chats.
type ConvKey struct {
	Scope Scope
	ID    string
}

func UserKey(id string) ConvKey  { return ConvKey{Scope: ScopeUser, ID: id} }
func GroupKey(id string) ConvKey { return ConvKey{Scope: ScopeGroup, ID: id} }

// Ref is an entity reference that the server serializes inconsistently:
// sometimes a bare id string, sometimes an embedded {_id, name} object.
// It is normalized at the JSON boundary so everything past it sees ids.
type Ref struct {
	ID   string
	Name string
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		r.ID = id
		r.Name = ""
		return nil
	}
	var obj struct {
		ID   string `json:"_id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	r.Name = obj.Name
	return nil
}

// MarshalJSON emits the bare id form; outbound frames never embed objects.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

// Contact is a directory entry.
type Contact struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Location    string `json:"location,omitempty"`
	Designation string `json:"designation,omitempty"`
	Status      string `json:"status,omitempty"`
	Image       string `json:"image,omitempty"`
}

// Member is a group membership entry with per-member permission flags.
type Member struct {
	UserID          Ref  `json:"userId"`
	CanSendMessages bool `json:"canSendMessages"`
	CanCall         bool `json:"canCall"`
}

// Group is a named set of members. The creator has full rights regardless
// of any membership entry.
type Group struct {
	ID      string   `json:"_id"`
	Name    string   `json:"name"`
	Creator Ref      `json:"creator"`
	Members []Member `json:"members"`
}

// FileMeta describes a file attachment. File bodies are opaque to the
// encryption envelope.
type FileMeta struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// Message is a chat message. Exactly one of Recipient/Group is set.
// A client-originated message carries only TempID until the server echo
// assigns a durable ID.
type Message struct {
	ID               string    `json:"_id,omitempty"`
	TempID           string    `json:"tempId,omitempty"`
	Sender           Ref       `json:"sender"`
	Recipient        string    `json:"recipient,omitempty"`
	Group            string    `json:"group,omitempty"`
	Content          string    `json:"content,omitempty"`
	EncryptedContent string    `json:"encryptedContent,omitempty"`
	File             *FileMeta `json:"file,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Private reports whether the message is a 1:1 message.
func (m *Message) Private() bool { return m.Recipient != "" }

// SelfAuthored reports whether the viewer wrote the message.
func (m *Message) SelfAuthored(selfID string) bool {
	return selfID != "" && m.Sender.ID == selfID
}

// Key derives the conversation this message belongs to. For a 1:1 message
// the key is the other party regardless of send direction. Returns false
// when neither recipient nor group is set.
func (m *Message) Key(selfID string) (ConvKey, bool) {
	switch {
	case m.Group != "":
		return GroupKey(m.Group), true
	case m.Recipient != "":
		if m.SelfAuthored(selfID) {
			return UserKey(m.Recipient), true
		}
		return UserKey(m.Sender.ID), true
	default:
		return ConvKey{}, false
	}
}

// Matches reports whether other is the same message lineage: a confirmed
// echo matches its pending original by tempId, or an already-confirmed
// duplicate by id.
func (m *Message) Matches(other *Message) bool {
	if m.TempID != "" && m.TempID == other.TempID {
		return true
	}
	return m.ID != "" && m.ID == other.ID
}

// LastActivity is the server's per-conversation recency record. The id
// field holds either a contact id or a group id.
type LastActivity struct {
	ID      string    `json:"userId"`
	At      time.Time `json:"lastMessageTime"`
	Preview string    `json:"lastMessage,omitempty"`
}
