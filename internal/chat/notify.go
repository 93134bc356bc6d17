package chat

import (
	"time"

	"github.com/einfra-labs/chatbox/internal/bus"
	"github.com/google/uuid"
)

// Notification is a persisted, dismissible notice (permission denials,
// call outcomes, group call announcements).
type Notification struct {
	ID        string
	Text      string
	Read      bool
	Timestamp time.Time
}

// Toast is a transient notice that self-expires; it never enters the
// persisted notification list.
type Toast struct {
	ID   string
	Text string
}

// Notify appends a persisted notification.
func (s *State) Notify(text string) {
	n := Notification{ID: uuid.NewString(), Text: text, Timestamp: s.now()}
	s.mu.Lock()
	s.notifications = append(s.notifications, n)
	s.mu.Unlock()
	s.publish(bus.KindChatNotification, n)
}

// Notifications returns the persisted list, oldest first.
func (s *State) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// UnreadCount returns the number of unread notifications.
func (s *State) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.notifications {
		if !s.notifications[i].Read {
			n++
		}
	}
	return n
}

// MarkNotificationRead flags one notification as read.
func (s *State) MarkNotificationRead(id string) {
	s.mu.Lock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			break
		}
	}
	s.mu.Unlock()
	s.publish(bus.KindChatNotification, nil)
}

// ClearNotifications drops the whole persisted list.
func (s *State) ClearNotifications() {
	s.mu.Lock()
	s.notifications = nil
	s.mu.Unlock()
	s.publish(bus.KindChatNotification, nil)
}

// addToast shows a transient notice and schedules its expiry.
func (s *State) addToast(text string) {
	toast := Toast{ID: uuid.NewString(), Text: text}
	s.mu.Lock()
	s.toasts = append(s.toasts, toast)
	s.mu.Unlock()
	s.publish(bus.KindChatToast, toast)

	time.AfterFunc(s.toastTTL, func() {
		s.mu.Lock()
		kept := s.toasts[:0]
		for i := range s.toasts {
			if s.toasts[i].ID != toast.ID {
				kept = append(kept, s.toasts[i])
			}
		}
		s.toasts = kept
		s.mu.Unlock()
		s.publish(bus.KindChatToast, nil)
	})
}

// Toasts returns the currently visible transient notices.
func (s *State) Toasts() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Toast, len(s.toasts))
	copy(out, s.toasts)
	return out
}
