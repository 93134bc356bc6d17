// Package authz derives per-group permissions from membership data. The
// predicates are evaluated on every send/call attempt rather than cached,
// since membership can change mid-session.
package authz

import "github.com/einfra-labs/chatbox/internal/model"

// CanSend reports whether userID may send messages in the group. The
// creator always may; anyone else needs a membership entry with the flag
// set. A nil group or missing entry denies.
func CanSend(group *model.Group, userID string) bool {
	return allowed(group, userID, func(m *model.Member) bool { return m.CanSendMessages })
}

// CanCall reports whether userID may start calls in the group, with the
// same shape as CanSend.
func CanCall(group *model.Group, userID string) bool {
	return allowed(group, userID, func(m *model.Member) bool { return m.CanCall })
}

func allowed(group *model.Group, userID string, flag func(*model.Member) bool) bool {
	if group == nil || userID == "" {
		return false
	}
	if group.Creator.ID == userID {
		return true
	}
	for i := range group.Members {
		if group.Members[i].UserID.ID == userID {
			return flag(&group.Members[i])
		}
	}
	return false
}
