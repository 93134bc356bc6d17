package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/einfra-labs/chatbox/internal/model"
)

// ErrManageUnavailable means no group management collaborator was wired.
var ErrManageUnavailable = errors.New("group management unavailable")

// CreateGroup creates a group on the server and merges it into the
// snapshot. The creator is the current user.
func (s *State) CreateGroup(ctx context.Context, name string) (*model.Group, error) {
	if s.manage == nil {
		return nil, ErrManageUnavailable
	}
	group, err := s.manage.CreateGroup(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.UpsertGroup(*group)
	return group, nil
}

// AddMember adds a user to a group with the given permission flags. Only
// the creator may change membership; anyone else gets a local denial and
// no request is issued.
func (s *State) AddMember(ctx context.Context, groupID, userID string, canSend, canCall bool) (*model.Group, error) {
	if err := s.requireCreator(groupID); err != nil {
		return nil, err
	}
	group, err := s.manage.AddMember(ctx, groupID, userID, canSend, canCall)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	s.UpsertGroup(*group)
	return group, nil
}

// UpdatePermissions changes one member's flags. Creator-only, like
// AddMember. Permissions take effect on the next send/call attempt;
// nothing is cached.
func (s *State) UpdatePermissions(ctx context.Context, groupID, userID string, canSend, canCall bool) (*model.Group, error) {
	if err := s.requireCreator(groupID); err != nil {
		return nil, err
	}
	group, err := s.manage.UpdatePermissions(ctx, groupID, userID, canSend, canCall)
	if err != nil {
		return nil, fmt.Errorf("update permissions: %w", err)
	}
	s.UpsertGroup(*group)
	return group, nil
}

func (s *State) requireCreator(groupID string) error {
	if s.manage == nil {
		return ErrManageUnavailable
	}
	group := s.Group(groupID)
	if group == nil || group.Creator.ID != s.SelfID() {
		s.Notify("Permission denied: Only the group creator can manage members")
		return ErrPermissionDenied
	}
	return nil
}
