package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"notable/api/internal/rbac"
	"notable/api/internal/store"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateMemberRole enforces the space-member schema: the role must be a
// known, assignable role. Owner is never assignable here; ownership moves
// only through SetSpaceOwner.
func validateMemberRole(role string) error {
	switch rbac.Role(role) {
	case rbac.RoleAdmin, rbac.RoleModerator, rbac.RoleMember, rbac.RoleGuest:
		return nil
	case rbac.RoleOwner:
		return errValidation("owner role cannot be assigned directly")
	default:
		return errValidation("unknown role: " + role)
	}
}

// EditMember changes a member's role. The owner membership cannot be edited.
// Members see the change as an edit of the space.
func (s *Service) EditMember(ctx context.Context, actorID, memberID, role string) (store.SpaceMember, []string, error) {
	if err := validateMemberRole(role); err != nil {
		return store.SpaceMember{}, nil, err
	}

	member, err := s.store.GetSpaceMemberByID(ctx, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SpaceMember{}, nil, errNotFound("member not found")
	}
	if err != nil {
		return store.SpaceMember{}, nil, fmt.Errorf("load member: %w", err)
	}
	if member.Role == string(rbac.RoleOwner) {
		return store.SpaceMember{}, nil, errForbidden("owner membership cannot be modified",
			forbiddenDetails(rbac.PermEditSpaceMember, member.SpaceID))
	}

	if err := s.PermissionsCheck(ctx, actorID, member.SpaceID, rbac.PermEditSpaceMember); err != nil {
		return store.SpaceMember{}, nil, err
	}

	if err := s.store.UpdateSpaceMemberRole(ctx, member.ID, role); err != nil {
		return store.SpaceMember{}, nil, fmt.Errorf("update member role: %w", err)
	}
	member.Role = role

	members, err := s.GetSpaceUserIDs(ctx, member.SpaceID)
	if err != nil {
		return store.SpaceMember{}, nil, err
	}
	syncIDs, err := s.addSyncRecords(ctx, members, actorID, SyncTypeSpace, member.SpaceID, SyncActionEdit)
	if err != nil {
		return store.SpaceMember{}, nil, err
	}
	return member, syncIDs, nil
}

// DeleteMember removes a user from a space. Either the actor holds
// delete_space_member, or the actor is the target leaving the space. The
// owner membership can never be removed. The target's keychain entries for
// the space are removed with the membership; remaining members see a space
// edit, the removed user sees an unshare.
func (s *Service) DeleteMember(ctx context.Context, actorID, spaceID, targetUserID string) ([]string, error) {
	member, err := s.store.GetSpaceMember(ctx, spaceID, targetUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("member not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load member: %w", err)
	}
	if member.Role == string(rbac.RoleOwner) {
		return nil, errForbidden("owner membership cannot be removed",
			forbiddenDetails(rbac.PermDeleteSpaceMember, spaceID))
	}

	if actorID != targetUserID {
		if err := s.PermissionsCheck(ctx, actorID, spaceID, rbac.PermDeleteSpaceMember); err != nil {
			return nil, err
		}
	}

	if err := s.store.DeleteSpaceMember(ctx, member.ID); err != nil {
		return nil, fmt.Errorf("delete member: %w", err)
	}
	if err := s.store.DeleteKeychainEntriesByUserItem(ctx, targetUserID, spaceID); err != nil {
		return nil, fmt.Errorf("delete member keychain entries: %w", err)
	}
	s.invalidateMemberCache(ctx, spaceID)

	remaining, err := s.GetSpaceUserIDs(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	syncIDs, err := s.addSyncRecords(ctx, remaining, actorID, SyncTypeSpace, spaceID, SyncActionEdit)
	if err != nil {
		return syncIDs, err
	}
	unshareIDs, err := s.addSyncRecords(ctx, []string{targetUserID}, actorID, SyncTypeSpace, spaceID, SyncActionUnshare)
	syncIDs = append(syncIDs, unshareIDs...)
	if err != nil {
		return syncIDs, err
	}
	return syncIDs, nil
}
