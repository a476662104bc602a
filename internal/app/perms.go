package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"notable/api/internal/rbac"
	"notable/api/internal/store"
)

// UserIsInSpace returns the caller's membership record, or nil when the user
// has no membership. Any membership record grants read access regardless of
// role.
func (s *Service) UserIsInSpace(ctx context.Context, userID, spaceID string) (*store.SpaceMember, error) {
	member, err := s.store.GetSpaceMember(ctx, spaceID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup member: %w", err)
	}
	return &member, nil
}

// PermissionsCheck fails FORBIDDEN when the user has no membership in the
// space, or when the membership's role does not grant perm.
func (s *Service) PermissionsCheck(ctx context.Context, userID, spaceID string, perm rbac.Permission) error {
	member, err := s.UserIsInSpace(ctx, userID, spaceID)
	if err != nil {
		return err
	}
	if member == nil {
		return errForbidden("no access to space", forbiddenDetails(perm, spaceID))
	}
	if !rbac.Can(rbac.Normalize(member.Role), perm) {
		return errForbidden("missing permission", forbiddenDetails(perm, spaceID))
	}
	return nil
}

func forbiddenDetails(perm rbac.Permission, spaceID string) map[string]any {
	return map[string]any{"permission": string(perm), "space_id": spaceID}
}

// UserHasPermission converts FORBIDDEN into false. Any other failure
// propagates; infrastructure errors must never read as a denied permission.
func (s *Service) UserHasPermission(ctx context.Context, userID, spaceID string, perm rbac.Permission) (bool, error) {
	err := s.PermissionsCheck(ctx, userID, spaceID, perm)
	if err == nil {
		return true, nil
	}
	var de *DomainError
	if errors.As(err, &de) && de.Code == "FORBIDDEN" {
		return false, nil
	}
	return false, err
}

// GetSpaceUserIDs returns the ids of every member of the space, serving from
// the member cache when one is wired. Cache failures fall back to the store.
func (s *Service) GetSpaceUserIDs(ctx context.Context, spaceID string) ([]string, error) {
	if s.cache != nil {
		ids, ok, err := s.cache.Get(ctx, spaceID)
		if err != nil {
			s.log.Warn().Err(err).Str("space_id", spaceID).Msg("member cache read failed")
		} else if ok {
			return ids, nil
		}
	}

	ids, err := s.store.ListSpaceMemberUserIDs(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list space members: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, spaceID, ids); err != nil {
			s.log.Warn().Err(err).Str("space_id", spaceID).Msg("member cache write failed")
		}
	}
	return ids, nil
}

// invalidateMemberCache drops the cached member set after any membership
// mutation. Best effort; a failed invalidation only extends staleness to the
// cache TTL.
func (s *Service) invalidateMemberCache(ctx context.Context, spaceID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, spaceID); err != nil {
		s.log.Warn().Err(err).Str("space_id", spaceID).Msg("member cache invalidation failed")
	}
}
