package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"notable/api/internal/rbac"
)

// itemOps describes one contained-object type (board, note) to the generic
// mutation pipeline: its sync type tag, the permissions gating each
// operation, and the storage callbacks. The four pipeline functions share the
// validate -> permission-check -> mutate -> fanout skeleton so it is written
// once.
type itemOps[T any] struct {
	syncType string

	addPerm    rbac.Permission
	editPerm   rbac.Permission
	deletePerm rbac.Permission

	// validate raises VALIDATION before any storage access.
	validate func(T) error

	id      func(T) string
	spaceID func(T) string

	get    func(context.Context, *Service, string) (T, error)
	save   func(context.Context, *Service, T) error // upsert
	update func(context.Context, *Service, T) error
	remove func(context.Context, *Service, string) error

	// copyProvenance copies the immutable user_id/space_id fields from the
	// stored row onto the edit payload, so a payload cannot re-home or
	// re-own an item.
	copyProvenance func(payload *T, existing T)

	setSpace func(*T, string)
	setBody  func(*T, []byte)

	// beforeDelete releases external resources (attachment objects). Failures
	// are logged, not fatal; the row delete still proceeds.
	beforeDelete func(context.Context, *Service, T) error

	// postMove lets composite objects cascade a space move to their children.
	// Returned sync ids are appended to the move's own.
	postMove func(ctx context.Context, s *Service, actorID string, moved T, oldSpaceID, newSpaceID string) ([]string, error)
}

// addItem validates the payload, requires the add permission in the payload's
// space, upserts the row, and fans out an add record to all current members.
func addItem[T any](ctx context.Context, s *Service, ops itemOps[T], actorID string, payload T) (T, []string, error) {
	var zero T
	if err := ops.validate(payload); err != nil {
		return zero, nil, err
	}

	spaceID := ops.spaceID(payload)
	if err := s.PermissionsCheck(ctx, actorID, spaceID, ops.addPerm); err != nil {
		return zero, nil, err
	}

	if err := ops.save(ctx, s, payload); err != nil {
		return zero, nil, fmt.Errorf("save %s: %w", ops.syncType, err)
	}

	members, err := s.GetSpaceUserIDs(ctx, spaceID)
	if err != nil {
		return zero, nil, err
	}
	ids, err := s.addSyncRecords(ctx, members, actorID, ops.syncType, ops.id(payload), SyncActionAdd)
	if err != nil {
		return zero, nil, err
	}
	return payload, ids, nil
}

// editItem loads the stored row, restores its provenance fields onto the
// payload, and permission-checks against the row's existing space, not
// whatever space the payload claims.
func editItem[T any](ctx context.Context, s *Service, ops itemOps[T], actorID string, payload T) (T, []string, error) {
	var zero T
	if err := ops.validate(payload); err != nil {
		return zero, nil, err
	}

	existing, err := ops.get(ctx, s, ops.id(payload))
	if errors.Is(err, sql.ErrNoRows) {
		return zero, nil, errNotFound(ops.syncType + " not found")
	}
	if err != nil {
		return zero, nil, fmt.Errorf("load %s: %w", ops.syncType, err)
	}

	ops.copyProvenance(&payload, existing)

	spaceID := ops.spaceID(existing)
	if err := s.PermissionsCheck(ctx, actorID, spaceID, ops.editPerm); err != nil {
		return zero, nil, err
	}

	if err := ops.update(ctx, s, payload); err != nil {
		return zero, nil, fmt.Errorf("update %s: %w", ops.syncType, err)
	}

	members, err := s.GetSpaceUserIDs(ctx, spaceID)
	if err != nil {
		return zero, nil, err
	}
	ids, err := s.addSyncRecords(ctx, members, actorID, ops.syncType, ops.id(payload), SyncActionEdit)
	if err != nil {
		return zero, nil, err
	}
	return payload, ids, nil
}

// deleteItem is idempotent: deleting an item that is already gone is a
// successful no-op with an empty sync-id list.
func deleteItem[T any](ctx context.Context, s *Service, ops itemOps[T], actorID, itemID string) ([]string, error) {
	existing, err := ops.get(ctx, s, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ops.syncType, err)
	}

	spaceID := ops.spaceID(existing)
	if err := s.PermissionsCheck(ctx, actorID, spaceID, ops.deletePerm); err != nil {
		return nil, err
	}

	if ops.beforeDelete != nil {
		if err := ops.beforeDelete(ctx, s, existing); err != nil {
			s.log.Warn().Err(err).Str("type", ops.syncType).Str("id", itemID).Msg("pre-delete cleanup failed")
		}
	}

	if err := ops.remove(ctx, s, itemID); err != nil {
		return nil, fmt.Errorf("delete %s: %w", ops.syncType, err)
	}

	members, err := s.GetSpaceUserIDs(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	return s.addSyncRecords(ctx, members, actorID, ops.syncType, itemID, SyncActionDelete)
}

// moveItemSpace re-homes an item to another space. Moving to the current
// space is a no-op, not an error. Crossing spaces requires the delete
// permission on the source AND the add permission on the destination. newBody,
// when non-nil, replaces the item's opaque body so the caller can supply
// re-encrypted key material for the destination space.
func moveItemSpace[T any](ctx context.Context, s *Service, ops itemOps[T], actorID, itemID, newSpaceID string, newBody []byte) (T, []string, error) {
	var zero T
	existing, err := ops.get(ctx, s, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, nil, errNotFound(ops.syncType + " not found")
	}
	if err != nil {
		return zero, nil, fmt.Errorf("load %s: %w", ops.syncType, err)
	}

	oldSpaceID := ops.spaceID(existing)
	if oldSpaceID == newSpaceID {
		return existing, []string{}, nil
	}

	if err := s.PermissionsCheck(ctx, actorID, oldSpaceID, ops.deletePerm); err != nil {
		return zero, nil, err
	}
	if err := s.PermissionsCheck(ctx, actorID, newSpaceID, ops.addPerm); err != nil {
		return zero, nil, err
	}

	oldMembers, err := s.GetSpaceUserIDs(ctx, oldSpaceID)
	if err != nil {
		return zero, nil, err
	}
	newMembers, err := s.GetSpaceUserIDs(ctx, newSpaceID)
	if err != nil {
		return zero, nil, err
	}

	ops.setSpace(&existing, newSpaceID)
	if newBody != nil {
		ops.setBody(&existing, newBody)
	}
	if err := ops.update(ctx, s, existing); err != nil {
		return zero, nil, fmt.Errorf("move %s: %w", ops.syncType, err)
	}

	split := splitSameUsers(oldMembers, newMembers)
	ids, err := s.addSyncRecordsFromSplit(ctx, actorID, split, moveActions, ops.syncType, itemID)
	if err != nil {
		return zero, ids, err
	}

	if ops.postMove != nil {
		childIDs, err := ops.postMove(ctx, s, actorID, existing, oldSpaceID, newSpaceID)
		ids = append(ids, childIDs...)
		if err != nil {
			return zero, ids, err
		}
	}
	return existing, ids, nil
}
