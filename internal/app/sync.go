package app

import (
	"context"
	"fmt"

	"notable/api/internal/store"
	"notable/api/internal/util"
)

// Sync actions. "unshare" tells a recipient their access to the object was
// revoked, as opposed to the object being deleted for everyone.
const (
	SyncActionAdd     = "add"
	SyncActionEdit    = "edit"
	SyncActionDelete  = "delete"
	SyncActionUnshare = "unshare"
)

// Sync object type tags.
const (
	SyncTypeSpace    = "space"
	SyncTypeBoard    = "board"
	SyncTypeNote     = "note"
	SyncTypeInvite   = "invite"
	SyncTypeKeychain = "keychain"
)

// addSyncRecords appends one record per recipient and returns the generated
// record ids for caller correlation. An empty recipient set is a no-op.
func (s *Service) addSyncRecords(ctx context.Context, recipients []string, actorID, objType, objID, action string) ([]string, error) {
	if len(recipients) == 0 {
		return []string{}, nil
	}

	ids := make([]string, len(recipients))
	records := make([]store.SyncRecord, len(recipients))
	for i, userID := range recipients {
		ids[i] = util.NewID("sync")
		records[i] = store.SyncRecord{
			ID:      ids[i],
			UserID:  userID,
			ActorID: actorID,
			Type:    objType,
			ItemID:  objID,
			Action:  action,
		}
	}
	if err := s.store.InsertSyncRecords(ctx, records); err != nil {
		return nil, fmt.Errorf("fan out %s/%s: %w", objType, action, err)
	}
	return ids, nil
}

// syncSplit partitions two membership sets for a cross-space move.
type syncSplit struct {
	Same []string // members of both spaces
	Old  []string // members only of the source space
	New  []string // members only of the destination space
}

// splitActions designates the action emitted to each partition.
type splitActions struct {
	Same string
	Old  string
	New  string
}

// moveActions is the fixed action map for cross-space moves: shared members
// see an edit, members losing the item see a delete, members gaining it see
// an add.
var moveActions = splitActions{
	Same: SyncActionEdit,
	Old:  SyncActionDelete,
	New:  SyncActionAdd,
}

// splitSameUsers partitions oldIDs/newIDs by set intersection and difference.
// Input order is preserved within each partition; duplicates are dropped.
func splitSameUsers(oldIDs, newIDs []string) syncSplit {
	oldSet := make(map[string]bool, len(oldIDs))
	for _, id := range oldIDs {
		oldSet[id] = true
	}
	newSet := make(map[string]bool, len(newIDs))
	for _, id := range newIDs {
		newSet[id] = true
	}

	split := syncSplit{Same: []string{}, Old: []string{}, New: []string{}}
	seen := make(map[string]bool, len(oldIDs)+len(newIDs))
	for _, id := range oldIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if newSet[id] {
			split.Same = append(split.Same, id)
		} else {
			split.Old = append(split.Old, id)
		}
	}
	for _, id := range newIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !oldSet[id] {
			split.New = append(split.New, id)
		}
	}
	return split
}

// addSyncRecordsFromSplit issues one fanout per non-empty partition and
// returns the concatenated record ids, same partition first, then old, then
// new.
func (s *Service) addSyncRecordsFromSplit(ctx context.Context, actorID string, split syncSplit, actions splitActions, objType, objID string) ([]string, error) {
	ids := []string{}

	sameIDs, err := s.addSyncRecords(ctx, split.Same, actorID, objType, objID, actions.Same)
	if err != nil {
		return ids, err
	}
	ids = append(ids, sameIDs...)

	oldIDs, err := s.addSyncRecords(ctx, split.Old, actorID, objType, objID, actions.Old)
	if err != nil {
		return ids, err
	}
	ids = append(ids, oldIDs...)

	newIDs, err := s.addSyncRecords(ctx, split.New, actorID, objType, objID, actions.New)
	if err != nil {
		return ids, err
	}
	ids = append(ids, newIDs...)

	return ids, nil
}
