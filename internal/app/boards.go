package app

import (
	"context"
	"fmt"

	"notable/api/internal/rbac"
	"notable/api/internal/store"
)

func validateBoard(b store.Board) error {
	if b.ID == "" {
		return errValidation("board id is required")
	}
	if b.SpaceID == "" {
		return errValidation("board space_id is required")
	}
	return nil
}

var boardOps = itemOps[store.Board]{
	syncType:   SyncTypeBoard,
	addPerm:    rbac.PermAddBoard,
	editPerm:   rbac.PermEditBoard,
	deletePerm: rbac.PermDeleteBoard,
	validate:   validateBoard,
	id:         func(b store.Board) string { return b.ID },
	spaceID:    func(b store.Board) string { return b.SpaceID },
	get: func(ctx context.Context, s *Service, id string) (store.Board, error) {
		return s.store.GetBoard(ctx, id)
	},
	save: func(ctx context.Context, s *Service, b store.Board) error {
		return s.store.UpsertBoard(ctx, b)
	},
	update: func(ctx context.Context, s *Service, b store.Board) error {
		return s.store.UpdateBoard(ctx, b)
	},
	remove: func(ctx context.Context, s *Service, id string) error {
		return s.store.DeleteBoard(ctx, id)
	},
	copyProvenance: func(payload *store.Board, existing store.Board) {
		payload.UserID = existing.UserID
		payload.SpaceID = existing.SpaceID
	},
	setSpace: func(b *store.Board, spaceID string) { b.SpaceID = spaceID },
	setBody:  func(b *store.Board, body []byte) { b.Body = body },
}

// moveBoardNotes cascades a board's space move to its notes. noteBodies
// carries re-encrypted bodies keyed by note id; notes without an entry keep
// their stored body. The member split is the same for every note, so it is
// computed once.
func moveBoardNotes(ctx context.Context, s *Service, actorID string, board store.Board, oldSpaceID, newSpaceID string, noteBodies map[string][]byte) ([]string, error) {
	notes, err := s.store.ListNotesByBoard(ctx, board.ID)
	if err != nil {
		return nil, fmt.Errorf("list board notes: %w", err)
	}
	if len(notes) == 0 {
		return []string{}, nil
	}

	oldMembers, err := s.GetSpaceUserIDs(ctx, oldSpaceID)
	if err != nil {
		return nil, err
	}
	newMembers, err := s.GetSpaceUserIDs(ctx, newSpaceID)
	if err != nil {
		return nil, err
	}
	split := splitSameUsers(oldMembers, newMembers)

	ids := []string{}
	for _, note := range notes {
		note.SpaceID = newSpaceID
		if body, ok := noteBodies[note.ID]; ok {
			note.Body = body
		}
		if err := s.store.UpdateNote(ctx, note); err != nil {
			return ids, fmt.Errorf("move note %s: %w", note.ID, err)
		}
		noteIDs, err := s.addSyncRecordsFromSplit(ctx, actorID, split, moveActions, SyncTypeNote, note.ID)
		ids = append(ids, noteIDs...)
		if err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// AddBoard creates a board in the payload's space. The creating user becomes
// the board's owning user regardless of the payload.
func (s *Service) AddBoard(ctx context.Context, actorID string, board store.Board) (store.Board, []string, error) {
	board.UserID = actorID
	return addItem(ctx, s, boardOps, actorID, board)
}

func (s *Service) EditBoard(ctx context.Context, actorID string, board store.Board) (store.Board, []string, error) {
	return editItem(ctx, s, boardOps, actorID, board)
}

func (s *Service) DeleteBoard(ctx context.Context, actorID, boardID string) ([]string, error) {
	return deleteItem(ctx, s, boardOps, actorID, boardID)
}

// MoveBoard moves a board and its notes to another space. newBody, when
// non-nil, carries the board's re-encrypted body for the destination space;
// noteBodies carries the contained notes' re-encrypted bodies keyed by note
// id.
func (s *Service) MoveBoard(ctx context.Context, actorID, boardID, newSpaceID string, newBody []byte, noteBodies map[string][]byte) (store.Board, []string, error) {
	ops := boardOps
	ops.postMove = func(ctx context.Context, s *Service, actorID string, moved store.Board, oldSpaceID, newSpaceID string) ([]string, error) {
		return moveBoardNotes(ctx, s, actorID, moved, oldSpaceID, newSpaceID, noteBodies)
	}
	return moveItemSpace(ctx, s, ops, actorID, boardID, newSpaceID, newBody)
}
