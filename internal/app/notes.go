package app

import (
	"context"

	"notable/api/internal/rbac"
	"notable/api/internal/store"
)

func validateNote(n store.Note) error {
	if n.ID == "" {
		return errValidation("note id is required")
	}
	if n.SpaceID == "" {
		return errValidation("note space_id is required")
	}
	return nil
}

var noteOps = itemOps[store.Note]{
	syncType:   SyncTypeNote,
	addPerm:    rbac.PermAddNote,
	editPerm:   rbac.PermEditNote,
	deletePerm: rbac.PermDeleteNote,
	validate:   validateNote,
	id:         func(n store.Note) string { return n.ID },
	spaceID:    func(n store.Note) string { return n.SpaceID },
	get: func(ctx context.Context, s *Service, id string) (store.Note, error) {
		return s.store.GetNote(ctx, id)
	},
	save: func(ctx context.Context, s *Service, n store.Note) error {
		return s.store.UpsertNote(ctx, n)
	},
	update: func(ctx context.Context, s *Service, n store.Note) error {
		return s.store.UpdateNote(ctx, n)
	},
	remove: func(ctx context.Context, s *Service, id string) error {
		return s.store.DeleteNote(ctx, id)
	},
	copyProvenance: func(payload *store.Note, existing store.Note) {
		payload.UserID = existing.UserID
		payload.SpaceID = existing.SpaceID
		// attachment metadata changes only through the attachment endpoints
		payload.FileID = existing.FileID
		payload.FileSize = existing.FileSize
	},
	setSpace:     func(n *store.Note, spaceID string) { n.SpaceID = spaceID },
	setBody:      func(n *store.Note, body []byte) { n.Body = body },
	beforeDelete: removeNoteAttachment,
}

// removeNoteAttachment drops the note's attachment object from the file
// store before the row goes away.
func removeNoteAttachment(ctx context.Context, s *Service, note store.Note) error {
	if note.FileID == "" || s.files == nil {
		return nil
	}
	return s.files.Remove(ctx, note.FileID)
}

// AddNote creates a note in the payload's space, owned by the creating user.
func (s *Service) AddNote(ctx context.Context, actorID string, note store.Note) (store.Note, []string, error) {
	note.UserID = actorID
	return addItem(ctx, s, noteOps, actorID, note)
}

func (s *Service) EditNote(ctx context.Context, actorID string, note store.Note) (store.Note, []string, error) {
	return editItem(ctx, s, noteOps, actorID, note)
}

func (s *Service) DeleteNote(ctx context.Context, actorID, noteID string) ([]string, error) {
	return deleteItem(ctx, s, noteOps, actorID, noteID)
}

// MoveNote moves a note to another space. newBody, when non-nil, carries the
// note's re-encrypted body for the destination space.
func (s *Service) MoveNote(ctx context.Context, actorID, noteID, newSpaceID string, newBody []byte) (store.Note, []string, error) {
	return moveItemSpace(ctx, s, noteOps, actorID, noteID, newSpaceID, newBody)
}
