package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"notable/api/internal/rbac"
	"notable/api/internal/store"
	"notable/api/internal/util"
)

// UploadNoteAttachment stores an attachment body and points the note at the
// new object. Requires edit_note in the note's space. A previous attachment
// object is removed once the row update succeeds; members see the note as
// edited.
func (s *Service) UploadNoteAttachment(ctx context.Context, actorID, noteID string, body io.Reader, size int64) (store.Note, []string, error) {
	if s.files == nil {
		return store.Note{}, nil, errUnavailable("attachment storage is not configured")
	}
	if size < 0 {
		return store.Note{}, nil, errValidation("attachment size is required")
	}

	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Note{}, nil, errNotFound("note not found")
	}
	if err != nil {
		return store.Note{}, nil, fmt.Errorf("load note: %w", err)
	}

	if err := s.PermissionsCheck(ctx, actorID, note.SpaceID, rbac.PermEditNote); err != nil {
		return store.Note{}, nil, err
	}

	fileID := util.NewID("file")
	if err := s.files.Put(ctx, fileID, body, size); err != nil {
		return store.Note{}, nil, fmt.Errorf("store attachment: %w", err)
	}

	previous := note.FileID
	note.FileID = fileID
	note.FileSize = size
	if err := s.store.UpdateNote(ctx, note); err != nil {
		return store.Note{}, nil, fmt.Errorf("update note: %w", err)
	}
	if previous != "" {
		if err := s.files.Remove(ctx, previous); err != nil {
			s.log.Warn().Err(err).Str("note_id", noteID).Str("file_id", previous).
				Msg("stale attachment removal failed")
		}
	}

	members, err := s.GetSpaceUserIDs(ctx, note.SpaceID)
	if err != nil {
		return store.Note{}, nil, err
	}
	ids, err := s.addSyncRecords(ctx, members, actorID, SyncTypeNote, note.ID, SyncActionEdit)
	if err != nil {
		return store.Note{}, nil, err
	}
	return note, ids, nil
}

// OpenNoteAttachment streams the note's attachment body. The caller closes
// the reader. Read access follows the note's space membership.
func (s *Service) OpenNoteAttachment(ctx context.Context, userID, noteID string) (io.ReadCloser, store.Note, error) {
	if s.files == nil {
		return nil, store.Note{}, errUnavailable("attachment storage is not configured")
	}

	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.Note{}, errNotFound("note not found")
	}
	if err != nil {
		return nil, store.Note{}, fmt.Errorf("load note: %w", err)
	}

	if err := s.requireReadAccess(ctx, userID, note.SpaceID); err != nil {
		return nil, store.Note{}, err
	}
	if note.FileID == "" {
		return nil, store.Note{}, errNotFound("note has no attachment")
	}

	body, err := s.files.Get(ctx, note.FileID)
	if err != nil {
		return nil, store.Note{}, fmt.Errorf("open attachment: %w", err)
	}
	return body, note, nil
}
