package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"notable/api/internal/config"
	"notable/api/internal/store"
)

type fakeFiles struct {
	stored  map[string][]byte
	removed []string
	err     error
}

func (f *fakeFiles) Put(_ context.Context, fileID string, body io.Reader, _ int64) error {
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if f.stored == nil {
		f.stored = map[string][]byte{}
	}
	f.stored[fileID] = data
	return nil
}

func (f *fakeFiles) Get(_ context.Context, fileID string) (io.ReadCloser, error) {
	data, ok := f.stored[fileID]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeFiles) Remove(_ context.Context, fileID string) error {
	f.removed = append(f.removed, fileID)
	return f.err
}

/// twoSpaceFixture is the standing cross-space scenario: usr_a and usr_b are
// members of sp_old, usr_b and usr_c of sp_new, with usr_b holding admin in
// both.
func twoSpaceFixture() *fakeStore {
	fake := &fakeStore{
		getSpaceMemberFn: memberOf(map[string]string{
			"sp_old/usr_a": "member",
			"sp_old/usr_b": "admin",
			"sp_new/usr_b": "admin",
			"sp_new/usr_c": "member",
		}),
		listSpaceMemberUserIDsFn: func(_ context.Context, spaceID string) ([]string, error) {
			switch spaceID {
			case "sp_old":
				return []string{"usr_a", "usr_b"}, nil
			case "sp_new":
				return []string{"usr_b", "usr_c"}, nil
			}
			return []string{}, nil
		},
	}
	return fake
}

func storedNote(fake *fakeStore, note store.Note) {
	fake.getNoteFn = func(_ context.Context, id string) (store.Note, error) {
		if id == note.ID {
			return note, nil
		}
		return store.Note{}, sql.ErrNoRows
	}
}

func TestAddNoteValidation(t *testing.T) {
	fake := twoSpaceFixture()
	s := newTestService(fake)

	_, _, err := s.AddNote(context.Background(), "usr_b", store.Note{SpaceID: "sp_old"})
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "VALIDATION" {
		t.Fatalf("expected VALIDATION for missing id, got %v", err)
	}
	if len(fake.syncRecords) != 0 {
		t.Errorf("validation failure must not fan out, got %d records", len(fake.syncRecords))
	}
}

func TestAddNoteFansOutToMembers(t *testing.T) {
	fake := twoSpaceFixture()
	s := newTestService(fake)

	note, ids, err := s.AddNote(context.Background(), "usr_b", store.Note{ID: "note_1", SpaceID: "sp_old", Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	if note.UserID != "usr_b" {
		t.Errorf("note owner = %s, want creating user", note.UserID)
	}
	if len(ids) != 2 {
		t.Fatalf("expected fanout to both members, got %d ids", len(ids))
	}
	for _, userID := range []string{"usr_a", "usr_b"} {
		if n := len(fake.recordsMatching(userID, SyncTypeNote, SyncActionAdd)); n != 1 {
			t.Errorf("add records for %s = %d, want 1", userID, n)
		}
	}
}

func TestAddNoteForbiddenForNonMember(t *testing.T) {
	fake := twoSpaceFixture()
	s := newTestService(fake)

	_, _, err := s.AddNote(context.Background(), "usr_c", store.Note{ID: "note_1", SpaceID: "sp_old"})
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestEditNotePreservesProvenance(t *testing.T) {
	fake := twoSpaceFixture()
	storedNote(fake, store.Note{ID: "note_1", UserID: "usr_a", SpaceID: "sp_old", Body: []byte(`{"v":1}`)})
	s := newTestService(fake)

	// payload claims a different owner and space; both must be ignored
	payload := store.Note{ID: "note_1", UserID: "usr_c", SpaceID: "sp_new", Body: []byte(`{"v":2}`)}
	updated, _, err := s.EditNote(context.Background(), "usr_b", payload)
	if err != nil {
		t.Fatalf("EditNote: %v", err)
	}
	if updated.UserID != "usr_a" || updated.SpaceID != "sp_old" {
		t.Errorf("provenance = (%s, %s), want (usr_a, sp_old)", updated.UserID, updated.SpaceID)
	}
	if len(fake.updatedNotes) != 1 {
		t.Fatalf("expected one update, got %d", len(fake.updatedNotes))
	}
	if fake.updatedNotes[0].SpaceID != "sp_old" {
		t.Errorf("stored space = %s, payload must not re-home the note", fake.updatedNotes[0].SpaceID)
	}
	if string(fake.updatedNotes[0].Body) != `{"v":2}` {
		t.Errorf("stored body = %s, want the payload body", fake.updatedNotes[0].Body)
	}
}

func TestEditNoteKeepsAttachmentMetadata(t *testing.T) {
	fake := twoSpaceFixture()
	storedNote(fake, store.Note{ID: "note_1", UserID: "usr_a", SpaceID: "sp_old", Body: []byte(`{"v":1}`), FileID: "file_9", FileSize: 1234})
	s := newTestService(fake)

	// an edit payload never carries attachment fields; the stored ones must
	// survive the update
	updated, _, err := s.EditNote(context.Background(), "usr_b", store.Note{ID: "note_1", SpaceID: "sp_old", Body: []byte(`{"v":2}`)})
	if err != nil {
		t.Fatalf("EditNote: %v", err)
	}
	if updated.FileID != "file_9" || updated.FileSize != 1234 {
		t.Errorf("attachment metadata = (%q, %d), want (file_9, 1234)", updated.FileID, updated.FileSize)
	}
	if len(fake.updatedNotes) != 1 {
		t.Fatalf("expected one update, got %d", len(fake.updatedNotes))
	}
	if fake.updatedNotes[0].FileID != "file_9" || fake.updatedNotes[0].FileSize != 1234 {
		t.Errorf("stored metadata = (%q, %d), edit must not clobber the attachment",
			fake.updatedNotes[0].FileID, fake.updatedNotes[0].FileSize)
	}
}

func TestEditNoteMissingIsNotFound(t *testing.T) {
	fake := twoSpaceFixture()
	s := newTestService(fake)

	_, _, err := s.EditNote(context.Background(), "usr_b", store.Note{ID: "note_x", SpaceID: "sp_old"})
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestDeleteNoteMissingIsNoop(t *testing.T) {
	fake := twoSpaceFixture()
	s := newTestService(fake)

	ids, err := s.DeleteNote(context.Background(), "usr_b", "note_gone")
	if err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if ids == nil || len(ids) != 0 {
		t.Errorf("expected empty id list, got %v", ids)
	}
	if len(fake.deletedNotes) != 0 || len(fake.syncRecords) != 0 {
		t.Errorf("no-op must not write: deletes=%d records=%d", len(fake.deletedNotes), len(fake.syncRecords))
	}
}

func TestDeleteNoteRemovesAttachment(t *testing.T) {
	fake := twoSpaceFixture()
	storedNote(fake, store.Note{ID: "note_1", UserID: "usr_a", SpaceID: "sp_old", FileID: "file_9"})
	files := &fakeFiles{}
	s := NewWithDeps(config.Config{}, fake, nil, files, nil, zerolog.Nop())

	ids, err := s.DeleteNote(context.Background(), "usr_b", "note_1")
	if err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if len(fake.deletedNotes) != 1 || fake.deletedNotes[0] != "note_1" {
		t.Errorf("deleted rows = %v", fake.deletedNotes)
	}
	if len(files.removed) != 1 || files.removed[0] != "file_9" {
		t.Errorf("removed objects = %v, want [file_9]", files.removed)
	}
	if len(ids) != 2 {
		t.Errorf("expected delete fanout to both members, got %d", len(ids))
	}
}

func TestDeleteNoteSurvivesAttachmentFailure(t *testing.T) {
	fake := twoSpaceFixture()
	storedNote(fake, store.Note{ID: "note_1", UserID: "usr_a", SpaceID: "sp_old", FileID: "file_9"})
	files := &fakeFiles{err: errors.New("object store down")}
	s := NewWithDeps(config.Config{}, fake, nil, files, nil, zerolog.Nop())

	if _, err := s.DeleteNote(context.Background(), "usr_b", "note_1"); err != nil {
		t.Fatalf("attachment cleanup failure must not fail the delete: %v", err)
	}
	if len(fake.deletedNotes) != 1 {
		t.Errorf("row delete did not happen")
	}
}

func TestMoveNoteSameSpaceIsNoop(t *testing.T) {
	fake := twoSpaceFixture()
	storedNote(fake, store.Note{ID: "note_1", UserID: "usr_a", SpaceID: "sp_old"})
	s := newTestService(fake)

	note, ids, err := s.MoveNote(context.Background(), "usr_b", "note_1", "sp_old", nil)
	if err != nil {
		t.Fatalf("MoveNote: %v", err)
	}
	if note.SpaceID != "sp_old" {
		t.Errorf("space = %s, want unchanged", note.SpaceID)
	}
	if len(ids) != 0 || len(fake.updatedNotes) != 0 || len(fake.syncRecords) != 0 {
		t.Errorf("same-space move must not write: ids=%d updates=%d records=%d",
			len(ids), len(fake.updatedNotes), len(fake.syncRecords))
	}
}

func TestMoveNoteCrossSpaceFanout(t *testing.T) {
	fake := twoSpaceFixture()
	storedNote(fake, store.Note{ID: "note_1", UserID: "usr_a", SpaceID: "sp_old", Body: []byte(`old`)})
	s := newTestService(fake)

	note, ids, err := s.MoveNote(context.Background(), "usr_b", "note_1", "sp_new", []byte(`rekeyed`))
	if err != nil {
		t.Fatalf("MoveNote: %v", err)
	}
	if note.SpaceID != "sp_new" || string(note.Body) != "rekeyed" {
		t.Errorf("moved note = %+v", note)
	}
	if len(fake.updatedNotes) != 1 || fake.updatedNotes[0].SpaceID != "sp_new" {
		t.Errorf("stored update = %+v", fake.updatedNotes)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 fanout records, got %d", len(ids))
	}
	if n := len(fake.recordsMatching("usr_b", SyncTypeNote, SyncActionEdit)); n != 1 {
		t.Errorf("usr_b (member of both) edit records = %d, want 1", n)
	}
	if n := len(fake.recordsMatching("usr_a", SyncTypeNote, SyncActionDelete)); n != 1 {
		t.Errorf("usr_a (source only) delete records = %d, want 1", n)
	}
	if n := len(fake.recordsMatching("usr_c", SyncTypeNote, SyncActionAdd)); n != 1 {
		t.Errorf("usr_c (destination only) add records = %d, want 1", n)
	}
}

func TestMoveNoteRequiresBothPermissions(t *testing.T) {
	// usr_a is a member of the source but not of the destination
	fake := twoSpaceFixture()
	storedNote(fake, store.Note{ID: "note_1", UserID: "usr_a", SpaceID: "sp_old"})
	s := newTestService(fake)

	_, _, err := s.MoveNote(context.Background(), "usr_a", "note_1", "sp_new", nil)
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN on destination, got %v", err)
	}
	if len(fake.updatedNotes) != 0 || len(fake.syncRecords) != 0 {
		t.Errorf("denied move must not write")
	}
}

func TestMoveBoardCascadesNotes(t *testing.T) {
	fake := twoSpaceFixture()
	fake.getBoardFn = func(_ context.Context, id string) (store.Board, error) {
		if id == "board_1" {
			return store.Board{ID: "board_1", UserID: "usr_a", SpaceID: "sp_old"}, nil
		}
		return store.Board{}, sql.ErrNoRows
	}
	fake.listNotesByBoardFn = func(_ context.Context, boardID string) ([]store.Note, error) {
		return []store.Note{
			{ID: "note_1", UserID: "usr_a", SpaceID: "sp_old"},
			{ID: "note_2", UserID: "usr_b", SpaceID: "sp_old"},
		}, nil
	}
	s := newTestService(fake)

	board, ids, err := s.MoveBoard(context.Background(), "usr_b", "board_1", "sp_new", nil,
		map[string][]byte{"note_1": []byte(`rekeyed-1`)})
	if err != nil {
		t.Fatalf("MoveBoard: %v", err)
	}
	if board.SpaceID != "sp_new" {
		t.Errorf("board space = %s", board.SpaceID)
	}
	// 3 for the board itself, 3 per contained note
	if len(ids) != 9 {
		t.Fatalf("expected 9 fanout records, got %d", len(ids))
	}
	if len(fake.updatedNotes) != 2 {
		t.Fatalf("expected both notes re-homed, got %d updates", len(fake.updatedNotes))
	}
	for _, note := range fake.updatedNotes {
		if note.SpaceID != "sp_new" {
			t.Errorf("note %s space = %s, want sp_new", note.ID, note.SpaceID)
		}
		// note_1 was re-keyed by the caller, note_2 keeps its stored body
		if note.ID == "note_1" && string(note.Body) != "rekeyed-1" {
			t.Errorf("note_1 body = %q, want the supplied body", note.Body)
		}
		if note.ID == "note_2" && len(note.Body) != 0 {
			t.Errorf("note_2 body = %q, want unchanged", note.Body)
		}
	}
	if n := len(fake.recordsMatching("usr_c", SyncTypeNote, SyncActionAdd)); n != 2 {
		t.Errorf("usr_c note add records = %d, want one per note", n)
	}
	if n := len(fake.recordsMatching("usr_a", SyncTypeBoard, SyncActionDelete)); n != 1 {
		t.Errorf("usr_a board delete records = %d, want 1", n)
	}
}
