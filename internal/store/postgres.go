package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// placeholders renders "$1,$2,...,$n" for IN clauses.
func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ",")
}

func toAnySlice(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUsersByEmails(ctx context.Context, emails []string) ([]User, error) {
	if len(emails) == 0 {
		return []User{}, nil
	}
	lowered := make([]string, len(emails))
	for i, email := range emails {
		lowered[i] = strings.ToLower(email)
	}
	query := fmt.Sprintf(`
		SELECT id, email, display_name, created_at
		FROM users
		WHERE LOWER(email) IN (%s)
	`, placeholders(len(lowered)))
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(lowered)...)
	if err != nil {
		return nil, fmt.Errorf("list users by email: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, len(emails))
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.DisplayName, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// -----------------------------------------------------------------------------
// Spaces
// -----------------------------------------------------------------------------

func (s *PostgresStore) GetSpace(ctx context.Context, spaceID string) (Space, error) {
	var space Space
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, body, created_at, updated_at FROM spaces WHERE id=$1
	`, spaceID).Scan(&space.ID, &space.UserID, &space.Body, &space.CreatedAt, &space.UpdatedAt)
	if err != nil {
		return Space{}, err
	}
	return space, nil
}

func (s *PostgresStore) GetSpacesByIDs(ctx context.Context, spaceIDs []string) ([]Space, error) {
	if len(spaceIDs) == 0 {
		return []Space{}, nil
	}
	query := fmt.Sprintf(`
		SELECT id, user_id, body, created_at, updated_at
		FROM spaces
		WHERE id IN (%s)
	`, placeholders(len(spaceIDs)))
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(spaceIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()

	spaces := make([]Space, 0, len(spaceIDs))
	for rows.Next() {
		var space Space
		if err := rows.Scan(&space.ID, &space.UserID, &space.Body, &space.CreatedAt, &space.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		spaces = append(spaces, space)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spaces: %w", err)
	}
	return spaces, nil
}

func (s *PostgresStore) UpsertSpace(ctx context.Context, space Space) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spaces (id, user_id, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET user_id=EXCLUDED.user_id, body=EXCLUDED.body, updated_at=NOW()
	`, space.ID, space.UserID, space.Body)
	if err != nil {
		return fmt.Errorf("upsert space: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSpace(ctx context.Context, space Space) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE spaces SET user_id=$2, body=$3, updated_at=NOW() WHERE id=$1
	`, space.ID, space.UserID, space.Body)
	if err != nil {
		return fmt.Errorf("update space: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSpace(ctx context.Context, spaceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM spaces WHERE id=$1`, spaceID)
	if err != nil {
		return fmt.Errorf("delete space: %w", err)
	}
	return nil
}

// SpaceSize sums note body bytes plus attachment bytes across the space.
func (s *PostgresStore) SpaceSize(ctx context.Context, spaceID string) (int64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(OCTET_LENGTH(body) + file_size), 0)
		FROM notes
		WHERE space_id=$1
	`, spaceID).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("space size: %w", err)
	}
	return size, nil
}

// -----------------------------------------------------------------------------
// Space members
// -----------------------------------------------------------------------------

const memberColumns = `id, space_id, user_id, role, created_at, updated_at`

func scanMember(row interface{ Scan(...any) error }) (SpaceMember, error) {
	var m SpaceMember
	err := row.Scan(&m.ID, &m.SpaceID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *PostgresStore) GetSpaceMember(ctx context.Context, spaceID, userID string) (SpaceMember, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+` FROM spaces_members WHERE space_id=$1 AND user_id=$2
	`, spaceID, userID)
	return scanMember(row)
}

func (s *PostgresStore) GetSpaceMemberByID(ctx context.Context, memberID string) (SpaceMember, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+` FROM spaces_members WHERE id=$1
	`, memberID)
	return scanMember(row)
}

func (s *PostgresStore) ListSpaceMembers(ctx context.Context, spaceID string) ([]SpaceMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memberColumns+` FROM spaces_members WHERE space_id=$1 ORDER BY created_at
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	return collectMembers(rows)
}

func (s *PostgresStore) ListSpaceMembersBySpaces(ctx context.Context, spaceIDs []string) ([]SpaceMember, error) {
	if len(spaceIDs) == 0 {
		return []SpaceMember{}, nil
	}
	query := fmt.Sprintf(`
		SELECT `+memberColumns+` FROM spaces_members WHERE space_id IN (%s) ORDER BY created_at
	`, placeholders(len(spaceIDs)))
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(spaceIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list members by spaces: %w", err)
	}
	defer rows.Close()
	return collectMembers(rows)
}

func collectMembers(rows *sql.Rows) ([]SpaceMember, error) {
	members := make([]SpaceMember, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (s *PostgresStore) ListSpaceMemberUserIDs(ctx context.Context, spaceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM spaces_members WHERE space_id=$1 ORDER BY created_at
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) InsertSpaceMember(ctx context.Context, member SpaceMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spaces_members (id, space_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (space_id, user_id) DO UPDATE SET role=EXCLUDED.role, updated_at=NOW()
	`, member.ID, member.SpaceID, member.UserID, member.Role)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSpaceMemberRole(ctx context.Context, memberID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE spaces_members SET role=$2, updated_at=NOW() WHERE id=$1
	`, memberID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSpaceMember(ctx context.Context, memberID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM spaces_members WHERE id=$1`, memberID)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSpaceMembersBySpace(ctx context.Context, spaceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM spaces_members WHERE space_id=$1`, spaceID)
	if err != nil {
		return fmt.Errorf("delete members: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Invites
// -----------------------------------------------------------------------------

const inviteColumns = `id, space_id, from_user_id, to_email, role, passphrase_hash, body, created_at, updated_at`

func scanInvite(row interface{ Scan(...any) error }) (Invite, error) {
	var inv Invite
	err := row.Scan(&inv.ID, &inv.SpaceID, &inv.FromUserID, &inv.ToEmail, &inv.Role,
		&inv.PassphraseHash, &inv.Body, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

func (s *PostgresStore) GetInvite(ctx context.Context, inviteID string) (Invite, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+inviteColumns+` FROM spaces_invites WHERE id=$1
	`, inviteID)
	return scanInvite(row)
}

func (s *PostgresStore) ListInvitesBySpaces(ctx context.Context, spaceIDs []string) ([]Invite, error) {
	if len(spaceIDs) == 0 {
		return []Invite{}, nil
	}
	query := fmt.Sprintf(`
		SELECT `+inviteColumns+` FROM spaces_invites WHERE space_id IN (%s) ORDER BY created_at
	`, placeholders(len(spaceIDs)))
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(spaceIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	invites := make([]Invite, 0)
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		invites = append(invites, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invites: %w", err)
	}
	return invites, nil
}

func (s *PostgresStore) InsertInvite(ctx context.Context, invite Invite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spaces_invites (id, space_id, from_user_id, to_email, role, passphrase_hash, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET role=EXCLUDED.role, passphrase_hash=EXCLUDED.passphrase_hash, body=EXCLUDED.body, updated_at=NOW()
	`, invite.ID, invite.SpaceID, invite.FromUserID, strings.ToLower(invite.ToEmail), invite.Role, invite.PassphraseHash, invite.Body)
	if err != nil {
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteInvite(ctx context.Context, inviteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM spaces_invites WHERE id=$1`, inviteID)
	if err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteInvitesBySpace(ctx context.Context, spaceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM spaces_invites WHERE space_id=$1`, spaceID)
	if err != nil {
		return fmt.Errorf("delete invites: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Boards
// -----------------------------------------------------------------------------

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	var b Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, space_id, body, created_at, updated_at FROM boards WHERE id=$1
	`, boardID).Scan(&b.ID, &b.UserID, &b.SpaceID, &b.Body, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Board{}, err
	}
	return b, nil
}

func (s *PostgresStore) ListBoardsBySpace(ctx context.Context, spaceID string) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, space_id, body, created_at, updated_at
		FROM boards WHERE space_id=$1 ORDER BY created_at
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	boards := make([]Board, 0)
	for rows.Next() {
		var b Board
		if err := rows.Scan(&b.ID, &b.UserID, &b.SpaceID, &b.Body, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return boards, nil
}

func (s *PostgresStore) UpsertBoard(ctx context.Context, board Board) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, user_id, space_id, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET user_id=EXCLUDED.user_id, space_id=EXCLUDED.space_id, body=EXCLUDED.body, updated_at=NOW()
	`, board.ID, board.UserID, board.SpaceID, board.Body)
	if err != nil {
		return fmt.Errorf("upsert board: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, board Board) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE boards SET user_id=$2, space_id=$3, body=$4, updated_at=NOW() WHERE id=$1
	`, board.ID, board.UserID, board.SpaceID, board.Body)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, boardID)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Notes
// -----------------------------------------------------------------------------

const noteColumns = `id, user_id, space_id, board_id, body, file_id, file_size, created_at, updated_at`

func scanNote(row interface{ Scan(...any) error }) (Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.UserID, &n.SpaceID, &n.BoardID, &n.Body,
		&n.FileID, &n.FileSize, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+noteColumns+` FROM notes WHERE id=$1
	`, noteID)
	return scanNote(row)
}

func (s *PostgresStore) ListNotesBySpace(ctx context.Context, spaceID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+` FROM notes WHERE space_id=$1 ORDER BY created_at
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

func (s *PostgresStore) ListNotesByBoard(ctx context.Context, boardID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+noteColumns+` FROM notes WHERE board_id=$1 ORDER BY created_at
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list board notes: %w", err)
	}
	defer rows.Close()
	return collectNotes(rows)
}

func collectNotes(rows *sql.Rows) ([]Note, error) {
	notes := make([]Note, 0)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return notes, nil
}

func (s *PostgresStore) UpsertNote(ctx context.Context, note Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, user_id, space_id, board_id, body, file_id, file_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET user_id=EXCLUDED.user_id, space_id=EXCLUDED.space_id,
			board_id=EXCLUDED.board_id, body=EXCLUDED.body, file_id=EXCLUDED.file_id,
			file_size=EXCLUDED.file_size, updated_at=NOW()
	`, note.ID, note.UserID, note.SpaceID, note.BoardID, note.Body, note.FileID, note.FileSize)
	if err != nil {
		return fmt.Errorf("upsert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, note Note) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notes SET user_id=$2, space_id=$3, board_id=$4, body=$5, file_id=$6, file_size=$7, updated_at=NOW()
		WHERE id=$1
	`, note.ID, note.UserID, note.SpaceID, note.BoardID, note.Body, note.FileID, note.FileSize)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Keychain
// -----------------------------------------------------------------------------

func (s *PostgresStore) ListKeychainEntriesByItem(ctx context.Context, itemID string) ([]KeychainEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, item_id, body, created_at, updated_at
		FROM keychain WHERE item_id=$1 ORDER BY created_at
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list keychain entries: %w", err)
	}
	defer rows.Close()

	entries := make([]KeychainEntry, 0)
	for rows.Next() {
		var entry KeychainEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.ItemID, &entry.Body, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan keychain entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keychain entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) DeleteKeychainEntry(ctx context.Context, entryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM keychain WHERE id=$1`, entryID)
	if err != nil {
		return fmt.Errorf("delete keychain entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteKeychainEntriesByUserItem(ctx context.Context, userID, itemID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM keychain WHERE user_id=$1 AND item_id=$2`, userID, itemID)
	if err != nil {
		return fmt.Errorf("delete keychain entries: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sync records
// -----------------------------------------------------------------------------

// InsertSyncRecords appends the records in one multi-row insert. Records are
// never updated or deleted; the sync log is append-only.
func (s *PostgresStore) InsertSyncRecords(ctx context.Context, records []SyncRecord) error {
	if len(records) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO sync_records (id, user_id, actor_id, type, item_id, action) VALUES `)
	args := make([]any, 0, len(records)*6)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, rec.ID, rec.UserID, rec.ActorID, rec.Type, rec.ItemID, rec.Action)
	}
	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert sync records: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSyncRecordsSince(ctx context.Context, userID string, since time.Time, limit int) ([]SyncRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, actor_id, type, item_id, action, created_at
		FROM sync_records
		WHERE user_id=$1 AND created_at > $2
		ORDER BY created_at
		LIMIT $3
	`, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	defer rows.Close()

	records := make([]SyncRecord, 0)
	for rows.Next() {
		var rec SyncRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ActorID, &rec.Type, &rec.ItemID, &rec.Action, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sync record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync records: %w", err)
	}
	return records, nil
}
