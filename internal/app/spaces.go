package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"notable/api/internal/rbac"
	"notable/api/internal/store"
	"notable/api/internal/util"
)

// deleteFanoutLimit caps in-flight note/board deletes during a space delete
// cascade so storage is not overwhelmed. Siblings are order-independent.
const deleteFanoutLimit = 8

// SpaceDetail is a space with its membership and pending invites populated,
// plus the sync-record ids generated by the operation that produced it.
type SpaceDetail struct {
	Space   store.Space
	Members []store.SpaceMember
	Invites []store.Invite
	SyncIDs []string
}

func validateSpace(sp store.Space) error {
	if sp.ID == "" {
		return errValidation("space id is required")
	}
	if sp.UserID == "" {
		return errValidation("space user_id is required")
	}
	if sp.Body == nil {
		return errValidation("space body is required")
	}
	return nil
}

// CreateSpace creates a space owned by the caller, records the caller's owner
// membership, and notifies only the caller: nobody else can see the space
// yet.
func (s *Service) CreateSpace(ctx context.Context, userID string, space store.Space) (SpaceDetail, error) {
	space.UserID = userID
	if err := validateSpace(space); err != nil {
		return SpaceDetail{}, err
	}

	if err := s.store.UpsertSpace(ctx, space); err != nil {
		return SpaceDetail{}, fmt.Errorf("save space: %w", err)
	}

	member := store.SpaceMember{
		ID:      util.NewID("mem"),
		SpaceID: space.ID,
		UserID:  userID,
		Role:    string(rbac.RoleOwner),
	}
	if err := s.store.InsertSpaceMember(ctx, member); err != nil {
		return SpaceDetail{}, fmt.Errorf("save owner membership: %w", err)
	}
	s.invalidateMemberCache(ctx, space.ID)

	syncIDs, err := s.addSyncRecords(ctx, []string{userID}, userID, SyncTypeSpace, space.ID, SyncActionAdd)
	if err != nil {
		return SpaceDetail{}, err
	}

	return s.spaceDetail(ctx, space, syncIDs)
}

// EditSpace updates a space's body. The owning user is always preserved from
// the stored row; ownership only changes through SetSpaceOwner.
func (s *Service) EditSpace(ctx context.Context, userID string, space store.Space) (store.Space, []string, error) {
	if space.UserID == "" {
		// validated against the stored owner below
		space.UserID = userID
	}
	if err := validateSpace(space); err != nil {
		return store.Space{}, nil, err
	}

	existing, err := s.store.GetSpace(ctx, space.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Space{}, nil, errNotFound("space not found")
	}
	if err != nil {
		return store.Space{}, nil, fmt.Errorf("load space: %w", err)
	}
	space.UserID = existing.UserID

	if err := s.PermissionsCheck(ctx, userID, space.ID, rbac.PermEditSpace); err != nil {
		return store.Space{}, nil, err
	}

	if err := s.store.UpdateSpace(ctx, space); err != nil {
		return store.Space{}, nil, fmt.Errorf("update space: %w", err)
	}

	members, err := s.GetSpaceUserIDs(ctx, space.ID)
	if err != nil {
		return store.Space{}, nil, err
	}
	syncIDs, err := s.addSyncRecords(ctx, members, userID, SyncTypeSpace, space.ID, SyncActionEdit)
	if err != nil {
		return store.Space{}, nil, err
	}
	return space, syncIDs, nil
}

// DeleteSpace tears down a space and everything it contains. Sub-steps are
// not compensated on later failure; clients converge through the sync records
// that did get emitted. Deleting a space that is already gone is a no-op.
func (s *Service) DeleteSpace(ctx context.Context, userID, spaceID string) ([]string, error) {
	_, err := s.store.GetSpace(ctx, spaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load space: %w", err)
	}

	if err := s.PermissionsCheck(ctx, userID, spaceID, rbac.PermDeleteSpace); err != nil {
		return nil, err
	}

	// Captured before the cascade removes the membership rows; the final
	// space-delete fanout goes to this set.
	memberIDs, err := s.GetSpaceUserIDs(ctx, spaceID)
	if err != nil {
		return nil, err
	}

	syncIDs := []string{}

	contentIDs, err := s.deleteSpaceContents(ctx, userID, spaceID)
	syncIDs = append(syncIDs, contentIDs...)
	if err != nil {
		return syncIDs, err
	}

	inviteIDs, err := s.notifyInvitedOfDelete(ctx, userID, spaceID)
	syncIDs = append(syncIDs, inviteIDs...)
	if err != nil {
		return syncIDs, err
	}

	unshareIDs, err := s.addSyncRecords(ctx, memberIDs, userID, SyncTypeSpace, spaceID, SyncActionUnshare)
	syncIDs = append(syncIDs, unshareIDs...)
	if err != nil {
		return syncIDs, err
	}

	if err := s.store.DeleteSpaceMembersBySpace(ctx, spaceID); err != nil {
		return syncIDs, err
	}
	s.invalidateMemberCache(ctx, spaceID)
	if err := s.store.DeleteInvitesBySpace(ctx, spaceID); err != nil {
		return syncIDs, err
	}
	if err := s.store.DeleteSpace(ctx, spaceID); err != nil {
		return syncIDs, err
	}

	keychainIDs, err := s.sweepSpaceKeychain(ctx, userID, spaceID)
	syncIDs = append(syncIDs, keychainIDs...)
	if err != nil {
		return syncIDs, err
	}

	finalIDs, err := s.addSyncRecords(ctx, memberIDs, userID, SyncTypeSpace, spaceID, SyncActionDelete)
	syncIDs = append(syncIDs, finalIDs...)
	if err != nil {
		return syncIDs, err
	}

	s.log.Info().Str("space_id", spaceID).Str("actor", userID).
		Int("sync_records", len(syncIDs)).Msg("space deleted")
	return syncIDs, nil
}

// deleteSpaceContents removes every note and board through their own delete
// operations, a bounded number in flight at a time.
func (s *Service) deleteSpaceContents(ctx context.Context, userID, spaceID string) ([]string, error) {
	notes, err := s.store.ListNotesBySpace(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list space notes: %w", err)
	}
	boards, err := s.store.ListBoardsBySpace(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list space boards: %w", err)
	}

	var mu sync.Mutex
	syncIDs := []string{}
	collect := func(ids []string) {
		mu.Lock()
		syncIDs = append(syncIDs, ids...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteFanoutLimit)
	for _, note := range notes {
		noteID := note.ID
		g.Go(func() error {
			ids, err := s.DeleteNote(gctx, userID, noteID)
			collect(ids)
			return err
		})
	}
	for _, board := range boards {
		boardID := board.ID
		g.Go(func() error {
			ids, err := s.DeleteBoard(gctx, userID, boardID)
			collect(ids)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return syncIDs, err
	}
	return syncIDs, nil
}

// notifyInvitedOfDelete resolves each outstanding invite to a user account
// and emits a delete record scoped to that identity alone. Invites whose
// recipient has no account are skipped.
func (s *Service) notifyInvitedOfDelete(ctx context.Context, userID, spaceID string) ([]string, error) {
	invites, err := s.store.ListInvitesBySpaces(ctx, []string{spaceID})
	if err != nil {
		return nil, fmt.Errorf("list space invites: %w", err)
	}
	if len(invites) == 0 {
		return []string{}, nil
	}

	emails := make([]string, len(invites))
	for i, inv := range invites {
		emails[i] = inv.ToEmail
	}
	users, err := s.store.GetUsersByEmails(ctx, emails)
	if err != nil {
		return nil, fmt.Errorf("resolve invited users: %w", err)
	}
	byEmail := make(map[string]store.User, len(users))
	for _, user := range users {
		byEmail[normalizeEmail(user.Email)] = user
	}

	syncIDs := []string{}
	for _, inv := range invites {
		user, ok := byEmail[normalizeEmail(inv.ToEmail)]
		if !ok {
			continue
		}
		ids, err := s.addSyncRecords(ctx, []string{user.ID}, userID, SyncTypeInvite, inv.ID, SyncActionDelete)
		syncIDs = append(syncIDs, ids...)
		if err != nil {
			return syncIDs, err
		}
	}
	return syncIDs, nil
}

// sweepSpaceKeychain removes every keychain entry referencing the space,
// telling each entry's owner their key is gone.
func (s *Service) sweepSpaceKeychain(ctx context.Context, userID, spaceID string) ([]string, error) {
	entries, err := s.store.ListKeychainEntriesByItem(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list keychain entries: %w", err)
	}

	syncIDs := []string{}
	for _, entry := range entries {
		if err := s.store.DeleteKeychainEntry(ctx, entry.ID); err != nil {
			return syncIDs, err
		}
		ids, err := s.addSyncRecords(ctx, []string{entry.UserID}, userID, SyncTypeKeychain, entry.ID, SyncActionDelete)
		syncIDs = append(syncIDs, ids...)
		if err != nil {
			return syncIDs, err
		}
	}
	return syncIDs, nil
}

// SetSpaceOwner reassigns ownership. The space, the current owner's
// membership, and the target's membership must all exist. The old owner is
// demoted to admin, the target promoted to owner.
func (s *Service) SetSpaceOwner(ctx context.Context, userID, spaceID, newOwnerID string) (store.Space, []string, error) {
	if err := s.PermissionsCheck(ctx, userID, spaceID, rbac.PermSetSpaceOwner); err != nil {
		return store.Space{}, nil, err
	}

	space, err := s.store.GetSpace(ctx, spaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Space{}, nil, errNotFound("space not found")
	}
	if err != nil {
		return store.Space{}, nil, fmt.Errorf("load space: %w", err)
	}

	ownerMember, err := s.store.GetSpaceMember(ctx, spaceID, space.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Space{}, nil, errNotFound("owner membership not found")
	}
	if err != nil {
		return store.Space{}, nil, fmt.Errorf("load owner membership: %w", err)
	}

	targetMember, err := s.store.GetSpaceMember(ctx, spaceID, newOwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Space{}, nil, errNotFound("target membership not found")
	}
	if err != nil {
		return store.Space{}, nil, fmt.Errorf("load target membership: %w", err)
	}

	space.UserID = newOwnerID
	if err := s.store.UpdateSpace(ctx, space); err != nil {
		return store.Space{}, nil, fmt.Errorf("update space owner: %w", err)
	}
	if err := s.store.UpdateSpaceMemberRole(ctx, ownerMember.ID, string(rbac.RoleAdmin)); err != nil {
		return store.Space{}, nil, fmt.Errorf("demote owner: %w", err)
	}
	if err := s.store.UpdateSpaceMemberRole(ctx, targetMember.ID, string(rbac.RoleOwner)); err != nil {
		return store.Space{}, nil, fmt.Errorf("promote target: %w", err)
	}

	members, err := s.GetSpaceUserIDs(ctx, spaceID)
	if err != nil {
		return store.Space{}, nil, err
	}
	syncIDs, err := s.addSyncRecords(ctx, members, userID, SyncTypeSpace, spaceID, SyncActionEdit)
	if err != nil {
		return store.Space{}, nil, err
	}
	return space, syncIDs, nil
}

// SpaceLink is the read-only projection used for cross-referencing.
type SpaceLink struct {
	Space   store.Space
	Members []store.SpaceMember
}

// LinkSpaces bulk-reads spaces by id with membership populated. No mutation,
// no sync implications.
func (s *Service) LinkSpaces(ctx context.Context, spaceIDs []string) ([]SpaceLink, error) {
	spaces, err := s.store.GetSpacesByIDs(ctx, spaceIDs)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListSpaceMembersBySpaces(ctx, spaceIDs)
	if err != nil {
		return nil, err
	}

	bySpace := make(map[string][]store.SpaceMember, len(spaces))
	for _, m := range members {
		bySpace[m.SpaceID] = append(bySpace[m.SpaceID], m)
	}

	links := make([]SpaceLink, len(spaces))
	for i, space := range spaces {
		links[i] = SpaceLink{Space: space, Members: bySpace[space.ID]}
	}
	return links, nil
}

// GetSpace returns a space with members and invites. Read access requires any
// membership, regardless of role.
func (s *Service) GetSpace(ctx context.Context, userID, spaceID string) (SpaceDetail, error) {
	if err := s.requireReadAccess(ctx, userID, spaceID); err != nil {
		return SpaceDetail{}, err
	}

	space, err := s.store.GetSpace(ctx, spaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return SpaceDetail{}, errNotFound("space not found")
	}
	if err != nil {
		return SpaceDetail{}, fmt.Errorf("load space: %w", err)
	}
	return s.spaceDetail(ctx, space, []string{})
}

// DataTree is a space with all of its boards and notes.
type DataTree struct {
	Space  store.Space
	Boards []store.Board
	Notes  []store.Note
}

// GetDataTree returns the space and all contained boards and notes.
func (s *Service) GetDataTree(ctx context.Context, userID, spaceID string) (DataTree, error) {
	if err := s.requireReadAccess(ctx, userID, spaceID); err != nil {
		return DataTree{}, err
	}

	space, err := s.store.GetSpace(ctx, spaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return DataTree{}, errNotFound("space not found")
	}
	if err != nil {
		return DataTree{}, fmt.Errorf("load space: %w", err)
	}
	boards, err := s.store.ListBoardsBySpace(ctx, spaceID)
	if err != nil {
		return DataTree{}, err
	}
	notes, err := s.store.ListNotesBySpace(ctx, spaceID)
	if err != nil {
		return DataTree{}, err
	}
	return DataTree{Space: space, Boards: boards, Notes: notes}, nil
}

// GetSpaceSize sums note body bytes plus attachment bytes across the space.
// Read access requires any membership, same as the other space reads.
func (s *Service) GetSpaceSize(ctx context.Context, userID, spaceID string) (int64, error) {
	if err := s.requireReadAccess(ctx, userID, spaceID); err != nil {
		return 0, err
	}
	return s.store.SpaceSize(ctx, spaceID)
}

func (s *Service) requireReadAccess(ctx context.Context, userID, spaceID string) error {
	member, err := s.UserIsInSpace(ctx, userID, spaceID)
	if err != nil {
		return err
	}
	if member == nil {
		return errForbidden("no access to space", map[string]any{"space_id": spaceID})
	}
	return nil
}

func (s *Service) spaceDetail(ctx context.Context, space store.Space, syncIDs []string) (SpaceDetail, error) {
	members, err := s.store.ListSpaceMembers(ctx, space.ID)
	if err != nil {
		return SpaceDetail{}, err
	}
	invites, err := s.store.ListInvitesBySpaces(ctx, []string{space.ID})
	if err != nil {
		return SpaceDetail{}, err
	}
	return SpaceDetail{Space: space, Members: members, Invites: invites, SyncIDs: syncIDs}, nil
}
