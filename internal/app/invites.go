package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"notable/api/internal/rbac"
	"notable/api/internal/store"
	"notable/api/internal/util"
)

func validateInvite(inv store.Invite) error {
	if inv.SpaceID == "" {
		return errValidation("invite space_id is required")
	}
	if inv.ToEmail == "" {
		return errValidation("invite to_email is required")
	}
	return nil
}

// CreateInvite records a pending membership grant for an email address and,
// when SMTP is configured, notifies the recipient. The optional passphrase is
// stored only as a bcrypt hash. Members see the invite as an edit of the
// space.
func (s *Service) CreateInvite(ctx context.Context, actorID string, invite store.Invite, passphrase string) (store.Invite, []string, error) {
	if err := validateInvite(invite); err != nil {
		return store.Invite{}, nil, err
	}
	if err := validateMemberRole(invite.Role); err != nil {
		return store.Invite{}, nil, err
	}

	if err := s.PermissionsCheck(ctx, actorID, invite.SpaceID, rbac.PermAddSpaceInvite); err != nil {
		return store.Invite{}, nil, err
	}

	if invite.ID == "" {
		invite.ID = util.NewID("inv")
	}
	invite.FromUserID = actorID
	invite.ToEmail = normalizeEmail(invite.ToEmail)
	if passphrase != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
		if err != nil {
			return store.Invite{}, nil, fmt.Errorf("hash invite passphrase: %w", err)
		}
		invite.PassphraseHash = string(hash)
	}

	if err := s.store.InsertInvite(ctx, invite); err != nil {
		return store.Invite{}, nil, fmt.Errorf("save invite: %w", err)
	}

	s.sendInviteMail(ctx, actorID, invite)

	members, err := s.GetSpaceUserIDs(ctx, invite.SpaceID)
	if err != nil {
		return store.Invite{}, nil, err
	}
	syncIDs, err := s.addSyncRecords(ctx, members, actorID, SyncTypeSpace, invite.SpaceID, SyncActionEdit)
	if err != nil {
		return store.Invite{}, nil, err
	}
	return invite, syncIDs, nil
}

// sendInviteMail is best effort; a mail failure never fails the invite.
func (s *Service) sendInviteMail(ctx context.Context, actorID string, invite store.Invite) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	inviter, err := s.store.GetUserByID(ctx, actorID)
	if err != nil {
		s.log.Warn().Err(err).Str("invite_id", invite.ID).Msg("invite mail: inviter lookup failed")
		return
	}
	name := inviter.DisplayName
	if name == "" {
		name = inviter.Email
	}
	url := s.cfg.AppURL + "/invites/" + invite.ID
	if err := s.mail.SendSpaceInvite(invite.ToEmail, name, url, invite.PassphraseHash != ""); err != nil {
		s.log.Warn().Err(err).Str("invite_id", invite.ID).Msg("invite mail send failed")
	}
}

// AcceptInvite converts an invite into a membership. Only the invited
// recipient can accept, and a passphrase-protected invite requires the
// passphrase. The joiner gets an add record for the space; existing members
// get an edit.
func (s *Service) AcceptInvite(ctx context.Context, userID, inviteID, passphrase string) (store.SpaceMember, []string, error) {
	invite, err := s.store.GetInvite(ctx, inviteID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.SpaceMember{}, nil, errNotFound("invite not found")
	}
	if err != nil {
		return store.SpaceMember{}, nil, fmt.Errorf("load invite: %w", err)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.SpaceMember{}, nil, fmt.Errorf("load user: %w", err)
	}
	if normalizeEmail(user.Email) != normalizeEmail(invite.ToEmail) {
		return store.SpaceMember{}, nil, errForbidden("invite is addressed to another user",
			map[string]any{"space_id": invite.SpaceID})
	}
	if invite.PassphraseHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(invite.PassphraseHash), []byte(passphrase)); err != nil {
			return store.SpaceMember{}, nil, errForbidden("invite passphrase mismatch",
				map[string]any{"space_id": invite.SpaceID})
		}
	}

	// Fanned out to the membership as it was before the join.
	existingMembers, err := s.GetSpaceUserIDs(ctx, invite.SpaceID)
	if err != nil {
		return store.SpaceMember{}, nil, err
	}

	member := store.SpaceMember{
		ID:      util.NewID("mem"),
		SpaceID: invite.SpaceID,
		UserID:  userID,
		Role:    invite.Role,
	}
	if err := s.store.InsertSpaceMember(ctx, member); err != nil {
		return store.SpaceMember{}, nil, fmt.Errorf("save membership: %w", err)
	}
	if err := s.store.DeleteInvite(ctx, invite.ID); err != nil {
		return store.SpaceMember{}, nil, fmt.Errorf("consume invite: %w", err)
	}
	s.invalidateMemberCache(ctx, invite.SpaceID)

	syncIDs, err := s.addSyncRecords(ctx, []string{userID}, userID, SyncTypeSpace, invite.SpaceID, SyncActionAdd)
	if err != nil {
		return store.SpaceMember{}, syncIDs, err
	}
	editIDs, err := s.addSyncRecords(ctx, existingMembers, userID, SyncTypeSpace, invite.SpaceID, SyncActionEdit)
	syncIDs = append(syncIDs, editIDs...)
	if err != nil {
		return store.SpaceMember{}, syncIDs, err
	}
	return member, syncIDs, nil
}

// DeleteInvite withdraws a pending invite. Either the actor holds
// delete_space_invite, or the actor is the invited recipient declining.
// Idempotent: a missing invite is a successful no-op.
func (s *Service) DeleteInvite(ctx context.Context, actorID, spaceID, inviteID string) ([]string, error) {
	invite, err := s.store.GetInvite(ctx, inviteID)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load invite: %w", err)
	}
	if invite.SpaceID != spaceID {
		return nil, errNotFound("invite not found")
	}

	recipient := false
	user, err := s.store.GetUserByID(ctx, actorID)
	if err == nil && normalizeEmail(user.Email) == normalizeEmail(invite.ToEmail) {
		recipient = true
	}
	if !recipient {
		if err := s.PermissionsCheck(ctx, actorID, spaceID, rbac.PermDeleteSpaceInvite); err != nil {
			return nil, err
		}
	}

	if err := s.store.DeleteInvite(ctx, invite.ID); err != nil {
		return nil, fmt.Errorf("delete invite: %w", err)
	}

	members, err := s.GetSpaceUserIDs(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	return s.addSyncRecords(ctx, members, actorID, SyncTypeSpace, spaceID, SyncActionEdit)
}
