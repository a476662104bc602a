package app

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"notable/api/internal/store"
)

func inviteFixture() *fakeStore {
	return &fakeStore{
		getSpaceMemberFn: memberOf(map[string]string{
			"sp_1/usr_1": "owner",
			"sp_1/usr_2": "moderator",
			"sp_1/usr_4": "member",
		}),
		listSpaceMemberUserIDsFn: staticMembers("usr_1", "usr_2", "usr_4"),
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			users := map[string]store.User{
				"usr_1": {ID: "usr_1", Email: "owner@example.com", DisplayName: "Olive"},
				"usr_2": {ID: "usr_2", Email: "mod@example.com"},
				"usr_3": {ID: "usr_3", Email: "Ada@Example.com"},
				"usr_4": {ID: "usr_4", Email: "plain@example.com"},
			}
			user, ok := users[id]
			if !ok {
				return store.User{}, errors.New("unknown user")
			}
			return user, nil
		},
	}
}

func TestCreateInvite(t *testing.T) {
	fake := inviteFixture()
	s := newTestService(fake)

	invite, ids, err := s.CreateInvite(context.Background(), "usr_2", store.Invite{
		SpaceID: "sp_1",
		ToEmail: "ADA@example.com",
		Role:    "member",
	}, "")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if invite.ID == "" || invite.FromUserID != "usr_2" {
		t.Errorf("invite = %+v", invite)
	}
	if invite.ToEmail != "ada@example.com" {
		t.Errorf("email = %s, want lowercased", invite.ToEmail)
	}
	if invite.PassphraseHash != "" {
		t.Errorf("no passphrase given, hash must be empty")
	}
	if len(ids) != 3 {
		t.Errorf("expected space edit fanout to all 3 members, got %d", len(ids))
	}
}

func TestCreateInviteHashesPassphrase(t *testing.T) {
	fake := inviteFixture()
	s := newTestService(fake)

	invite, _, err := s.CreateInvite(context.Background(), "usr_1", store.Invite{
		SpaceID: "sp_1",
		ToEmail: "ada@example.com",
		Role:    "member",
	}, "open sesame")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if invite.PassphraseHash == "" || invite.PassphraseHash == "open sesame" {
		t.Fatalf("passphrase must be stored hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(invite.PassphraseHash), []byte("open sesame")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
}

func TestCreateInviteForbiddenForPlainMember(t *testing.T) {
	fake := inviteFixture()
	s := newTestService(fake)

	_, _, err := s.CreateInvite(context.Background(), "usr_4", store.Invite{
		SpaceID: "sp_1",
		ToEmail: "ada@example.com",
		Role:    "member",
	}, "")
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestCreateInviteRejectsOwnerRole(t *testing.T) {
	fake := inviteFixture()
	s := newTestService(fake)

	_, _, err := s.CreateInvite(context.Background(), "usr_1", store.Invite{
		SpaceID: "sp_1",
		ToEmail: "ada@example.com",
		Role:    "owner",
	}, "")
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "VALIDATION" {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestAcceptInvite(t *testing.T) {
	fake := inviteFixture()
	fake.getInviteFn = func(_ context.Context, id string) (store.Invite, error) {
		return store.Invite{ID: id, SpaceID: "sp_1", ToEmail: "ada@example.com", Role: "member"}, nil
	}
	s := newTestService(fake)

	member, ids, err := s.AcceptInvite(context.Background(), "usr_3", "inv_1", "")
	if err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}
	if member.SpaceID != "sp_1" || member.UserID != "usr_3" || member.Role != "member" {
		t.Errorf("membership = %+v", member)
	}
	if len(fake.insertedMembers) != 1 {
		t.Errorf("membership rows = %d, want 1", len(fake.insertedMembers))
	}
	if len(fake.deletedInvites) != 1 || fake.deletedInvites[0] != "inv_1" {
		t.Errorf("invite must be consumed, got %v", fake.deletedInvites)
	}
	// joiner gets an add, the 3 pre-existing members get edits
	if len(ids) != 4 {
		t.Fatalf("expected 4 records, got %d", len(ids))
	}
	if n := len(fake.recordsMatching("usr_3", SyncTypeSpace, SyncActionAdd)); n != 1 {
		t.Errorf("joiner adds = %d, want 1", n)
	}
	for _, existing := range []string{"usr_1", "usr_2", "usr_4"} {
		if n := len(fake.recordsMatching(existing, SyncTypeSpace, SyncActionEdit)); n != 1 {
			t.Errorf("%s edits = %d, want 1", existing, n)
		}
	}
}

func TestAcceptInviteWrongRecipient(t *testing.T) {
	fake := inviteFixture()
	fake.getInviteFn = func(_ context.Context, id string) (store.Invite, error) {
		return store.Invite{ID: id, SpaceID: "sp_1", ToEmail: "ada@example.com", Role: "member"}, nil
	}
	s := newTestService(fake)

	_, _, err := s.AcceptInvite(context.Background(), "usr_2", "inv_1", "")
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if len(fake.insertedMembers) != 0 || len(fake.deletedInvites) != 0 {
		t.Errorf("rejected accept must not write")
	}
}

func TestAcceptInvitePassphrase(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	fake := inviteFixture()
	fake.getInviteFn = func(_ context.Context, id string) (store.Invite, error) {
		return store.Invite{ID: id, SpaceID: "sp_1", ToEmail: "ada@example.com", Role: "member", PassphraseHash: string(hash)}, nil
	}
	s := newTestService(fake)
	ctx := context.Background()

	_, _, err = s.AcceptInvite(ctx, "usr_3", "inv_1", "wrong")
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN for wrong passphrase, got %v", err)
	}

	if _, _, err := s.AcceptInvite(ctx, "usr_3", "inv_1", "open sesame"); err != nil {
		t.Fatalf("accept with passphrase: %v", err)
	}
}

func TestAcceptInviteMissing(t *testing.T) {
	fake := inviteFixture()
	s := newTestService(fake)

	_, _, err := s.AcceptInvite(context.Background(), "usr_3", "inv_gone", "")
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestDeleteInviteMissingIsNoop(t *testing.T) {
	fake := inviteFixture()
	s := newTestService(fake)

	ids, err := s.DeleteInvite(context.Background(), "usr_1", "sp_1", "inv_gone")
	if err != nil {
		t.Fatalf("DeleteInvite: %v", err)
	}
	if len(ids) != 0 || len(fake.deletedInvites) != 0 || len(fake.syncRecords) != 0 {
		t.Errorf("no-op must not write")
	}
}

func TestDeleteInviteByRecipient(t *testing.T) {
	// usr_3 holds no permissions in sp_1 but is the invited recipient
	fake := inviteFixture()
	fake.getInviteFn = func(_ context.Context, id string) (store.Invite, error) {
		return store.Invite{ID: id, SpaceID: "sp_1", ToEmail: "ada@example.com", Role: "member"}, nil
	}
	s := newTestService(fake)

	ids, err := s.DeleteInvite(context.Background(), "usr_3", "sp_1", "inv_1")
	if err != nil {
		t.Fatalf("recipient decline: %v", err)
	}
	if len(fake.deletedInvites) != 1 || fake.deletedInvites[0] != "inv_1" {
		t.Errorf("deleted invites = %v", fake.deletedInvites)
	}
	if len(ids) != 3 {
		t.Errorf("expected edit fanout to members, got %d", len(ids))
	}
}

func TestDeleteInviteSpaceMismatch(t *testing.T) {
	fake := inviteFixture()
	fake.getInviteFn = func(_ context.Context, id string) (store.Invite, error) {
		return store.Invite{ID: id, SpaceID: "sp_other", ToEmail: "ada@example.com", Role: "member"}, nil
	}
	s := newTestService(fake)

	_, err := s.DeleteInvite(context.Background(), "usr_1", "sp_1", "inv_1")
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

type fakeMailer struct {
	configured bool
	sent       []string
	err        error
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }

func (m *fakeMailer) SendSpaceInvite(to, inviterName, inviteURL string, protected bool) error {
	m.sent = append(m.sent, to+"|"+inviterName+"|"+inviteURL)
	return m.err
}

func TestCreateInviteSendsMail(t *testing.T) {
	fake := inviteFixture()
	mail := &fakeMailer{configured: true}
	s := newTestService(fake)
	s.mail = mail

	_, _, err := s.CreateInvite(context.Background(), "usr_1", store.Invite{
		ID:      "inv_1",
		SpaceID: "sp_1",
		ToEmail: "ada@example.com",
		Role:    "member",
	}, "")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("sent = %v, want one mail", mail.sent)
	}
	want := "ada@example.com|Olive|http://localhost:8787/invites/inv_1"
	if mail.sent[0] != want {
		t.Errorf("mail = %s, want %s", mail.sent[0], want)
	}
}

func TestCreateInviteMailFailureIsNotFatal(t *testing.T) {
	fake := inviteFixture()
	mail := &fakeMailer{configured: true, err: errors.New("smtp down")}
	s := newTestService(fake)
	s.mail = mail

	if _, _, err := s.CreateInvite(context.Background(), "usr_1", store.Invite{
		SpaceID: "sp_1",
		ToEmail: "ada@example.com",
		Role:    "member",
	}, ""); err != nil {
		t.Fatalf("mail failure must not fail the invite: %v", err)
	}
}
