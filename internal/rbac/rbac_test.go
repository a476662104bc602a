package rbac

import "testing"

var allPerms = []Permission{
	PermEditSpace, PermDeleteSpace, PermSetSpaceOwner,
	PermEditSpaceMember, PermDeleteSpaceMember,
	PermAddSpaceInvite, PermDeleteSpaceInvite,
	PermAddBoard, PermEditBoard, PermDeleteBoard,
	PermAddNote, PermEditNote, PermDeleteNote,
}

func TestCan(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		granted []Permission
		denied  []Permission
	}{
		{
			name:    "owner holds everything",
			role:    RoleOwner,
			granted: allPerms,
		},
		{
			name: "admin cannot destroy or reassign the space",
			role: RoleAdmin,
			granted: []Permission{
				PermEditSpace,
				PermEditSpaceMember, PermDeleteSpaceMember,
				PermAddSpaceInvite, PermDeleteSpaceInvite,
				PermAddBoard, PermEditBoard, PermDeleteBoard,
				PermAddNote, PermEditNote, PermDeleteNote,
			},
			denied: []Permission{PermDeleteSpace, PermSetSpaceOwner},
		},
		{
			name: "moderator manages people and content",
			role: RoleModerator,
			granted: []Permission{
				PermEditSpaceMember, PermDeleteSpaceMember,
				PermAddSpaceInvite, PermDeleteSpaceInvite,
				PermAddBoard, PermEditBoard, PermDeleteBoard,
				PermAddNote, PermEditNote, PermDeleteNote,
			},
			denied: []Permission{PermEditSpace, PermDeleteSpace, PermSetSpaceOwner},
		},
		{
			name: "member manages content only",
			role: RoleMember,
			granted: []Permission{
				PermAddBoard, PermEditBoard, PermDeleteBoard,
				PermAddNote, PermEditNote, PermDeleteNote,
			},
			denied: []Permission{
				PermEditSpace, PermDeleteSpace, PermSetSpaceOwner,
				PermEditSpaceMember, PermDeleteSpaceMember,
				PermAddSpaceInvite, PermDeleteSpaceInvite,
			},
		},
		{
			name:   "guest holds nothing",
			role:   RoleGuest,
			denied: allPerms,
		},
		{
			name:   "unknown role holds nothing",
			role:   Role("superuser"),
			denied: allPerms,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, perm := range tt.granted {
				if !Can(tt.role, perm) {
					t.Errorf("Can(%s, %s) = false, want true", tt.role, perm)
				}
			}
			for _, perm := range tt.denied {
				if Can(tt.role, perm) {
					t.Errorf("Can(%s, %s) = true, want false", tt.role, perm)
				}
			}
		})
	}
}

func TestOwnerIsSuperset(t *testing.T) {
	// every grant any role holds must also be held by the owner
	for _, role := range []Role{RoleAdmin, RoleModerator, RoleMember, RoleGuest} {
		for _, perm := range allPerms {
			if Can(role, perm) && !Can(RoleOwner, perm) {
				t.Errorf("%s holds %s but owner does not", role, perm)
			}
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"owner", RoleOwner},
		{"admin", RoleAdmin},
		{"moderator", RoleModerator},
		{"member", RoleMember},
		{"guest", RoleGuest},
		{"", RoleGuest},
		{"superuser", RoleGuest},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
