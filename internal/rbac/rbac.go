// Package rbac holds the static role/permission table for space membership.
// The table is process-wide and never mutated at runtime.
package rbac

type Role string
type Permission string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
	RoleGuest     Role = "guest"
)

const (
	PermEditSpace         Permission = "edit_space"
	PermDeleteSpace       Permission = "delete_space"
	PermSetSpaceOwner     Permission = "set_space_owner"
	PermEditSpaceMember   Permission = "edit_space_member"
	PermDeleteSpaceMember Permission = "delete_space_member"
	PermAddSpaceInvite    Permission = "add_space_invite"
	PermDeleteSpaceInvite Permission = "delete_space_invite"
	PermAddBoard          Permission = "add_board"
	PermEditBoard         Permission = "edit_board"
	PermDeleteBoard       Permission = "delete_board"
	PermAddNote           Permission = "add_note"
	PermEditNote          Permission = "edit_note"
	PermDeleteNote        Permission = "delete_note"
)

var contentPerms = []Permission{
	PermAddBoard, PermEditBoard, PermDeleteBoard,
	PermAddNote, PermEditNote, PermDeleteNote,
}

var peoplePerms = []Permission{
	PermEditSpaceMember, PermDeleteSpaceMember,
	PermAddSpaceInvite, PermDeleteSpaceInvite,
}

// grants maps each role to its full permission set. Owner gets everything;
// admin everything except destroying the space or reassigning ownership.
var grants = map[Role]map[Permission]bool{
	RoleOwner: permSet(
		append([]Permission{PermEditSpace, PermDeleteSpace, PermSetSpaceOwner},
			append(peoplePerms, contentPerms...)...)),
	RoleAdmin: permSet(
		append([]Permission{PermEditSpace},
			append(peoplePerms, contentPerms...)...)),
	RoleModerator: permSet(append(peoplePerms, contentPerms...)),
	RoleMember:    permSet(contentPerms),
	RoleGuest:     permSet(nil),
}

func permSet(perms []Permission) map[Permission]bool {
	set := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		set[p] = true
	}
	return set
}

// Can reports whether the role grants the permission. Unknown roles grant
// nothing.
func Can(role Role, perm Permission) bool {
	return grants[role][perm]
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleAdmin, RoleModerator, RoleMember, RoleGuest:
		return Role(role)
	default:
		return RoleGuest
	}
}
