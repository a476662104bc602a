package store

import "time"

type User struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

// Space is a shared workspace. UserID is the owning user; Body is the
// client-encrypted versioned payload and is opaque to the server.
type Space struct {
	ID        string
	UserID    string
	Body      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SpaceMember grants UserID the given role inside SpaceID. Unique per
// (space, user); exactly one member per space holds the owner role.
type SpaceMember struct {
	ID        string
	SpaceID   string
	UserID    string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Invite is a pending membership grant keyed by recipient email. It becomes a
// SpaceMember on accept. PassphraseHash is set for passphrase-protected
// invites, empty otherwise.
type Invite struct {
	ID             string
	SpaceID        string
	FromUserID     string
	ToEmail        string
	Role           string
	PassphraseHash string
	Body           []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Board struct {
	ID        string
	UserID    string
	SpaceID   string
	Body      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Note belongs to exactly one space at a time, optionally filed under a board
// in that space. FileID/FileSize describe the attachment object in the file
// store, if any.
type Note struct {
	ID        string
	UserID    string
	SpaceID   string
	BoardID   *string
	Body      []byte
	FileID    string
	FileSize  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// KeychainEntry holds a user's encrypted key for an item (here: a space).
// The key body is opaque to the server.
type KeychainEntry struct {
	ID        string
	UserID    string
	ItemID    string
	Body      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncRecord tells one recipient that one object changed. One logical
// mutation fans out to a set of these, one per affected user.
type SyncRecord struct {
	ID        string
	UserID    string
	ActorID   string
	Type      string
	ItemID    string
	Action    string
	CreatedAt time.Time
}
