// Package app implements permission-gated mutations on spaces and their
// contents, and the sync-record fanout that keeps client devices converged.
package app

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"notable/api/internal/config"
	"notable/api/internal/store"
)

// dataStore is the slice of the storage layer the service consumes. Each call
// is atomic on its own; the service never relies on multi-statement
// transactions.
type dataStore interface {
	Ping(context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUsersByEmails(context.Context, []string) ([]store.User, error)

	GetSpace(context.Context, string) (store.Space, error)
	GetSpacesByIDs(context.Context, []string) ([]store.Space, error)
	UpsertSpace(context.Context, store.Space) error
	UpdateSpace(context.Context, store.Space) error
	DeleteSpace(context.Context, string) error
	SpaceSize(context.Context, string) (int64, error)

	GetSpaceMember(context.Context, string, string) (store.SpaceMember, error)
	GetSpaceMemberByID(context.Context, string) (store.SpaceMember, error)
	ListSpaceMembers(context.Context, string) ([]store.SpaceMember, error)
	ListSpaceMembersBySpaces(context.Context, []string) ([]store.SpaceMember, error)
	ListSpaceMemberUserIDs(context.Context, string) ([]string, error)
	InsertSpaceMember(context.Context, store.SpaceMember) error
	UpdateSpaceMemberRole(context.Context, string, string) error
	DeleteSpaceMember(context.Context, string) error
	DeleteSpaceMembersBySpace(context.Context, string) error

	GetInvite(context.Context, string) (store.Invite, error)
	ListInvitesBySpaces(context.Context, []string) ([]store.Invite, error)
	InsertInvite(context.Context, store.Invite) error
	DeleteInvite(context.Context, string) error
	DeleteInvitesBySpace(context.Context, string) error

	GetBoard(context.Context, string) (store.Board, error)
	ListBoardsBySpace(context.Context, string) ([]store.Board, error)
	UpsertBoard(context.Context, store.Board) error
	UpdateBoard(context.Context, store.Board) error
	DeleteBoard(context.Context, string) error

	GetNote(context.Context, string) (store.Note, error)
	ListNotesBySpace(context.Context, string) ([]store.Note, error)
	ListNotesByBoard(context.Context, string) ([]store.Note, error)
	UpsertNote(context.Context, store.Note) error
	UpdateNote(context.Context, store.Note) error
	DeleteNote(context.Context, string) error

	ListKeychainEntriesByItem(context.Context, string) ([]store.KeychainEntry, error)
	DeleteKeychainEntry(context.Context, string) error
	DeleteKeychainEntriesByUserItem(context.Context, string, string) error

	InsertSyncRecords(context.Context, []store.SyncRecord) error
	ListSyncRecordsSince(context.Context, string, time.Time, int) ([]store.SyncRecord, error)
}

// MemberCache caches per-space member-id sets. Optional; the service falls
// back to the store on miss or error.
type MemberCache interface {
	Get(ctx context.Context, spaceID string) ([]string, bool, error)
	Set(ctx context.Context, spaceID string, userIDs []string) error
	Invalidate(ctx context.Context, spaceID string) error
}

// FileStore stores note attachment objects. Optional; the attachment
// endpoints fail UNAVAILABLE when no store is wired.
type FileStore interface {
	Put(ctx context.Context, fileID string, body io.Reader, size int64) error
	Get(ctx context.Context, fileID string) (io.ReadCloser, error)
	Remove(ctx context.Context, fileID string) error
}

// Mailer sends invite notifications. Optional; sends are best-effort.
type Mailer interface {
	IsConfigured() bool
	SendSpaceInvite(to, inviterName, inviteURL string, protected bool) error
}

type Service struct {
	cfg   config.Config
	store dataStore
	cache MemberCache
	files FileStore
	mail  Mailer
	log   zerolog.Logger
}

func New(cfg config.Config, ds dataStore, logger zerolog.Logger) *Service {
	return &Service{cfg: cfg, store: ds, log: logger}
}

// NewWithDeps wires the optional collaborators. Any of cache, files and mail
// may be nil.
func NewWithDeps(cfg config.Config, ds dataStore, cache MemberCache, files FileStore, mail Mailer, logger zerolog.Logger) *Service {
	s := New(cfg, ds, logger)
	s.cache = cache
	s.files = files
	s.mail = mail
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SyncSince returns the caller's pending sync records, oldest first.
func (s *Service) SyncSince(ctx context.Context, userID string, since time.Time, limit int) ([]store.SyncRecord, error) {
	return s.store.ListSyncRecordsSince(ctx, userID, since, limit)
}
