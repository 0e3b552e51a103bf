package storage

import (
	"context"
	"errors"

	"github.com/xaenox/persona-relay/internal/models"
)

var (
	// ErrDuplicateMessage is returned by AppendMessage when the message id
	// has already been recorded.
	ErrDuplicateMessage = errors.New("duplicate message id")

	// ErrNotFound is returned by lookups that miss.
	ErrNotFound = errors.New("not found")

	// ErrDefaultProfileProtected guards the default profile from deletion.
	ErrDefaultProfileProtected = errors.New("default context profile cannot be deleted")

	// ErrUnknownProfile is returned when a contact write references a
	// profile that does not exist or is inactive.
	ErrUnknownProfile = errors.New("referenced context profile does not exist or is inactive")
)

// MessageLedger is the durable record of every message the system handled.
// AppendMessage is idempotent on message id: replays fail with
// ErrDuplicateMessage instead of writing a second entry.
type MessageLedger interface {
	AppendMessage(ctx context.Context, msg *models.StoredMessage) error
	MessagesByAddress(ctx context.Context, address string, limit, offset int) ([]*models.StoredMessage, error)
	SearchMessages(ctx context.Context, query string) ([]*models.StoredMessage, error)
	LedgerStats(ctx context.Context) (*models.LedgerStats, error)
}

// ContactDirectory stores counterparty records keyed by normalized address.
// Writes validate that the referenced context profile exists and is active
// (the well-known default always qualifies).
type ContactDirectory interface {
	ContactByAddress(ctx context.Context, address string) (*models.Contact, error)
	UpsertContact(ctx context.Context, contact *models.Contact) error
	RecordInteraction(ctx context.Context, address string) error
}

// ProfileStore holds named persona templates. Exactly one active profile is
// the default at any time; SaveProfile enforces that by clearing the flag
// on all others, and DeleteProfile refuses to remove the default.
type ProfileStore interface {
	ProfileByID(ctx context.Context, id string) (*models.ContextProfile, error)
	DefaultProfile(ctx context.Context) (*models.ContextProfile, error)
	SaveProfile(ctx context.Context, profile *models.ContextProfile) error
	DeleteProfile(ctx context.Context, id string) error
	IncrementUsage(ctx context.Context, id string) error
}

// Storage bundles the three persistence collaborators behind one handle.
type Storage interface {
	MessageLedger
	ContactDirectory
	ProfileStore
	Close() error
}
