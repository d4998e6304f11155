package repository

import (
	"WordsToLink-Backend/internal/domain"
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("link not found")
	ErrDuplicatePath      = errors.New("path already exists")
	ErrIdentifierTaken    = errors.New("identifier already claimed")
	ErrIdentifierNotFound = errors.New("identifier not found")
)

// LinkUpdate carries optional field changes; nil fields are left untouched.
type LinkUpdate struct {
	DestinationURL *string
	Title          *string
	Description    *string
	ExpiresAt      *time.Time
	ClearExpiry    bool
}

// RecordResult describes what RecordClick did.
type RecordResult struct {
	// Duplicate is set when the event id was already recorded; nothing changed.
	Duplicate bool
	// Unique is set when the click incremented unique_visitors.
	Unique bool
}

type LinkStore interface {
	// CreateLink stores a new link, failing with ErrDuplicatePath if the
	// (identifier, keywords) pair is taken by a non-deleted link.
	CreateLink(ctx context.Context, link *domain.Link) error
	// Resolve returns the active, unexpired link with exactly these keywords.
	Resolve(ctx context.Context, identifier *string, keywords []string) (*domain.Link, error)
	// GetLinkByID returns a link regardless of its activation or expiry.
	GetLinkByID(ctx context.Context, id int64) (*domain.Link, error)
	ListOwnerLinks(ctx context.Context, ownerID int64) ([]*domain.Link, error)
	SetLinkActive(ctx context.Context, id int64, active bool) (*domain.Link, error)
	UpdateLink(ctx context.Context, id int64, upd LinkUpdate) (*domain.Link, error)
	// UnscopedPrefixExists reports whether a link without an identifier has
	// more than one keyword and starts with keyword, in any activation state.
	UnscopedPrefixExists(ctx context.Context, keyword string) (bool, error)
}

type IdentifierStore interface {
	ClaimIdentifier(ctx context.Context, identifier *domain.Identifier) error
	GetIdentifier(ctx context.Context, name string) (*domain.Identifier, error)
	IdentifierExists(ctx context.Context, name string) (bool, error)
	CountOwnerIdentifiers(ctx context.Context, ownerID int64) (int64, error)
}

type ClickStore interface {
	// RecordClick applies one click as a single unit: counters, dedup window and
	// event append either all happen or none do. Bot events never touch the window.
	RecordClick(ctx context.Context, event *domain.ClickEvent, window time.Duration) (*RecordResult, error)
	// ListClicks returns the link's events with from <= clicked_at < to, oldest first.
	ListClicks(ctx context.Context, linkID int64, from, to time.Time) ([]domain.ClickEvent, error)
	// SweepVisitorWindows drops window entries that expired at now.
	SweepVisitorWindows(ctx context.Context, now time.Time) (int64, error)
	// RebuildVisitorWindows restores the window from non-bot events of the trailing window.
	RebuildVisitorWindows(ctx context.Context, now time.Time, window time.Duration) (int64, error)
}

type Storage interface {
	LinkStore
	IdentifierStore
	ClickStore
	Ping(ctx context.Context) error
}
