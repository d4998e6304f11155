package memory

import (
	"WordsToLink-Backend/internal/dedup"
	"WordsToLink-Backend/internal/domain"
	"WordsToLink-Backend/internal/repository"
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStorage keeps links, identifiers and the click log in process memory.
// A single lock makes every RecordClick one atomic unit.
type MemStorage struct {
	mu          sync.RWMutex
	links       map[int64]*domain.Link
	byPathKey   map[string]int64
	identifiers map[string]*domain.Identifier
	clicks      map[int64][]domain.ClickEvent
	eventIDs    map[string]struct{}
	window      *dedup.Memory
	windowWidth time.Duration
	linkSeq     int64
	clickSeq    int64
	now         func() time.Time
}

type Option func(*MemStorage)

// WithClock overrides time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *MemStorage) {
		s.now = now
	}
}

func New(opts ...Option) *MemStorage {
	s := &MemStorage{
		links:       make(map[int64]*domain.Link),
		byPathKey:   make(map[string]int64),
		identifiers: make(map[string]*domain.Identifier),
		clicks:      make(map[int64][]domain.ClickEvent),
		eventIDs:    make(map[string]struct{}),
		window:      dedup.NewMemory(dedup.DefaultWindow),
		windowWidth: dedup.DefaultWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemStorage) Ping(context.Context) error {
	return nil
}

// --- Link Methods ---

func (s *MemStorage) CreateLink(_ context.Context, link *domain.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.PathKey(link.Identifier, link.Keywords)
	if _, exists := s.byPathKey[key]; exists {
		return repository.ErrDuplicatePath
	}

	s.linkSeq++
	now := s.now().UTC()
	link.ID = s.linkSeq
	link.PathKey = key
	link.CreatedAt = now
	link.UpdatedAt = now

	stored := cloneLink(link)
	s.links[link.ID] = stored
	s.byPathKey[key] = link.ID
	return nil
}

func (s *MemStorage) Resolve(_ context.Context, identifier *string, keywords []string) (*domain.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPathKey[domain.PathKey(identifier, keywords)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	link := s.links[id]
	if !link.IsLive(s.now()) {
		return nil, repository.ErrNotFound
	}
	return cloneLink(link), nil
}

func (s *MemStorage) GetLinkByID(_ context.Context, id int64) (*domain.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneLink(link), nil
}

func (s *MemStorage) ListOwnerLinks(_ context.Context, ownerID int64) ([]*domain.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owned []*domain.Link
	for _, link := range s.links {
		if link.OwnerID == ownerID {
			owned = append(owned, cloneLink(link))
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID > owned[j].ID })
	return owned, nil
}

func (s *MemStorage) UnscopedPrefixExists(_ context.Context, keyword string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := domain.PathKey(nil, []string{keyword}) + "/"
	for key := range s.byPathKey {
		if strings.HasPrefix(key, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStorage) SetLinkActive(_ context.Context, id int64, active bool) (*domain.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	link.IsActive = active
	link.UpdatedAt = s.now().UTC()
	return cloneLink(link), nil
}

func (s *MemStorage) UpdateLink(_ context.Context, id int64, upd repository.LinkUpdate) (*domain.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.DestinationURL != nil {
		link.DestinationURL = *upd.DestinationURL
	}
	if upd.Title != nil {
		title := *upd.Title
		link.Title = &title
	}
	if upd.Description != nil {
		description := *upd.Description
		link.Description = &description
	}
	if upd.ClearExpiry {
		link.ExpiresAt = nil
	} else if upd.ExpiresAt != nil {
		expiresAt := upd.ExpiresAt.UTC()
		link.ExpiresAt = &expiresAt
	}
	link.UpdatedAt = s.now().UTC()
	return cloneLink(link), nil
}

// --- Identifier Methods ---

func (s *MemStorage) ClaimIdentifier(_ context.Context, identifier *domain.Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.identifiers[identifier.Name]; exists {
		return repository.ErrIdentifierTaken
	}
	identifier.CreatedAt = s.now().UTC()
	claimed := *identifier
	s.identifiers[identifier.Name] = &claimed
	return nil
}

func (s *MemStorage) GetIdentifier(_ context.Context, name string) (*domain.Identifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identifier, ok := s.identifiers[name]
	if !ok {
		return nil, repository.ErrIdentifierNotFound
	}
	claimed := *identifier
	return &claimed, nil
}

func (s *MemStorage) IdentifierExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.identifiers[name]
	return ok, nil
}

func (s *MemStorage) CountOwnerIdentifiers(_ context.Context, ownerID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, identifier := range s.identifiers {
		if identifier.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// --- Click Methods ---

func (s *MemStorage) RecordClick(_ context.Context, event *domain.ClickEvent, window time.Duration) (*repository.RecordResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.eventIDs[event.EventID]; seen {
		return &repository.RecordResult{Duplicate: true}, nil
	}

	link, ok := s.links[event.LinkID]
	if !ok {
		return nil, repository.ErrNotFound
	}

	if window > 0 && window != s.windowWidth {
		s.rebuildLocked(s.now().UTC(), window)
	}

	unique := false
	if !event.IsBot {
		unique = s.window.MarkIfAbsent(event.LinkID, event.VisitorID, event.ClickedAt)
	}

	link.ClickCount++
	if unique {
		link.UniqueVisitors++
	}
	if link.LastClickedAt == nil || link.LastClickedAt.Before(event.ClickedAt) {
		clickedAt := event.ClickedAt
		link.LastClickedAt = &clickedAt
	}

	s.clickSeq++
	event.ID = s.clickSeq
	event.IsUnique = unique
	s.clicks[event.LinkID] = append(s.clicks[event.LinkID], *event)
	s.eventIDs[event.EventID] = struct{}{}

	return &repository.RecordResult{Unique: unique}, nil
}

func (s *MemStorage) ListClicks(_ context.Context, linkID int64, from, to time.Time) ([]domain.ClickEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ClickEvent
	for _, c := range s.clicks[linkID] {
		if !c.ClickedAt.Before(from) && c.ClickedAt.Before(to) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClickedAt.Before(out[j].ClickedAt) })
	return out, nil
}

func (s *MemStorage) SweepVisitorWindows(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.window.Sweep(now)), nil
}

func (s *MemStorage) RebuildVisitorWindows(_ context.Context, now time.Time, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.rebuildLocked(now, window)), nil
}

// rebuildLocked replaces the window with one derived from the click log. Caller holds s.mu.
func (s *MemStorage) rebuildLocked(now time.Time, window time.Duration) int {
	s.window = dedup.NewMemory(window)
	s.windowWidth = window
	since := now.Add(-window)

	var entries []domain.VisitorWindowEntry
	for linkID, events := range s.clicks {
		for _, c := range events {
			if c.IsBot || c.ClickedAt.Before(since) {
				continue
			}
			entries = append(entries, domain.VisitorWindowEntry{LinkID: linkID, VisitorID: c.VisitorID, MarkedAt: c.ClickedAt})
		}
	}
	s.window.Load(entries)
	return s.window.Len()
}

func cloneLink(l *domain.Link) *domain.Link {
	c := *l
	c.Keywords = append([]string(nil), l.Keywords...)
	if l.Identifier != nil {
		v := *l.Identifier
		c.Identifier = &v
	}
	if l.ExpiresAt != nil {
		v := *l.ExpiresAt
		c.ExpiresAt = &v
	}
	if l.LastClickedAt != nil {
		v := *l.LastClickedAt
		c.LastClickedAt = &v
	}
	return &c
}
