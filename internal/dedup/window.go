// Package dedup implements the trailing-window visitor set used for unique visitor counting.
package dedup

import (
	"context"
	"sync"
	"time"

	"WordsToLink-Backend/internal/domain"

	"go.uber.org/zap"
)

// DefaultWindow is the trailing window a visitor stays counted for.
const DefaultWindow = 24 * time.Hour

type key struct {
	linkID    int64
	visitorID string
}

// Memory is an in-process sliding window. Every mark refreshes the entry, so a
// visitor is new again only after a full window without visits.
type Memory struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[key]time.Time
}

// NewMemory creates an empty window of the given width.
func NewMemory(window time.Duration) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Memory{
		window:  window,
		entries: make(map[key]time.Time),
	}
}

// Seen reports whether the visitor was marked for the link within the window before at.
func (m *Memory) Seen(linkID int64, visitorID string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seenLocked(key{linkID, visitorID}, at)
}

// MarkIfAbsent atomically checks and marks. It returns true when the visitor was
// absent (or expired) and has now been registered, false when it was already present.
// A present entry is refreshed to at.
func (m *Memory) MarkIfAbsent(linkID int64, visitorID string, at time.Time) bool {
	k := key{linkID, visitorID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seenLocked(k, at) {
		if at.After(m.entries[k]) {
			m.entries[k] = at
		}
		return false
	}
	m.entries[k] = at
	return true
}

// Sweep evicts entries that expired at now and returns how many were removed.
func (m *Memory) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, markedAt := range m.entries {
		if now.Sub(markedAt) >= m.window {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked entries, expired ones included until swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Load seeds the window, keeping the newest mark per visitor.
func (m *Memory) Load(entries []domain.VisitorWindowEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		k := key{e.LinkID, e.VisitorID}
		if cur, ok := m.entries[k]; !ok || e.MarkedAt.After(cur) {
			m.entries[k] = e.MarkedAt
		}
	}
}

func (m *Memory) seenLocked(k key, at time.Time) bool {
	markedAt, ok := m.entries[k]
	if !ok {
		return false
	}
	return at.Sub(markedAt) < m.window
}

// Sweeper removes expired window entries from wherever they are kept.
type Sweeper interface {
	SweepVisitorWindows(ctx context.Context, now time.Time) (int64, error)
}

// RunSweeper evicts expired entries every interval until ctx is done.
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration, log *zap.Logger) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	log = log.With(zap.String("component", "dedup_sweeper"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("visitor window sweeper stopped")
			return nil
		case now := <-ticker.C:
			removed, err := s.SweepVisitorWindows(ctx, now.UTC())
			if err != nil {
				log.Warn("failed to sweep visitor windows", zap.Error(err))
				continue
			}
			if removed > 0 {
				log.Debug("swept visitor windows", zap.Int64("removed", removed))
			}
		}
	}
}
