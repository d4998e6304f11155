package postgres

import (
	"WordsToLink-Backend/internal/database"
	"WordsToLink-Backend/internal/dedup"
	"WordsToLink-Backend/internal/domain"
	"WordsToLink-Backend/internal/repository"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errReplayed aborts a RecordClick transaction whose event id is already stored.
var errReplayed = errors.New("click event already recorded")

// PostgresStorage implements repository.Storage on GORM. It runs on PostgreSQL
// in production and on SQLite for local development and tests.
type PostgresStorage struct {
	db     *gorm.DB
	log    *zap.Logger
	window time.Duration
	now    func() time.Time
}

type Option func(*PostgresStorage)

// WithDedupWindow sets the window used when sweeping visitor entries.
func WithDedupWindow(window time.Duration) Option {
	return func(s *PostgresStorage) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *PostgresStorage) {
		s.now = now
	}
}

func New(db *gorm.DB, log *zap.Logger, opts ...Option) *PostgresStorage {
	s := &PostgresStorage{
		db:     db,
		log:    log,
		window: dedup.DefaultWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return database.HealthCheck(s.db)
}

// --- Link Methods ---

func (s *PostgresStorage) CreateLink(ctx context.Context, link *domain.Link) error {
	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicatePath
		}
		s.log.Error("failed to save link", zap.String("path", link.Path()), zap.Error(err))
		return fmt.Errorf("failed to save link: %w", err)
	}

	s.log.Info("saved new link", zap.Int64("link_id", link.ID), zap.String("path", link.Path()), zap.Int64("owner_id", link.OwnerID))
	return nil
}

func (s *PostgresStorage) Resolve(ctx context.Context, identifier *string, keywords []string) (*domain.Link, error) {
	var link domain.Link

	err := s.db.WithContext(ctx).
		Where("path_key = ? AND is_active = ?", domain.PathKey(identifier, keywords), true).
		Where("(expires_at IS NULL OR expires_at > ?)", s.now().UTC()).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		s.log.Error("failed to resolve link", zap.Strings("keywords", keywords), zap.Error(err))
		return nil, fmt.Errorf("failed to resolve link: %w", err)
	}

	return &link, nil
}

func (s *PostgresStorage) GetLinkByID(ctx context.Context, id int64) (*domain.Link, error) {
	var link domain.Link

	err := s.db.WithContext(ctx).First(&link, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		s.log.Error("failed to get link", zap.Int64("link_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	return &link, nil
}

func (s *PostgresStorage) ListOwnerLinks(ctx context.Context, ownerID int64) ([]*domain.Link, error) {
	var links []*domain.Link

	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id DESC").Find(&links).Error
	if err != nil {
		s.log.Error("failed to list owner links", zap.Int64("owner_id", ownerID), zap.Error(err))
		return nil, fmt.Errorf("failed to list owner links: %w", err)
	}

	return links, nil
}

func (s *PostgresStorage) UnscopedPrefixExists(ctx context.Context, keyword string) (bool, error) {
	// '_' is valid in a keyword but is a LIKE wildcard
	pattern := domain.PathKey(nil, []string{strings.ReplaceAll(keyword, "_", `\_`)}) + "/%"

	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Link{}).
		Where("identifier IS NULL AND path_key LIKE ? ESCAPE '\\'", pattern).
		Count(&count).Error
	if err != nil {
		s.log.Error("failed to check unscoped links", zap.String("keyword", keyword), zap.Error(err))
		return false, fmt.Errorf("failed to check unscoped links: %w", err)
	}

	return count > 0, nil
}

func (s *PostgresStorage) SetLinkActive(ctx context.Context, id int64, active bool) (*domain.Link, error) {
	result := s.db.WithContext(ctx).Model(&domain.Link{}).Where("id = ?", id).Update("is_active", active)
	if result.Error != nil {
		s.log.Error("failed to change link state", zap.Int64("link_id", id), zap.Bool("active", active), zap.Error(result.Error))
		return nil, fmt.Errorf("failed to change link state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, repository.ErrNotFound
	}

	s.log.Info("changed link state", zap.Int64("link_id", id), zap.Bool("active", active))
	return s.GetLinkByID(ctx, id)
}

func (s *PostgresStorage) UpdateLink(ctx context.Context, id int64, upd repository.LinkUpdate) (*domain.Link, error) {
	changes := map[string]interface{}{}
	if upd.DestinationURL != nil {
		changes["destination_url"] = *upd.DestinationURL
	}
	if upd.Title != nil {
		changes["title"] = *upd.Title
	}
	if upd.Description != nil {
		changes["description"] = *upd.Description
	}
	if upd.ClearExpiry {
		changes["expires_at"] = nil
	} else if upd.ExpiresAt != nil {
		changes["expires_at"] = upd.ExpiresAt.UTC()
	}
	if len(changes) == 0 {
		return s.GetLinkByID(ctx, id)
	}

	result := s.db.WithContext(ctx).Model(&domain.Link{}).Where("id = ?", id).Updates(changes)
	if result.Error != nil {
		s.log.Error("failed to update link", zap.Int64("link_id", id), zap.Error(result.Error))
		return nil, fmt.Errorf("failed to update link: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, repository.ErrNotFound
	}

	return s.GetLinkByID(ctx, id)
}

// --- Identifier Methods ---

func (s *PostgresStorage) ClaimIdentifier(ctx context.Context, identifier *domain.Identifier) error {
	if err := s.db.WithContext(ctx).Create(identifier).Error; err != nil {
		if isUniqueViolation(err) {
			return repository.ErrIdentifierTaken
		}
		s.log.Error("failed to claim identifier", zap.String("identifier", identifier.Name), zap.Error(err))
		return fmt.Errorf("failed to claim identifier: %w", err)
	}

	s.log.Info("claimed identifier", zap.String("identifier", identifier.Name), zap.Int64("owner_id", identifier.OwnerID))
	return nil
}

func (s *PostgresStorage) GetIdentifier(ctx context.Context, name string) (*domain.Identifier, error) {
	var identifier domain.Identifier

	err := s.db.WithContext(ctx).Where("name = ?", name).First(&identifier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrIdentifierNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identifier: %w", err)
	}

	return &identifier, nil
}

func (s *PostgresStorage) IdentifierExists(ctx context.Context, name string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Identifier{}).Where("name = ?", name).Count(&count).Error
	if err != nil {
		s.log.Error("failed to check identifier existence", zap.String("identifier", name), zap.Error(err))
		return false, fmt.Errorf("failed to check identifier: %w", err)
	}

	return count > 0, nil
}

func (s *PostgresStorage) CountOwnerIdentifiers(ctx context.Context, ownerID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Identifier{}).Where("owner_id = ?", ownerID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count identifiers: %w", err)
	}
	return count, nil
}

// --- Click Methods ---

// RecordClick marks the visitor, appends the event and bumps the link counters
// in one transaction. A replayed event id rolls everything back.
func (s *PostgresStorage) RecordClick(ctx context.Context, event *domain.ClickEvent, window time.Duration) (*repository.RecordResult, error) {
	if window <= 0 {
		window = s.window
	}
	at := event.ClickedAt.UTC()
	event.ClickedAt = at
	event.ID = 0

	var unique bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unique = false
		if !event.IsBot {
			marked, err := markVisitor(tx, event.LinkID, event.VisitorID, at, window)
			if err != nil {
				return fmt.Errorf("failed to mark visitor: %w", err)
			}
			unique = marked
		}
		event.IsUnique = unique

		created := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).Create(event)
		if created.Error != nil {
			return fmt.Errorf("failed to create click: %w", created.Error)
		}
		if created.RowsAffected == 0 {
			return errReplayed
		}

		counters := map[string]interface{}{
			"click_count":     gorm.Expr("click_count + 1"),
			"last_clicked_at": gorm.Expr("CASE WHEN last_clicked_at IS NULL OR last_clicked_at < ? THEN ? ELSE last_clicked_at END", at, at),
		}
		if unique {
			counters["unique_visitors"] = gorm.Expr("unique_visitors + 1")
		}

		updated := tx.Model(&domain.Link{}).Where("id = ?", event.LinkID).UpdateColumns(counters)
		if updated.Error != nil {
			return fmt.Errorf("failed to update link counters: %w", updated.Error)
		}
		if updated.RowsAffected == 0 {
			return repository.ErrNotFound
		}
		return nil
	})

	switch {
	case errors.Is(err, errReplayed):
		event.ID = 0
		s.log.Debug("click event already recorded", zap.String("event_id", event.EventID))
		return &repository.RecordResult{Duplicate: true}, nil
	case errors.Is(err, repository.ErrNotFound):
		event.ID = 0
		return nil, err
	case err != nil:
		event.ID = 0
		s.log.Error("failed to record click", zap.Int64("link_id", event.LinkID), zap.String("event_id", event.EventID), zap.Error(err))
		return nil, err
	}

	s.log.Debug("recorded click",
		zap.Int64("link_id", event.LinkID),
		zap.String("event_id", event.EventID),
		zap.Bool("unique", unique),
		zap.Bool("bot", event.IsBot))
	return &repository.RecordResult{Unique: unique}, nil
}

// markVisitor reports whether the visitor starts a new window for the link.
// The insert and both updates are guarded by row conditions, so concurrent
// transactions for the same visitor serialize on the primary key and only one
// of them can observe an absent or expired entry.
func markVisitor(tx *gorm.DB, linkID int64, visitorID string, at time.Time, window time.Duration) (bool, error) {
	entry := domain.VisitorWindowEntry{LinkID: linkID, VisitorID: visitorID, MarkedAt: at}
	inserted := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if inserted.Error != nil {
		return false, inserted.Error
	}
	if inserted.RowsAffected == 1 {
		return true, nil
	}

	expired := tx.Model(&domain.VisitorWindowEntry{}).
		Where("link_id = ? AND visitor_id = ? AND marked_at <= ?", linkID, visitorID, at.Add(-window)).
		UpdateColumn("marked_at", at)
	if expired.Error != nil {
		return false, expired.Error
	}
	if expired.RowsAffected == 1 {
		return true, nil
	}

	// still inside the window: slide it forward
	refreshed := tx.Model(&domain.VisitorWindowEntry{}).
		Where("link_id = ? AND visitor_id = ? AND marked_at < ?", linkID, visitorID, at).
		UpdateColumn("marked_at", at)
	return false, refreshed.Error
}

func (s *PostgresStorage) ListClicks(ctx context.Context, linkID int64, from, to time.Time) ([]domain.ClickEvent, error) {
	var clicks []domain.ClickEvent

	err := s.db.WithContext(ctx).
		Where("link_id = ? AND clicked_at >= ? AND clicked_at < ?", linkID, from.UTC(), to.UTC()).
		Order("clicked_at ASC, id ASC").
		Find(&clicks).Error
	if err != nil {
		s.log.Error("failed to list clicks", zap.Int64("link_id", linkID), zap.Error(err))
		return nil, fmt.Errorf("failed to list clicks: %w", err)
	}

	return clicks, nil
}

func (s *PostgresStorage) SweepVisitorWindows(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("marked_at <= ?", now.UTC().Add(-s.window)).
		Delete(&domain.VisitorWindowEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep visitor windows: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RebuildVisitorWindows replaces the window table with the newest non-bot
// click per visitor inside the trailing window.
func (s *PostgresStorage) RebuildVisitorWindows(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	since := now.UTC().Add(-window)

	var recent []domain.ClickEvent
	err := s.db.WithContext(ctx).
		Select("link_id", "visitor_id", "clicked_at").
		Where("is_bot = ? AND clicked_at >= ?", false, since).
		Find(&recent).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load recent clicks: %w", err)
	}

	type visitorKey struct {
		linkID    int64
		visitorID string
	}
	newest := make(map[visitorKey]time.Time, len(recent))
	for _, c := range recent {
		k := visitorKey{c.LinkID, c.VisitorID}
		if cur, ok := newest[k]; !ok || c.ClickedAt.After(cur) {
			newest[k] = c.ClickedAt
		}
	}

	entries := make([]domain.VisitorWindowEntry, 0, len(newest))
	for k, markedAt := range newest {
		entries = append(entries, domain.VisitorWindowEntry{LinkID: k.linkID, VisitorID: k.visitorID, MarkedAt: markedAt.UTC()})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&domain.VisitorWindowEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.CreateInBatches(entries, 500).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild visitor windows: %w", err)
	}

	s.log.Info("rebuilt visitor windows", zap.Int("entries", len(entries)), zap.Duration("window", window))
	return int64(len(entries)), nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
