package service

import (
	"WordsToLink-Backend/internal/domain"
	"WordsToLink-Backend/internal/pathparser"
	"WordsToLink-Backend/internal/repository"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrForbidden     = errors.New("link belongs to another account")
	ErrInvalidInput  = errors.New("invalid input")
)

// QuotaProvider supplies per-account limits from the account system.
type QuotaProvider interface {
	QuotaFor(ctx context.Context, ownerID int64) (domain.Quota, error)
}

// StaticQuota gives every account the same limits.
type StaticQuota domain.Quota

func (q StaticQuota) QuotaFor(context.Context, int64) (domain.Quota, error) {
	return domain.Quota(q), nil
}

// ReportBuilder produces analytics reports.
type ReportBuilder interface {
	Aggregate(ctx context.Context, linkID int64, period domain.Period) (*domain.AnalyticsReport, error)
}

type CreateLinkInput struct {
	OwnerID        int64
	Identifier     *string
	Keywords       []string
	DestinationURL string
	Title          *string
	Description    *string
	ExpiresAt      *time.Time
}

type LinkService struct {
	links       repository.LinkStore
	identifiers repository.IdentifierStore
	quota       QuotaProvider
	reports     ReportBuilder
	log         *zap.Logger
	now         func() time.Time
}

func NewLinkService(links repository.LinkStore, identifiers repository.IdentifierStore, quota QuotaProvider, reports ReportBuilder, log *zap.Logger) *LinkService {
	return &LinkService{
		links:       links,
		identifiers: identifiers,
		quota:       quota,
		reports:     reports,
		log:         log.With(zap.String("component", "link_service")),
		now:         time.Now,
	}
}

// Create validates and stores a new active link.
func (s *LinkService) Create(ctx context.Context, in CreateLinkInput) (*domain.Link, error) {
	keywords, err := pathparser.NormalizeKeywords(in.Keywords, pathparser.MaxKeywords)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	quota, err := s.quota.QuotaFor(ctx, in.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quota: %w", err)
	}
	if quota.MaxKeywords > 0 && len(keywords) > quota.MaxKeywords {
		return nil, fmt.Errorf("%w: at most %d keywords allowed", ErrQuotaExceeded, quota.MaxKeywords)
	}

	destination, err := normalizeDestination(in.DestinationURL)
	if err != nil {
		return nil, err
	}

	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}

	var identifier *string
	if in.Identifier != nil && *in.Identifier != "" {
		name := strings.ToLower(strings.TrimSpace(*in.Identifier))
		claimed, err := s.identifiers.GetIdentifier(ctx, name)
		if err != nil {
			return nil, err
		}
		if claimed.OwnerID != in.OwnerID {
			return nil, ErrForbidden
		}
		identifier = &name
	} else if len(keywords) > 1 {
		// path "acme/x" would parse as identifier acme plus keyword x
		taken, err := s.identifiers.IdentifierExists(ctx, keywords[0])
		if err != nil {
			return nil, fmt.Errorf("failed to check identifier: %w", err)
		}
		if taken {
			return nil, repository.ErrDuplicatePath
		}
	}

	link := &domain.Link{
		OwnerID:        in.OwnerID,
		Identifier:     identifier,
		Keywords:       keywords,
		DestinationURL: destination,
		Title:          in.Title,
		Description:    in.Description,
		ExpiresAt:      utcPtr(in.ExpiresAt),
		IsActive:       true,
	}
	if err := s.links.CreateLink(ctx, link); err != nil {
		return nil, err
	}

	s.log.Info("link created", zap.Int64("link_id", link.ID), zap.String("path", link.Path()), zap.Int64("owner_id", link.OwnerID))
	return link, nil
}

// Get returns a link owned by ownerID in any state.
func (s *LinkService) Get(ctx context.Context, ownerID, id int64) (*domain.Link, error) {
	link, err := s.links.GetLinkByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if link.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return link, nil
}

func (s *LinkService) List(ctx context.Context, ownerID int64) ([]*domain.Link, error) {
	return s.links.ListOwnerLinks(ctx, ownerID)
}

// SetActive toggles a link. A deactivated link keeps its path reserved.
func (s *LinkService) SetActive(ctx context.Context, ownerID, id int64, active bool) (*domain.Link, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	link, err := s.links.SetLinkActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	s.log.Info("link state changed", zap.Int64("link_id", id), zap.Bool("active", active))
	return link, nil
}

func (s *LinkService) Update(ctx context.Context, ownerID, id int64, upd repository.LinkUpdate) (*domain.Link, error) {
	if upd.DestinationURL != nil {
		destination, err := normalizeDestination(*upd.DestinationURL)
		if err != nil {
			return nil, err
		}
		upd.DestinationURL = &destination
	}
	if !upd.ClearExpiry && upd.ExpiresAt != nil && !upd.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.links.UpdateLink(ctx, id, upd)
}

// ClaimIdentifier reserves a namespace for ownerID within its quota.
func (s *LinkService) ClaimIdentifier(ctx context.Context, ownerID int64, name string) (*domain.Identifier, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !pathparser.ValidSegment(name) {
		return nil, fmt.Errorf("%w: invalid identifier %q", ErrInvalidInput, name)
	}

	quota, err := s.quota.QuotaFor(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quota: %w", err)
	}
	if quota.MaxIdentifiers > 0 {
		owned, err := s.identifiers.CountOwnerIdentifiers(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("failed to count identifiers: %w", err)
		}
		if owned >= int64(quota.MaxIdentifiers) {
			return nil, fmt.Errorf("%w: at most %d identifiers allowed", ErrQuotaExceeded, quota.MaxIdentifiers)
		}
	}

	// an existing link "name/x" would otherwise start resolving inside the new namespace
	shadowed, err := s.links.UnscopedPrefixExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing links: %w", err)
	}
	if shadowed {
		return nil, repository.ErrIdentifierTaken
	}

	identifier := &domain.Identifier{Name: name, OwnerID: ownerID}
	if err := s.identifiers.ClaimIdentifier(ctx, identifier); err != nil {
		return nil, err
	}
	return identifier, nil
}

// Analytics builds the report for a link the caller owns.
func (s *LinkService) Analytics(ctx context.Context, ownerID, id int64, period domain.Period) (*domain.AnalyticsReport, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.reports.Aggregate(ctx, id, period)
}

func normalizeDestination(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: destination must be an absolute http(s) URL", ErrInvalidInput)
	}
	return u.String(), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
