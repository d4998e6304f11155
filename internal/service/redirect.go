package service

import (
	"WordsToLink-Backend/internal/domain"
	"WordsToLink-Backend/internal/pathparser"
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PathParser splits inbound paths.
type PathParser interface {
	Parse(ctx context.Context, rawPath string) (*pathparser.Parsed, error)
}

// Resolver finds the live link for a parsed path.
type Resolver interface {
	Resolve(ctx context.Context, identifier *string, keywords []string) (*domain.Link, error)
}

// VisitEnricher derives the visit context.
type VisitEnricher interface {
	Enrich(raw *domain.RawVisit) *domain.VisitContext
}

// ClickSubmitter hands clicks to the asynchronous recorder.
type ClickSubmitter interface {
	Submit(event *domain.ClickEvent) error
}

// Redirector is the redirect pipeline: parse, resolve, then dispatch the click
// without waiting for it to be stored.
type Redirector struct {
	parser   PathParser
	links    Resolver
	enricher VisitEnricher
	clicks   ClickSubmitter
	log      *zap.Logger
	newID    func() string
}

func NewRedirector(parser PathParser, links Resolver, enricher VisitEnricher, clicks ClickSubmitter, log *zap.Logger) *Redirector {
	return &Redirector{
		parser:   parser,
		links:    links,
		enricher: enricher,
		clicks:   clicks,
		log:      log.With(zap.String("component", "redirector")),
		newID:    uuid.NewString,
	}
}

// Redirect returns the destination for rawPath. It fails with
// pathparser.ErrMalformedPath or repository.ErrNotFound; callers should
// present both the same way. Recording problems never surface here.
func (r *Redirector) Redirect(ctx context.Context, rawPath string, raw *domain.RawVisit) (string, error) {
	parsed, err := r.parser.Parse(ctx, rawPath)
	if err != nil {
		if !errors.Is(err, pathparser.ErrMalformedPath) {
			r.log.Error("failed to parse path", zap.Error(err))
		}
		return "", err
	}

	link, err := r.links.Resolve(ctx, parsed.Identifier, parsed.Keywords)
	if err != nil {
		return "", err
	}

	visit := r.enricher.Enrich(raw)
	event := domain.NewClickEvent(r.newID(), link.ID, visit)
	if err := r.clicks.Submit(event); err != nil {
		r.log.Warn("click not queued", zap.Int64("link_id", link.ID), zap.String("event_id", event.EventID), zap.Error(err))
	}

	r.log.Debug("redirect",
		zap.Int64("link_id", link.ID),
		zap.String("visitor_id", visit.VisitorID),
		zap.Bool("bot", visit.IsBot),
	)
	return link.DestinationURL, nil
}
