package analytics

import (
	"WordsToLink-Backend/internal/domain"
	"WordsToLink-Backend/internal/repository"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ErrAggregationFailure marks a report that could not be built because the
// storage was unavailable. Callers may retry.
var ErrAggregationFailure = errors.New("analytics aggregation failed")

// DefaultTopCountries is how many countries a report lists.
const DefaultTopCountries = 10

// EventSource is the read side the aggregator works from.
type EventSource interface {
	GetLinkByID(ctx context.Context, id int64) (*domain.Link, error)
	ListClicks(ctx context.Context, linkID int64, from, to time.Time) ([]domain.ClickEvent, error)
}

type Aggregator struct {
	source EventSource
	log    *zap.Logger
	now    func() time.Time
	topN   int
}

func NewAggregator(source EventSource, log *zap.Logger) *Aggregator {
	return &Aggregator{
		source: source,
		log:    log.With(zap.String("component", "aggregator")),
		now:    time.Now,
		topN:   DefaultTopCountries,
	}
}

// Aggregate builds the report for a link over the period ending now. Links are
// reached by id whatever their activation or expiry state.
func (a *Aggregator) Aggregate(ctx context.Context, linkID int64, period domain.Period) (*domain.AnalyticsReport, error) {
	now := a.now().UTC()
	from := period.Start(now)
	granularity := period.Granularity()

	link, err := a.source.GetLinkByID(ctx, linkID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		a.log.Error("failed to load link for report", zap.Int64("link_id", linkID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrAggregationFailure, err)
	}

	// the upper bound is exclusive, so step past now to include a click at now
	events, err := a.source.ListClicks(ctx, linkID, from, now.Add(time.Nanosecond))
	if err != nil {
		a.log.Error("failed to load clicks for report", zap.Int64("link_id", linkID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrAggregationFailure, err)
	}

	report := &domain.AnalyticsReport{
		LinkID:       linkID,
		Period:       period,
		Granularity:  granularity,
		From:         from,
		To:           now,
		Overview:     overview(link, events),
		Timeline:     timeline(linkID, period, granularity, events),
		TopCountries: topCountries(events, a.topN),
		Devices:      frequencies(events, func(c *domain.ClickEvent) string { return c.DeviceType }),
		Browsers:     frequencies(events, func(c *domain.ClickEvent) string { return c.Browser }),
		OS:           frequencies(events, func(c *domain.ClickEvent) string { return c.OS }),
		Referrers:    referrerGroups(events),
	}
	return report, nil
}

func overview(link *domain.Link, events []domain.ClickEvent) domain.Overview {
	o := domain.Overview{
		TotalClicks:         link.ClickCount,
		TotalUniqueVisitors: link.UniqueVisitors,
		PeriodClicks:        int64(len(events)),
		LastClickedAt:       link.LastClickedAt,
	}

	days := make(map[time.Time]struct{})
	for i := range events {
		days[domain.GranularityDay.Truncate(events[i].ClickedAt)] = struct{}{}
		if events[i].IsBot {
			o.PeriodBotClicks++
		}
	}
	o.PeriodActiveDays = int64(len(days))
	return o
}

type bucketAcc struct {
	clicks     int64
	visitors   map[string]struct{}
	countries  map[string]struct{}
	responseMs int64
}

// timeline returns only buckets with at least one click, oldest first.
func timeline(linkID int64, period domain.Period, g domain.Granularity, events []domain.ClickEvent) []domain.AggregateBucket {
	accs := make(map[time.Time]*bucketAcc)
	for i := range events {
		c := &events[i]
		start := g.Truncate(c.ClickedAt)
		acc, ok := accs[start]
		if !ok {
			acc = &bucketAcc{visitors: map[string]struct{}{}, countries: map[string]struct{}{}}
			accs[start] = acc
		}
		acc.clicks++
		acc.responseMs += c.ResponseTimeMs
		if !c.IsBot && c.VisitorID != "" {
			acc.visitors[c.VisitorID] = struct{}{}
		}
		if c.Country != "" {
			acc.countries[c.Country] = struct{}{}
		}
	}

	buckets := make([]domain.AggregateBucket, 0, len(accs))
	for start, acc := range accs {
		buckets = append(buckets, domain.AggregateBucket{
			LinkID:            linkID,
			Period:            period,
			TimeBucket:        start,
			Clicks:            acc.clicks,
			UniqueVisitors:    int64(len(acc.visitors)),
			Countries:         int64(len(acc.countries)),
			AvgResponseTimeMs: float64(acc.responseMs) / float64(acc.clicks),
		})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].TimeBucket.Before(buckets[j].TimeBucket) })
	return buckets
}

// topCountries ranks by clicks, then unique visitors, then name.
func topCountries(events []domain.ClickEvent, n int) []domain.CountryStat {
	type acc struct {
		clicks   int64
		visitors map[string]struct{}
	}
	byCountry := make(map[string]*acc)
	for i := range events {
		c := &events[i]
		if c.Country == "" {
			continue
		}
		a, ok := byCountry[c.Country]
		if !ok {
			a = &acc{visitors: map[string]struct{}{}}
			byCountry[c.Country] = a
		}
		a.clicks++
		if !c.IsBot && c.VisitorID != "" {
			a.visitors[c.VisitorID] = struct{}{}
		}
	}

	stats := make([]domain.CountryStat, 0, len(byCountry))
	for country, a := range byCountry {
		stats = append(stats, domain.CountryStat{Country: country, Clicks: a.clicks, UniqueVisitors: int64(len(a.visitors))})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Clicks != stats[j].Clicks {
			return stats[i].Clicks > stats[j].Clicks
		}
		if stats[i].UniqueVisitors != stats[j].UniqueVisitors {
			return stats[i].UniqueVisitors > stats[j].UniqueVisitors
		}
		return stats[i].Country < stats[j].Country
	})
	if n > 0 && len(stats) > n {
		stats = stats[:n]
	}
	return stats
}

const unknown = "unknown"

func frequencies(events []domain.ClickEvent, field func(*domain.ClickEvent) string) []domain.FrequencyEntry {
	counts := make(map[string]int64)
	for i := range events {
		name := field(&events[i])
		if name == "" {
			name = unknown
		}
		counts[name]++
	}
	return sortedEntries(counts)
}

func referrerGroups(events []domain.ClickEvent) []domain.ReferrerGroup {
	sources := make(map[domain.ReferrerType]map[string]int64)
	totals := make(map[domain.ReferrerType]int64)
	for i := range events {
		c := &events[i]
		kind := c.ReferrerType
		if kind == "" {
			kind = domain.ReferrerDirect
		}
		source := c.ReferrerHost
		if source == "" {
			source = string(kind)
		}
		if sources[kind] == nil {
			sources[kind] = make(map[string]int64)
		}
		sources[kind][source]++
		totals[kind]++
	}

	groups := make([]domain.ReferrerGroup, 0, len(totals))
	for kind, total := range totals {
		groups = append(groups, domain.ReferrerGroup{Type: kind, Clicks: total, Sources: sortedEntries(sources[kind])})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Clicks != groups[j].Clicks {
			return groups[i].Clicks > groups[j].Clicks
		}
		return groups[i].Type < groups[j].Type
	})
	return groups
}

func sortedEntries(counts map[string]int64) []domain.FrequencyEntry {
	entries := make([]domain.FrequencyEntry, 0, len(counts))
	for name, n := range counts {
		entries = append(entries, domain.FrequencyEntry{Name: name, Clicks: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Clicks != entries[j].Clicks {
			return entries[i].Clicks > entries[j].Clicks
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}
