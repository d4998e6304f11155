package domain

import (
	"fmt"
	"time"
)

// Period is a reporting window ending now.
type Period string

const (
	Period24h Period = "24h"
	Period7d  Period = "7d"
	Period30d Period = "30d"
	Period90d Period = "90d"
	Period1y  Period = "1y"
)

// Granularity is the bucket width used for a period.
type Granularity string

const (
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// ParsePeriod validates a period string; empty defaults to 7d.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case "":
		return Period7d, nil
	case Period24h, Period7d, Period30d, Period90d, Period1y:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported period %q", s)
	}
}

// Start returns the first instant covered by the period when it ends at now.
func (p Period) Start(now time.Time) time.Time {
	switch p {
	case Period24h:
		return now.Add(-24 * time.Hour)
	case Period30d:
		return now.AddDate(0, 0, -30)
	case Period90d:
		return now.AddDate(0, 0, -90)
	case Period1y:
		return now.AddDate(-1, 0, 0)
	default:
		return now.AddDate(0, 0, -7)
	}
}

// Granularity returns the bucket width for the period.
func (p Period) Granularity() Granularity {
	switch p {
	case Period24h:
		return GranularityHour
	case Period90d:
		return GranularityWeek
	case Period1y:
		return GranularityMonth
	default:
		return GranularityDay
	}
}

// Truncate returns the start of the UTC bucket containing t.
// Weeks start on Monday.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case GranularityHour:
		return t.Truncate(time.Hour)
	case GranularityWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// AggregateBucket is one point of a click timeline. It is computed, never stored.
type AggregateBucket struct {
	LinkID            int64     `json:"link_id"`
	Period            Period    `json:"period"`
	TimeBucket        time.Time `json:"time_bucket"`
	Clicks            int64     `json:"clicks"`
	UniqueVisitors    int64     `json:"unique_visitors"`
	Countries         int64     `json:"countries"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
}

// Overview holds headline figures for a link. The Total fields are lifetime
// counters; the Period fields cover only events inside the requested period.
type Overview struct {
	TotalClicks         int64      `json:"total_clicks"`
	TotalUniqueVisitors int64      `json:"total_unique_visitors"`
	PeriodClicks        int64      `json:"period_clicks"`
	PeriodActiveDays    int64      `json:"period_active_days"`
	PeriodBotClicks     int64      `json:"period_bot_clicks"`
	LastClickedAt       *time.Time `json:"last_clicked_at,omitempty"`
}

// CountryStat is a row of the top countries table.
type CountryStat struct {
	Country        string `json:"country"`
	Clicks         int64  `json:"clicks"`
	UniqueVisitors int64  `json:"unique_visitors"`
}

// FrequencyEntry is a generic name/count pair.
type FrequencyEntry struct {
	Name   string `json:"name"`
	Clicks int64  `json:"clicks"`
}

// ReferrerGroup groups referrer sources by their classified type.
type ReferrerGroup struct {
	Type    ReferrerType     `json:"type"`
	Clicks  int64            `json:"clicks"`
	Sources []FrequencyEntry `json:"sources"`
}

// AnalyticsReport is the full response for one link and period.
type AnalyticsReport struct {
	LinkID       int64             `json:"link_id"`
	Period       Period            `json:"period"`
	Granularity  Granularity       `json:"granularity"`
	From         time.Time         `json:"from"`
	To           time.Time         `json:"to"`
	Overview     Overview          `json:"overview"`
	Timeline     []AggregateBucket `json:"timeline"`
	TopCountries []CountryStat     `json:"top_countries"`
	Devices      []FrequencyEntry  `json:"devices"`
	Browsers     []FrequencyEntry  `json:"browsers"`
	OS           []FrequencyEntry  `json:"os"`
	Referrers    []ReferrerGroup   `json:"referrers"`
}
