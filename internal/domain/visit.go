package domain

import "time"

// ReferrerType classifies where a visit came from.
type ReferrerType string

const (
	ReferrerDirect ReferrerType = "direct"
	ReferrerSocial ReferrerType = "social"
	ReferrerSearch ReferrerType = "search"
	ReferrerOther  ReferrerType = "other"
)

// UTM carries campaign parameters taken from the inbound query string.
type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`
}

// VisitContext is the enriched, PII-free description of a single visit.
type VisitContext struct {
	VisitorID      string
	Country        string
	City           string
	Region         string
	DeviceType     string
	Browser        string
	OS             string
	IsBot          bool
	Referrer       string
	ReferrerType   ReferrerType
	ReferrerHost   string
	UTM            UTM
	ResponseTimeMs int64
	OccurredAt     time.Time
}

// RawVisit is what the HTTP layer knows about a request before enrichment.
type RawVisit struct {
	ClientIP  string
	UserAgent string
	Referrer  string
	Query     map[string][]string
	Headers   map[string][]string
	StartedAt time.Time
}
