package domain

import "time"

// ClickEvent is an immutable record of one redirect that reached the click recorder.
type ClickEvent struct {
	ID             int64        `gorm:"primaryKey;column:id" json:"id"`
	EventID        string       `gorm:"column:event_id;size:36;not null;uniqueIndex" json:"event_id"`
	LinkID         int64        `gorm:"column:link_id;not null;index:idx_clicks_link_time,priority:1" json:"link_id"`
	ClickedAt      time.Time    `gorm:"column:clicked_at;not null;index:idx_clicks_link_time,priority:2" json:"clicked_at"`
	VisitorID      string       `gorm:"column:visitor_id;size:64;not null" json:"visitor_id"`
	Country        string       `gorm:"column:country;size:2" json:"country,omitempty"` // ISO 3166-1 alpha-2
	City           string       `gorm:"column:city;size:100" json:"city,omitempty"`
	Region         string       `gorm:"column:region;size:100" json:"region,omitempty"`
	DeviceType     string       `gorm:"column:device_type;size:10" json:"device_type,omitempty"` // 'desktop', 'mobile', 'tablet', 'bot'
	Browser        string       `gorm:"column:browser;size:50" json:"browser,omitempty"`
	OS             string       `gorm:"column:os;size:50" json:"os,omitempty"`
	IsBot          bool         `gorm:"column:is_bot;not null" json:"is_bot"`
	Referrer       string       `gorm:"column:referrer;size:500" json:"referrer,omitempty"`
	ReferrerType   ReferrerType `gorm:"column:referrer_type;size:10;not null" json:"referrer_type"`
	ReferrerHost   string       `gorm:"column:referrer_host;size:255" json:"referrer_host,omitempty"`
	UTMSource      string       `gorm:"column:utm_source;size:100" json:"utm_source,omitempty"`
	UTMMedium      string       `gorm:"column:utm_medium;size:100" json:"utm_medium,omitempty"`
	UTMCampaign    string       `gorm:"column:utm_campaign;size:100" json:"utm_campaign,omitempty"`
	UTMTerm        string       `gorm:"column:utm_term;size:100" json:"utm_term,omitempty"`
	UTMContent     string       `gorm:"column:utm_content;size:100" json:"utm_content,omitempty"`
	ResponseTimeMs int64        `gorm:"column:response_time_ms;not null;default:0" json:"response_time_ms"`
	IsUnique       bool         `gorm:"column:is_unique;not null" json:"is_unique"` // counted as a unique visitor
}

// TableName returns the GORM table name.
func (ClickEvent) TableName() string {
	return "click_events"
}

// NewClickEvent builds the event appended for a visit.
func NewClickEvent(eventID string, linkID int64, visit *VisitContext) *ClickEvent {
	return &ClickEvent{
		EventID:        eventID,
		LinkID:         linkID,
		ClickedAt:      visit.OccurredAt.UTC(),
		VisitorID:      visit.VisitorID,
		Country:        visit.Country,
		City:           visit.City,
		Region:         visit.Region,
		DeviceType:     visit.DeviceType,
		Browser:        visit.Browser,
		OS:             visit.OS,
		IsBot:          visit.IsBot,
		Referrer:       visit.Referrer,
		ReferrerType:   visit.ReferrerType,
		ReferrerHost:   visit.ReferrerHost,
		UTMSource:      visit.UTM.Source,
		UTMMedium:      visit.UTM.Medium,
		UTMCampaign:    visit.UTM.Campaign,
		UTMTerm:        visit.UTM.Term,
		UTMContent:     visit.UTM.Content,
		ResponseTimeMs: visit.ResponseTimeMs,
	}
}

// VisitorWindowEntry marks a visitor as counted for a link. It is derived data
// and can be rebuilt from the click log.
type VisitorWindowEntry struct {
	LinkID    int64     `gorm:"primaryKey;column:link_id;autoIncrement:false"`
	VisitorID string    `gorm:"primaryKey;column:visitor_id;size:64"`
	MarkedAt  time.Time `gorm:"column:marked_at;not null;index"`
}

// TableName returns the GORM table name.
func (VisitorWindowEntry) TableName() string {
	return "visitor_windows"
}
