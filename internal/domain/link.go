package domain

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Link is a destination addressed by an optional identifier plus an ordered keyword sequence.
type Link struct {
	ID             int64          `gorm:"primaryKey;column:id" json:"id"`
	OwnerID        int64          `gorm:"column:owner_id;not null;index" json:"owner_id"`
	Identifier     *string        `gorm:"column:identifier;size:32;index" json:"identifier,omitempty"`
	Keywords       []string       `gorm:"-" json:"keywords"`
	KeywordPath    string         `gorm:"column:keywords;size:200;not null" json:"-"`
	PathKey        string         `gorm:"column:path_key;size:240;not null;uniqueIndex:idx_links_path_key,where:deleted_at IS NULL" json:"-"`
	DestinationURL string         `gorm:"column:destination_url;type:text;not null" json:"destination_url"`
	Title          *string        `gorm:"column:title;size:255" json:"title,omitempty"`
	Description    *string        `gorm:"column:description;type:text" json:"description,omitempty"`
	IsActive       bool           `gorm:"column:is_active;not null" json:"is_active"`
	ExpiresAt      *time.Time     `gorm:"column:expires_at" json:"expires_at,omitempty"`
	ClickCount     int64          `gorm:"column:click_count;not null;default:0" json:"click_count"`
	UniqueVisitors int64          `gorm:"column:unique_visitors;not null;default:0" json:"unique_visitors"`
	LastClickedAt  *time.Time     `gorm:"column:last_clicked_at" json:"last_clicked_at,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// TableName returns the GORM table name.
func (Link) TableName() string {
	return "links"
}

// BeforeSave keeps the denormalized key columns in sync with Keywords.
func (l *Link) BeforeSave(_ *gorm.DB) error {
	if len(l.Keywords) > 0 {
		l.KeywordPath = strings.Join(l.Keywords, "/")
		l.PathKey = PathKey(l.Identifier, l.Keywords)
	}
	return nil
}

// AfterFind restores Keywords from the stored path.
func (l *Link) AfterFind(_ *gorm.DB) error {
	if l.KeywordPath != "" {
		l.Keywords = strings.Split(l.KeywordPath, "/")
	}
	return nil
}

// IsLive reports whether the link may be used for redirects at the given moment.
func (l *Link) IsLive(now time.Time) bool {
	if !l.IsActive {
		return false
	}
	return l.ExpiresAt == nil || l.ExpiresAt.After(now)
}

// Path renders the public path, e.g. "acme/spring-sale".
func (l *Link) Path() string {
	if l.Identifier == nil {
		return strings.Join(l.Keywords, "/")
	}
	return *l.Identifier + "/" + strings.Join(l.Keywords, "/")
}

// PathKey builds the composite uniqueness key for (identifier, keywords).
// ':' never appears in a valid segment, so keys cannot collide across namespaces.
func PathKey(identifier *string, keywords []string) string {
	var b strings.Builder
	if identifier != nil {
		b.WriteString(*identifier)
	}
	b.WriteByte(':')
	b.WriteString(strings.Join(keywords, "/"))
	return b.String()
}

// Identifier is a tenant namespace claimed by exactly one account.
type Identifier struct {
	Name      string    `gorm:"primaryKey;column:name;size:32" json:"name"`
	OwnerID   int64     `gorm:"column:owner_id;not null;index" json:"owner_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName returns the GORM table name.
func (Identifier) TableName() string {
	return "identifiers"
}

// Quota is supplied by the account system; the core only reads it.
type Quota struct {
	MaxKeywords    int
	MaxIdentifiers int
}
