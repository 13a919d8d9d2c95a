package models

import "time"

// MaxClickEvents caps the number of click events retained per link.
// The clicks counter keeps counting past the cap; only event detail is evicted.
const MaxClickEvents = 1000

// SortBy enumerates the fields links can be sorted by when listing.
type SortBy string

const (
	SortByClicks    SortBy = "clicks"
	SortByCreatedAt SortBy = "created_at"
	SortByCode      SortBy = "code"
)

// Valid reports whether the sort field is one of the supported columns.
func (s SortBy) Valid() bool {
	switch s {
	case SortByClicks, SortByCreatedAt, SortByCode:
		return true
	}
	return false
}

// Order is the sort direction for listing.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Link represents a shortened link and its associated metadata.
type Link struct {
	// ID is the unique identifier for the link record.
	ID int64
	// Code is the short code associated with the original URL.
	// It stays reserved forever, even after a soft delete.
	Code string
	// OriginalURL is the original, full-length URL that the code points to.
	OriginalURL string
	// Clicks tracks the number of times the link has been visited.
	Clicks int64
	// ExpiresAt is the optional expiry timestamp. Nil means the link never expires.
	ExpiresAt *time.Time
	// IsActive is false for soft-deleted links.
	IsActive bool
	// CreatedBy is the opaque owner identifier scoping list/delete/analytics.
	CreatedBy string
	// CreatedAt is the timestamp indicating when the link was created.
	CreatedAt time.Time
	// UpdatedAt is the timestamp indicating when the link was last updated.
	UpdatedAt time.Time
	// ClickEvents holds the retained click event log in insertion order.
	// Only populated by analytics lookups.
	ClickEvents []ClickEvent
}

// IsExpired reports whether the link is past its expiry at the given time.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// ClickEvent is one recorded visit to a short code.
type ClickEvent struct {
	Timestamp time.Time
	IP        string
	UserAgent string
	Referer   string
}

// ClickMeta carries request metadata captured on a redirect.
type ClickMeta struct {
	IP        string
	UserAgent string
	Referer   string
}

// WithDefaults substitutes "unknown" for missing IP and user agent.
// Referer stays empty when absent.
func (m ClickMeta) WithDefaults() ClickMeta {
	if m.IP == "" {
		m.IP = "unknown"
	}
	if m.UserAgent == "" {
		m.UserAgent = "unknown"
	}
	return m
}
