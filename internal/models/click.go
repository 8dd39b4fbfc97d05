package models

import (
	"time"
)

// Click is a raw recorded click, append-only once written.
// IsUnique carries the dedup-window verdict made at record time so that
// recomputing aggregates from the log reproduces the unique-user counts.
type Click struct {
	ID        int64     `json:"id"`
	LinkID    int64     `json:"link_id"`
	ShortID   string    `json:"short_id"`
	UserID    *int64    `json:"user_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Referrer  string    `json:"referrer,omitempty"`
	IsUnique  bool      `json:"is_unique"`
	ClickedAt time.Time `json:"clicked_at"`
}

// ClickEvent is the ingestion-side input; optional fields may be empty.
type ClickEvent struct {
	ShortID   string
	UserID    *int64
	IPAddress string
	UserAgent string
	Referrer  string
}

type ClickStats struct {
	ShortID     string  `json:"short_id"`
	TotalClicks int64   `json:"total_clicks"`
	UniqueUsers int64   `json:"unique_users"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	ActiveDays  int64   `json:"active_days"`
}
