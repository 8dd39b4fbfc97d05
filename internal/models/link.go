package models

import (
	"time"
)

type AffiliateLink struct {
	ID           int64     `json:"id"`
	ShortID      string    `json:"short_id"`
	OriginalURL  string    `json:"original_url"`
	AffiliateURL string    `json:"affiliate_url"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Category     string    `json:"category,omitempty"`
	OwnerID      int64     `json:"owner_id"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

type CreateLinkInput struct {
	OriginalURL  string `json:"original_url" binding:"required,url"`
	AffiliateURL string `json:"affiliate_url,omitempty"`
	Title        string `json:"title" binding:"required"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
	OwnerID      int64  `json:"owner_id"`
}

// LinkSummary is a dashboard row: link attributes plus its lifetime click count.
type LinkSummary struct {
	ShortID   string    `json:"short_id"`
	Title     string    `json:"title"`
	Category  string    `json:"category,omitempty"`
	Clicks    int64     `json:"clicks"`
	CreatedAt time.Time `json:"created_at"`
}

type Dashboard struct {
	TotalLinks       int64         `json:"total_links"`
	TotalClicks      int64         `json:"total_clicks"`
	RecentLinks      []LinkSummary `json:"recent_links"`
	TopPerforming    []LinkSummary `json:"top_performing"`
	AvgClicksPerLink float64       `json:"avg_clicks_per_link"`
}
