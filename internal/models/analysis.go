package models

import (
	"time"
)

// AnalysisEntry is a cached niche analysis payload. Entries materialize
// atomically on a successful fetch and are treated as absent after ExpiresAt.
type AnalysisEntry struct {
	Query     string    `json:"query"` // normalized query key
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
