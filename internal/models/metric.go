package models

// DailyMetric is the per-(link, day) aggregate row. It is a derived view over
// the click log: clicks and unique_users must equal a from-scratch recount of
// the log for that day.
type DailyMetric struct {
	LinkID      int64   `json:"link_id"`
	Day         string  `json:"day"` // calendar day, YYYY-MM-DD
	Clicks      int64   `json:"clicks"`
	UniqueUsers int64   `json:"unique_users"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// DayFormat is the layout of DailyMetric.Day.
const DayFormat = "2006-01-02"
