package domain

import (
	"strings"
	"time"
)

// GeoEvent is one observation to plot.
type GeoEvent struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Category  string  `json:"category"`
	Magnitude float64 `json:"magnitude"`
	Timestamp string  `json:"timestamp"` // ISO-8601
	Status    string  `json:"status,omitempty"`
	Source    string  `json:"source,omitempty"`
}

// ParseTimestamp parses an ISO-8601 timestamp. RFC 3339 with or without
// fractional seconds is accepted, as is a bare date-time without zone (UTC).
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// FormatTimestamp renders t in the canonical form consumed by ParseTimestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
