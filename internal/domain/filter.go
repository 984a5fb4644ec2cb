package domain

import (
	"math"
	"time"

	"github.com/paulmach/orb"
)

// BBox is an inclusive latitude/longitude rectangle.
type BBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLng float64 `json:"minLng"`
	MaxLng float64 `json:"maxLng"`
}

// Bound converts the box to an orb.Bound (x = lng, y = lat).
func (b BBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLng, b.MinLat},
		Max: orb.Point{b.MaxLng, b.MaxLat},
	}
}

// Contains reports whether the coordinate lies inside the box, edges included.
func (b BBox) Contains(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return b.Bound().Contains(orb.Point{lng, lat})
}

// FilterOptions configures ApplyFilters. Zero values disable a stage.
type FilterOptions struct {
	TimeRangeDays float64
	Severity      *SeverityFilter
	Thresholds    SeverityThresholds
	BBox          *BBox
	Limit         int
}

// ApplyFilters runs the time range, severity, bounding box and limit stages
// in that order. The input slice is not modified.
func ApplyFilters(events []GeoEvent, opts FilterOptions, now time.Time) []GeoEvent {
	out := make([]GeoEvent, 0, len(events))
	out = append(out, events...)

	out = filterTimeRange(out, opts.TimeRangeDays, now)
	out = filterSeverity(out, opts.Severity, opts.Thresholds)
	out = filterBBox(out, opts.BBox)
	return applyLimit(out, opts.Limit)
}

// filterTimeRange keeps events at or after now minus days. Events stamped
// after now are kept: feed clocks run slightly ahead of ours.
func filterTimeRange(events []GeoEvent, days float64, now time.Time) []GeoEvent {
	if days <= 0 {
		return events
	}
	cutoff := now.Add(-time.Duration(days * float64(24*time.Hour)))
	return keep(events, func(e GeoEvent) bool {
		ts, ok := ParseTimestamp(e.Timestamp)
		return ok && !ts.Before(cutoff)
	})
}

func filterSeverity(events []GeoEvent, f *SeverityFilter, thresholds SeverityThresholds) []GeoEvent {
	if f == nil {
		return events
	}
	return keep(events, func(e GeoEvent) bool {
		return f.Allows(thresholds.Classify(e.Magnitude))
	})
}

func filterBBox(events []GeoEvent, b *BBox) []GeoEvent {
	if b == nil {
		return events
	}
	return keep(events, func(e GeoEvent) bool {
		return b.Contains(e.Lat, e.Lng)
	})
}

func applyLimit(events []GeoEvent, limit int) []GeoEvent {
	if limit <= 0 || len(events) <= limit {
		return events
	}
	return events[:limit]
}

// keep filters in place; callers own the slice.
func keep(events []GeoEvent, pred func(GeoEvent) bool) []GeoEvent {
	n := 0
	for _, e := range events {
		if pred(e) {
			events[n] = e
			n++
		}
	}
	return events[:n]
}
