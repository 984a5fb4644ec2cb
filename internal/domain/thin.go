package domain

import (
	"math"
	"sort"
	"time"
)

// ThinningConfig bounds how many events are forwarded to rendering.
type ThinningConfig struct {
	Target      int     `json:"target"`      // desired post-thin count; <= 0 means cap only
	Warn        int     `json:"warn"`        // soft input threshold flagged in stats; <= 0 disables
	Cap         int     `json:"cap"`         // hard ceiling; <= 0 means unbounded
	GridSizeDeg float64 `json:"gridSizeDeg"` // cell side in degrees; <= 0 disables cell reduction
}

// ThinStats describes one Thin call.
type ThinStats struct {
	Before   int
	After    int
	Dropped  int
	Cells    int
	OverWarn bool
	Duration time.Duration
}

type cellKey struct {
	row, col int64
}

// Thin decimates events so that each grid cell contributes at most its most
// significant event and the total stays within the configured bounds.
// The input slice is not modified.
func Thin(events []GeoEvent, cfg ThinningConfig) ([]GeoEvent, ThinStats) {
	start := clock.Now()
	stats := ThinStats{
		Before:   len(events),
		OverWarn: cfg.Warn > 0 && len(events) > cfg.Warn,
	}

	reps := representatives(events, cfg.GridSizeDeg)
	stats.Cells = len(reps)

	if limit := thinLimit(cfg, len(reps)); len(reps) > limit {
		reps = topByMagnitude(events, reps, limit)
	}

	out := make([]GeoEvent, len(reps))
	for i, idx := range reps {
		out[i] = events[idx]
	}

	stats.After = len(out)
	stats.Dropped = stats.Before - stats.After
	stats.Duration = clock.Since(start)
	return out, stats
}

// representatives returns, in ascending input order, the index of the
// highest-magnitude event in each grid cell. Earlier events win ties.
func representatives(events []GeoEvent, gridSizeDeg float64) []int {
	if gridSizeDeg <= 0 {
		idx := make([]int, len(events))
		for i := range idx {
			idx[i] = i
		}
		return idx
	}

	best := make(map[cellKey]int, len(events)/4+1)
	for i, e := range events {
		key := cellKey{
			row: int64(math.Floor(e.Lat / gridSizeDeg)),
			col: int64(math.Floor(e.Lng / gridSizeDeg)),
		}
		cur, ok := best[key]
		if !ok || e.Magnitude > events[cur].Magnitude {
			best[key] = i
		}
	}

	idx := make([]int, 0, len(best))
	for _, i := range best {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

func thinLimit(cfg ThinningConfig, n int) int {
	limit := n
	if cfg.Target > 0 && cfg.Target < limit {
		limit = cfg.Target
	}
	if cfg.Cap > 0 && cfg.Cap < limit {
		limit = cfg.Cap
	}
	return limit
}

// topByMagnitude keeps the limit highest-magnitude indices, returned in
// ascending input order. idx must be sorted ascending on entry.
func topByMagnitude(events []GeoEvent, idx []int, limit int) []int {
	ranked := make([]int, len(idx))
	copy(ranked, idx)
	sort.SliceStable(ranked, func(a, b int) bool {
		return events[ranked[a]].Magnitude > events[ranked[b]].Magnitude
	})
	ranked = ranked[:limit]
	sort.Ints(ranked)
	return ranked
}
