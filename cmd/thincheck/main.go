// Command thincheck runs a GeoJSON feed fixture through the filter pipeline
// and spatial thinning, then verifies the invariants each stage promises:
// feed integrity, filter ordering and bounds, and thinning caps and cell
// representatives. It prints a pass/fail report and exits non-zero on failure.
//
// Usage:
//
//	go run ./cmd/thincheck \
//	  -feed data/mock/feed_240426_10k.geojson \
//	  -at 2024-04-27T06:00:00Z -days 3 \
//	  -target 2500 -warn 5000 -cap 10000 -grid 1
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/storm-geo-poller/internal/adapter/usgs"
	"github.com/couchcryptid/storm-geo-poller/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	feedPath string
	at       time.Time
	filter   domain.FilterOptions
	thin     domain.ThinningConfig
}

func main() {
	feed := flag.String("feed", "", "path to a GeoJSON FeatureCollection fixture")
	at := flag.String("at", "", "reference time for the time-range filter (RFC 3339, default now)")
	days := flag.Float64("days", 0, "time range in days (0 disables)")
	hideMinor := flag.Bool("hide-minor", false, "drop minor events")
	limit := flag.Int("limit", 0, "post-filter limit (0 disables)")
	target := flag.Int("target", 2500, "thinning target")
	warn := flag.Int("warn", 5000, "thinning warn threshold")
	capN := flag.Int("cap", 10000, "thinning hard cap")
	grid := flag.Float64("grid", 1, "thinning grid cell size in degrees")
	flag.Parse()

	if *feed == "" {
		flag.Usage()
		os.Exit(1)
	}

	ref := time.Now().UTC()
	if *at != "" {
		t, ok := domain.ParseTimestamp(*at)
		if !ok {
			fmt.Fprintf(os.Stderr, "FATAL: invalid -at %q\n", *at)
			os.Exit(1)
		}
		ref = t
	}

	opts := options{
		feedPath: *feed,
		at:       ref,
		filter: domain.FilterOptions{
			TimeRangeDays: *days,
			Severity: &domain.SeverityFilter{
				ShowMinor:        !*hideMinor,
				ShowMajor:        true,
				ShowCatastrophic: true,
			},
			Thresholds: domain.DefaultThresholds(),
			Limit:      *limit,
		},
		thin: domain.ThinningConfig{Target: *target, Warn: *warn, Cap: *capN, GridSizeDeg: *grid},
	}

	if code := run(opts); code != 0 {
		os.Exit(code)
	}
}

func run(opts options) int {
	fmt.Println("=== Geo Event Filter and Thinning Validation ===")
	fmt.Println()

	data, err := os.ReadFile(opts.feedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read feed: %v\n", err)
		return 1
	}
	events, skipped, err := usgs.Decode(data, opts.filter.Thresholds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	filtered := domain.ApplyFilters(events, opts.filter, opts.at)
	thinned, stats := domain.Thin(filtered, opts.thin)

	phases := []*phase{
		validateFeed(events, opts.filter.Thresholds),
		validateFilter(events, filtered, opts),
		validateThinning(filtered, thinned, stats, opts.thin),
	}

	// ── Report results ──
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Events: %d decoded (%d skipped), %d after filters, %d after thinning\n",
		len(events), skipped, len(filtered), len(thinned))
	fmt.Printf("Thinning: %d cells, %d dropped, over warn=%t, took %s\n",
		stats.Cells, stats.Dropped, stats.OverWarn, stats.Duration)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Feed Integrity ──

func validateFeed(events []domain.GeoEvent, thresholds domain.SeverityThresholds) *phase {
	p := &phase{name: "Phase 1: Feed Integrity"}

	seen := make(map[string]int, len(events))
	for i, e := range events {
		if j, dup := seen[e.ID]; dup {
			p.errorf("event %d: duplicate id %q (first at %d)", i, e.ID, j)
		} else {
			seen[e.ID] = i
		}
		if math.IsNaN(e.Lat) || e.Lat < -90 || e.Lat > 90 {
			p.errorf("event %q: latitude %v out of range", e.ID, e.Lat)
		}
		if math.IsNaN(e.Lng) || e.Lng < -180 || e.Lng > 180 {
			p.errorf("event %q: longitude %v out of range", e.ID, e.Lng)
		}
		if _, ok := domain.ParseTimestamp(e.Timestamp); !ok {
			p.errorf("event %q: unparseable timestamp %q", e.ID, e.Timestamp)
		}
		if want := string(thresholds.Classify(e.Magnitude)); e.Category != want {
			p.errorf("event %q: category %q, magnitude %g classifies as %q", e.ID, e.Category, e.Magnitude, want)
		}
	}
	return p
}

// ── Phase 2: Filter Pipeline ──

func validateFilter(in, out []domain.GeoEvent, opts options) *phase {
	p := &phase{name: "Phase 2: Filter Pipeline"}

	if opts.filter.Limit > 0 && len(out) > opts.filter.Limit {
		p.errorf("filtered %d events, limit is %d", len(out), opts.filter.Limit)
	}
	if len(out) > len(in) {
		p.errorf("filtered %d events from %d inputs", len(out), len(in))
	}

	// Output must be a subsequence of the input.
	j := 0
	for _, e := range out {
		for j < len(in) && in[j].ID != e.ID {
			j++
		}
		if j == len(in) {
			p.errorf("event %q out of input order or not in input", e.ID)
			break
		}
		j++
	}

	var cutoff time.Time
	if opts.filter.TimeRangeDays > 0 {
		cutoff = opts.at.Add(-time.Duration(opts.filter.TimeRangeDays * float64(24*time.Hour)))
	}
	for _, e := range out {
		if !cutoff.IsZero() {
			ts, _ := domain.ParseTimestamp(e.Timestamp)
			if ts.Before(cutoff) {
				p.errorf("event %q at %s is before cutoff %s", e.ID, e.Timestamp, cutoff.Format(time.RFC3339))
			}
		}
		if f := opts.filter.Severity; f != nil && !f.Allows(opts.filter.Thresholds.Classify(e.Magnitude)) {
			p.errorf("event %q with magnitude %g passed a disabled severity", e.ID, e.Magnitude)
		}
	}
	return p
}

// ── Phase 3: Spatial Thinning ──

func validateThinning(in, out []domain.GeoEvent, stats domain.ThinStats, cfg domain.ThinningConfig) *phase {
	p := &phase{name: "Phase 3: Spatial Thinning"}

	if cfg.Cap > 0 && len(out) > cfg.Cap {
		p.errorf("thinned to %d events, cap is %d", len(out), cfg.Cap)
	}
	if cfg.Target > 0 && len(out) > cfg.Target {
		p.errorf("thinned to %d events, target is %d", len(out), cfg.Target)
	}
	if stats.Before != len(in) || stats.After != len(out) || stats.Dropped != len(in)-len(out) {
		p.errorf("stats %+v disagree with %d in / %d out", stats, len(in), len(out))
	}
	if want := cfg.Warn > 0 && len(in) > cfg.Warn; stats.OverWarn != want {
		p.errorf("over-warn flag %t, want %t", stats.OverWarn, want)
	}

	if cfg.GridSizeDeg <= 0 {
		return p
	}

	// At most one survivor per cell, and it is the cell maximum.
	type cell struct{ row, col int64 }
	key := func(e domain.GeoEvent) cell {
		return cell{int64(math.Floor(e.Lat / cfg.GridSizeDeg)), int64(math.Floor(e.Lng / cfg.GridSizeDeg))}
	}
	maxMag := make(map[cell]float64, len(in))
	for _, e := range in {
		k := key(e)
		if m, ok := maxMag[k]; !ok || e.Magnitude > m {
			maxMag[k] = e.Magnitude
		}
	}
	if stats.Cells != len(maxMag) {
		p.errorf("stats report %d cells, input occupies %d", stats.Cells, len(maxMag))
	}

	occupied := make(map[cell]string, len(out))
	for _, e := range out {
		k := key(e)
		if other, dup := occupied[k]; dup {
			p.errorf("cell %v has two survivors: %q and %q", k, other, e.ID)
		}
		occupied[k] = e.ID
		if e.Magnitude < maxMag[k] {
			p.errorf("event %q (mag %g) is not its cell maximum %g", e.ID, e.Magnitude, maxMag[k])
		}
	}
	return p
}
