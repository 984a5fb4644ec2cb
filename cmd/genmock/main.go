// Command genmock generates a synthetic GeoJSON summary feed for load and
// thinning tests. Events are scattered around a handful of hotspots so that
// grid thinning has dense cells to reduce, with a sparse global background.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -n 10000 -seed 42 \
//	  -out data/mock/feed_240426_10k.geojson
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/couchcryptid/storm-geo-poller/internal/adapter/usgs"
	"github.com/couchcryptid/storm-geo-poller/internal/domain"
	"github.com/jonboulle/clockwork"
)

var refTime = time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC)

// hotspot is a center events cluster around.
type hotspot struct {
	name     string
	lat, lng float64
	spread   float64 // standard deviation in degrees
	weight   float64
}

var hotspots = []hotspot{
	{name: "japan-trench", lat: 38.3, lng: 142.4, spread: 1.5, weight: 0.25},
	{name: "alaska", lat: 61.2, lng: -150.0, spread: 2.0, weight: 0.2},
	{name: "california", lat: 36.5, lng: -120.0, spread: 1.2, weight: 0.2},
	{name: "chile", lat: -30.0, lng: -71.5, spread: 2.5, weight: 0.15},
	{name: "indonesia", lat: -3.0, lng: 120.0, spread: 3.0, weight: 0.1},
}

var networks = []string{"us", "ak", "nc", "ci", "hv", "uw"}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	n := flag.Int("n", 2500, "number of events to generate")
	seed := flag.Uint64("seed", 42, "random seed")
	days := flag.Float64("days", 7, "spread event times over this many days before the reference time")
	out := flag.String("out", "", "output path for the GeoJSON fixture")
	flag.Parse()

	if *out == "" || *n <= 0 || *days <= 0 {
		flag.Usage()
		return fmt.Errorf("missing or invalid flags: -out, -n, -days")
	}

	// Fixed clock for reproducible timestamps.
	domain.SetClock(clockwork.NewFakeClockAt(refTime))
	defer domain.SetClock(nil)

	events := generate(*n, *seed, *days)

	data, err := usgs.Encode(events)
	if err != nil {
		return err
	}
	if err := writeFile(*out, data); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote %d events to %s", len(events), *out)

	printStats(events)
	return nil
}

func generate(n int, seed uint64, days float64) []domain.GeoEvent {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	now := domain.Now()
	thresholds := domain.DefaultThresholds()
	window := time.Duration(days * float64(24*time.Hour))

	events := make([]domain.GeoEvent, n)
	for i := range events {
		lat, lng := position(r)
		mag := magnitude(r)
		at := now.Add(-time.Duration(r.Int64N(int64(window))))

		status := "automatic"
		if r.Float64() < 0.6 {
			status = "reviewed"
		}
		net := networks[r.IntN(len(networks))]

		events[i] = domain.GeoEvent{
			ID:        fmt.Sprintf("%s%08d", net, i),
			Lat:       lat,
			Lng:       lng,
			Magnitude: mag,
			Category:  string(thresholds.Classify(mag)),
			Timestamp: domain.FormatTimestamp(at.Truncate(time.Millisecond)),
			Status:    status,
			Source:    net,
		}
	}
	return events
}

// position picks a hotspot by weight, or a uniform background point for the
// remaining probability mass.
func position(r *rand.Rand) (float64, float64) {
	x := r.Float64()
	for _, h := range hotspots {
		if x < h.weight {
			lat := clamp(h.lat+r.NormFloat64()*h.spread, -90, 90)
			lng := wrapLng(h.lng + r.NormFloat64()*h.spread)
			return round(lat, 4), round(lng, 4)
		}
		x -= h.weight
	}
	return round(r.Float64()*180-90, 4), round(r.Float64()*360-180, 4)
}

// magnitude follows a Gutenberg-Richter style distribution: each unit step up
// is ten times rarer, starting at 1.0 and capped at 9.5.
func magnitude(r *rand.Rand) float64 {
	return round(math.Min(1+r.ExpFloat64()/math.Ln10, 9.5), 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func wrapLng(v float64) float64 {
	for v < -180 {
		v += 360
	}
	for v >= 180 {
		v -= 360
	}
	return v
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

type sourceCount struct {
	source string
	count  int
}

func printStats(events []domain.GeoEvent) {
	categories := map[string]int{}
	sources := map[string]int{}
	var maxMag float64
	for i := range events {
		categories[events[i].Category]++
		sources[events[i].Source]++
		maxMag = math.Max(maxMag, events[i].Magnitude)
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d\n", len(events))
	fmt.Printf("By category: minor=%d, major=%d, catastrophic=%d\n",
		categories["minor"], categories["major"], categories["catastrophic"])
	fmt.Printf("Max magnitude: %g\n", maxMag)

	sc := make([]sourceCount, 0, len(sources))
	for s, c := range sources {
		sc = append(sc, sourceCount{s, c})
	}
	sort.Slice(sc, func(i, j int) bool { return sc[i].count > sc[j].count })
	fmt.Printf("Sources (%d): ", len(sc))
	for _, s := range sc {
		fmt.Printf("%s=%d ", s.source, s.count)
	}
	fmt.Println()

	for _, grid := range []float64{0.5, 1, 2} {
		_, stats := domain.Thin(events, domain.ThinningConfig{Target: 2500, Cap: 10000, GridSizeDeg: grid})
		fmt.Printf("Thin target=2500 grid=%g: %d -> %d (%d cells)\n", grid, stats.Before, stats.After, stats.Cells)
	}
}
