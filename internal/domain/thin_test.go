package domain

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nan() float64 { return math.NaN() }

// randomEvents generates a reproducible global scatter with magnitudes in [0, 9).
func randomEvents(n int, seed int64) []GeoEvent {
	r := rand.New(rand.NewSource(seed))
	events := make([]GeoEvent, n)
	for i := range events {
		events[i] = GeoEvent{
			ID:        fmt.Sprintf("evt-%d", i),
			Lat:       r.Float64()*180 - 90,
			Lng:       r.Float64()*360 - 180,
			Magnitude: math.Round(r.Float64()*90) / 10,
		}
	}
	return events
}

func TestThin_TwoCellsScenario(t *testing.T) {
	events := []GeoEvent{
		{ID: "a", Lat: 0.2, Lng: 0.3, Magnitude: 6},
		{ID: "b", Lat: 0.4, Lng: 1.2, Magnitude: 5},
		{ID: "c", Lat: 0.6, Lng: 0.8, Magnitude: 5},
		{ID: "d", Lat: 0.3, Lng: 1.1, Magnitude: 3},
		{ID: "e", Lat: 0.9, Lng: 0.5, Magnitude: 3},
	}

	got, stats := Thin(events, ThinningConfig{Target: 3, Cap: 4, GridSizeDeg: 1})

	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b"}, ids(got))
	assert.Equal(t, 5, stats.Before)
	assert.Equal(t, 2, stats.After)
	assert.Equal(t, 3, stats.Dropped)
	assert.Equal(t, 2, stats.Cells)
}

func TestThin_TieBreakEarliestWins(t *testing.T) {
	events := []GeoEvent{
		{ID: "first", Lat: 1.1, Lng: 1.1, Magnitude: 4},
		{ID: "second", Lat: 1.2, Lng: 1.2, Magnitude: 4},
		{ID: "third", Lat: 1.3, Lng: 1.3, Magnitude: 2},
	}

	got, _ := Thin(events, ThinningConfig{Target: 10, Cap: 10, GridSizeDeg: 1})

	assert.Equal(t, []string{"first"}, ids(got))
}

func TestThin_DuplicateIDsAreDistinct(t *testing.T) {
	events := []GeoEvent{
		{ID: "dup", Lat: 10.5, Lng: 10.5, Magnitude: 4},
		{ID: "dup", Lat: -10.5, Lng: -10.5, Magnitude: 5},
	}

	got, _ := Thin(events, ThinningConfig{Target: 10, Cap: 10, GridSizeDeg: 1})

	assert.Len(t, got, 2)
}

func TestThin_NegativeCoordinatesFloor(t *testing.T) {
	// -0.5 and 0.5 straddle zero and must land in different cells.
	events := []GeoEvent{
		{ID: "neg", Lat: -0.5, Lng: -0.5, Magnitude: 1},
		{ID: "pos", Lat: 0.5, Lng: 0.5, Magnitude: 2},
	}

	got, stats := Thin(events, ThinningConfig{GridSizeDeg: 1})

	assert.Equal(t, []string{"neg", "pos"}, ids(got))
	assert.Equal(t, 2, stats.Cells)
}

func TestThin_TargetKeepsHighestMagnitudes(t *testing.T) {
	events := []GeoEvent{
		{ID: "m1", Lat: 0.5, Lng: 0.5, Magnitude: 1},
		{ID: "m9", Lat: 10.5, Lng: 0.5, Magnitude: 9},
		{ID: "m5", Lat: 20.5, Lng: 0.5, Magnitude: 5},
		{ID: "m7", Lat: 30.5, Lng: 0.5, Magnitude: 7},
	}

	got, stats := Thin(events, ThinningConfig{Target: 2, Cap: 3, GridSizeDeg: 1})

	// Survivors keep input order.
	assert.Equal(t, []string{"m9", "m7"}, ids(got))
	assert.Equal(t, 2, stats.Dropped)
}

func TestThin_CapBelowTarget(t *testing.T) {
	events := randomEvents(200, 7)

	got, _ := Thin(events, ThinningConfig{Target: 100, Cap: 10, GridSizeDeg: 0.5})

	assert.Len(t, got, 10)
}

func TestThin_NoGridStillBounded(t *testing.T) {
	events := randomEvents(50, 3)

	got, stats := Thin(events, ThinningConfig{Target: 20, Cap: 30})

	assert.Len(t, got, 20)
	assert.Equal(t, 50, stats.Cells)
}

func TestThin_WarnFlag(t *testing.T) {
	events := randomEvents(11, 1)

	_, over := Thin(events, ThinningConfig{Warn: 10, GridSizeDeg: 1})
	_, under := Thin(events, ThinningConfig{Warn: 11, GridSizeDeg: 1})

	assert.True(t, over.OverWarn)
	assert.False(t, under.OverWarn)
}

func TestThin_EmptyInput(t *testing.T) {
	got, stats := Thin(nil, ThinningConfig{Target: 5, Cap: 5, GridSizeDeg: 1})

	assert.Empty(t, got)
	assert.Equal(t, 0, stats.Dropped)
}

func TestThin_CapProperty(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		r := rand.New(rand.NewSource(seed))
		events := randomEvents(r.Intn(2000), seed)
		cfg := ThinningConfig{
			Target:      r.Intn(300),
			Cap:         1 + r.Intn(300),
			GridSizeDeg: r.Float64() * 5,
		}

		got, _ := Thin(events, cfg)

		require.LessOrEqual(t, len(got), cfg.Cap, "seed %d cfg %+v", seed, cfg)
	}
}

func TestThin_Deterministic(t *testing.T) {
	events := randomEvents(3000, 99)
	cfg := ThinningConfig{Target: 400, Cap: 500, GridSizeDeg: 2}

	first, _ := Thin(events, cfg)
	for i := 0; i < 5; i++ {
		again, _ := Thin(events, cfg)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("run %d differs (-first +again):\n%s", i, diff)
		}
	}
}

func TestThin_RepresentativeIsCellMaximum(t *testing.T) {
	events := randomEvents(5000, 11)
	const grid = 10.0
	cfg := ThinningConfig{GridSizeDeg: grid}

	got, _ := Thin(events, cfg)

	maxByCell := make(map[cellKey]float64)
	for _, e := range events {
		k := cellKey{int64(math.Floor(e.Lat / grid)), int64(math.Floor(e.Lng / grid))}
		if m, ok := maxByCell[k]; !ok || e.Magnitude > m {
			maxByCell[k] = e.Magnitude
		}
	}

	require.Len(t, got, len(maxByCell))
	for _, e := range got {
		k := cellKey{int64(math.Floor(e.Lat / grid)), int64(math.Floor(e.Lng / grid))}
		assert.Equal(t, maxByCell[k], e.Magnitude, "event %s", e.ID)
	}
}

func TestThin_DoesNotMutateInput(t *testing.T) {
	events := randomEvents(100, 5)
	snapshot := append([]GeoEvent(nil), events...)

	_, _ = Thin(events, ThinningConfig{Target: 5, Cap: 5, GridSizeDeg: 3})

	assert.Equal(t, snapshot, events)
}

func benchmarkThin(b *testing.B, n int) {
	events := randomEvents(n, 1)
	cfg := ThinningConfig{Target: 1500, Warn: 3000, Cap: 2000, GridSizeDeg: 0.5}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Thin(events, cfg)
	}
}

func BenchmarkThin2500(b *testing.B)  { benchmarkThin(b, 2500) }
func BenchmarkThin10000(b *testing.B) { benchmarkThin(b, 10000) }
