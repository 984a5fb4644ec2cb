package usgs

import (
	"fmt"

	"github.com/couchcryptid/storm-geo-poller/internal/domain"
	geojson "github.com/paulmach/go.geojson"
)

// Encode renders events as a FeatureCollection in the summary feed layout.
// Category is not written; consumers derive it from mag.
func Encode(events []domain.GeoEvent) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, ev := range events {
		f := geojson.NewPointFeature([]float64{ev.Lng, ev.Lat})
		f.ID = ev.ID
		f.SetProperty("mag", ev.Magnitude)
		if t, ok := domain.ParseTimestamp(ev.Timestamp); ok {
			f.SetProperty("time", t.UnixMilli())
		}
		if ev.Status != "" {
			f.SetProperty("status", ev.Status)
		}
		if ev.Source != "" {
			f.SetProperty("net", ev.Source)
			f.SetProperty("sources", ","+ev.Source+",")
		}
		fc.AddFeature(f)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode feed: %w", err)
	}
	return data, nil
}
