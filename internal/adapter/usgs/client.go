package usgs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/storm-geo-poller/internal/domain"
	geojson "github.com/paulmach/go.geojson"
)

// DefaultFeedURL is the USGS all-earthquakes-past-week summary feed.
const DefaultFeedURL = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_week.geojson"

// maxBodyBytes bounds how much of a feed response is read into memory.
const maxBodyBytes = 64 << 20

// Client implements poller.Fetcher against a USGS GeoJSON summary feed.
type Client struct {
	url        string
	httpClient *http.Client
	thresholds domain.SeverityThresholds
	maxBody    int64
	logger     *slog.Logger
}

// NewClient creates a feed client. Events are categorized with thresholds.
func NewClient(url string, timeout time.Duration, thresholds domain.SeverityThresholds, logger *slog.Logger) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		thresholds: thresholds,
		maxBody:    maxBodyBytes,
		logger:     logger,
	}
}

// Fetch downloads the feed and converts each point feature to a GeoEvent.
// Features without a point geometry or an id are skipped.
func (c *Client) Fetch(ctx context.Context) ([]domain.GeoEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("feed exceeds %d bytes", c.maxBody)
	}

	events, skipped, err := Decode(data, c.thresholds)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		c.logger.Debug("skipped feed features", "skipped", skipped, "kept", len(events))
	}
	return events, nil
}

// Decode converts a GeoJSON FeatureCollection body into events and reports how
// many features were skipped for lacking a point geometry or an id.
func Decode(data []byte, thresholds domain.SeverityThresholds) ([]domain.GeoEvent, int, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}

	events := make([]domain.GeoEvent, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		ev, ok := toEvent(f, thresholds)
		if !ok {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, skipped, nil
}

func toEvent(f *geojson.Feature, thresholds domain.SeverityThresholds) (domain.GeoEvent, bool) {
	if f == nil || f.Geometry == nil || !f.Geometry.IsPoint() || len(f.Geometry.Point) < 2 {
		return domain.GeoEvent{}, false
	}
	id := featureID(f)
	if id == "" {
		return domain.GeoEvent{}, false
	}

	// GeoJSON positions are [lng, lat, depth].
	mag := f.PropertyMustFloat64("mag", 0)
	ev := domain.GeoEvent{
		ID:        id,
		Lat:       f.Geometry.Point[1],
		Lng:       f.Geometry.Point[0],
		Magnitude: mag,
		Category:  string(thresholds.Classify(mag)),
		Status:    f.PropertyMustString("status", ""),
		Source:    source(f),
	}
	if ms, err := f.PropertyFloat64("time"); err == nil {
		ev.Timestamp = domain.FormatTimestamp(time.UnixMilli(int64(ms)))
	}
	return ev, true
}

// source prefers the contributing network, falling back to the first entry
// of the comma-delimited sources list.
func source(f *geojson.Feature) string {
	if net := f.PropertyMustString("net", ""); net != "" {
		return net
	}
	for _, s := range strings.Split(f.PropertyMustString("sources", ""), ",") {
		if s != "" {
			return s
		}
	}
	return ""
}

func featureID(f *geojson.Feature) string {
	switch id := f.ID.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case nil:
		if code := f.PropertyMustString("code", ""); code != "" {
			return f.PropertyMustString("net", "") + code
		}
	}
	return ""
}
