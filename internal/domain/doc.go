// Package domain models geo events plotted on the situational map and the
// pure transformations applied to them before rendering.
//
// # Data Source
//
// Events come from an upstream feed (USGS earthquake GeoJSON by default) via
// a fetcher adapter. Each event carries a WGS-84 coordinate, a magnitude, an
// ISO-8601 timestamp and opaque status/source metadata that is passed through
// untouched.
//
// # Severity classification
//
// Magnitude maps onto three buckets used by the severity filter:
//
//	minor:        magnitude < Major
//	major:        Major <= magnitude < Catastrophic
//	catastrophic: magnitude >= Catastrophic
//
// The cutoffs default to 5.0 and 7.0, roughly the "moderate" and "major"
// boundaries of the USGS earthquake magnitude classes. They are configurable
// because other feeds use other significance scales.
//
// # Filter pipeline
//
// [ApplyFilters] runs four stages in a fixed order: time range, severity,
// bounding box, limit. Unset options pass events through unchanged. Events
// with unparseable timestamps fail the time-range stage.
//
// # Spatial thinning
//
// [Thin] caps the number of rendered points. Events are bucketed into a
// lat/lng grid of GridSizeDeg cells in a single pass; each cell keeps its
// highest-magnitude event (earliest wins ties). If the surviving
// representatives still exceed Target, the top Target by magnitude are kept.
// The result never exceeds Cap. Survivors keep their original relative order.
package domain
