package domain

// Severity is the magnitude-derived bucket an event falls into.
type Severity string

const (
	SeverityMinor        Severity = "minor"
	SeverityMajor        Severity = "major"
	SeverityCatastrophic Severity = "catastrophic"
)

// Default magnitude cutoffs. See the package documentation.
const (
	DefaultMajorThreshold        = 5.0
	DefaultCatastrophicThreshold = 7.0
)

// SeverityThresholds holds the lower bounds of the major and catastrophic
// buckets. A zero value selects the defaults.
type SeverityThresholds struct {
	Major        float64
	Catastrophic float64
}

// DefaultThresholds returns the built-in severity cutoffs.
func DefaultThresholds() SeverityThresholds {
	return SeverityThresholds{
		Major:        DefaultMajorThreshold,
		Catastrophic: DefaultCatastrophicThreshold,
	}
}

func (t SeverityThresholds) orDefault() SeverityThresholds {
	if t == (SeverityThresholds{}) {
		return DefaultThresholds()
	}
	return t
}

// Classify maps a magnitude to its severity bucket.
func (t SeverityThresholds) Classify(magnitude float64) Severity {
	t = t.orDefault()
	switch {
	case magnitude >= t.Catastrophic:
		return SeverityCatastrophic
	case magnitude >= t.Major:
		return SeverityMajor
	default:
		return SeverityMinor
	}
}

// SeverityFilter toggles each bucket on or off.
type SeverityFilter struct {
	ShowMinor        bool `json:"showMinor"`
	ShowMajor        bool `json:"showMajor"`
	ShowCatastrophic bool `json:"showCatastrophic"`
}

// Allows reports whether events in bucket s pass the filter.
func (f SeverityFilter) Allows(s Severity) bool {
	switch s {
	case SeverityMinor:
		return f.ShowMinor
	case SeverityMajor:
		return f.ShowMajor
	case SeverityCatastrophic:
		return f.ShowCatastrophic
	default:
		return false
	}
}
