// v2
// internal/series/series.go
package series

import "time"

// Source tags where a series came from so consumers can tell degraded
// mode apart from real telemetry.
type Source string

const (
	// SourceLive marks samples fetched from the upstream API.
	SourceLive Source = "live"
	// SourceSynthetic marks generated stand-in samples used during outages.
	SourceSynthetic Source = "synthetic"
)

// Sample is one measurement point. Value is expected to be >= 0 but the
// upstream does not enforce it; malformed values arrive coerced to 0.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Series is an ascending-by-timestamp sequence of samples bounded to the
// most recent window. It is rebuilt from scratch on every fetch cycle;
// there is no incremental merge with previous cycles.
type Series struct {
	Samples []Sample `json:"samples"`
	Source  Source   `json:"source"`
}

// Len returns the number of samples.
func (s Series) Len() int { return len(s.Samples) }

// Empty reports whether the series holds no samples.
func (s Series) Empty() bool { return len(s.Samples) == 0 }

// Last returns the most recent sample, if any.
func (s Series) Last() (Sample, bool) {
	if len(s.Samples) == 0 {
		return Sample{}, false
	}
	return s.Samples[len(s.Samples)-1], true
}

// Values returns the sample values in series order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Samples))
	for i, sm := range s.Samples {
		out[i] = sm.Value
	}
	return out
}

// Clone returns a defensive copy safe for the caller to mutate.
func (s Series) Clone() Series {
	out := Series{Source: s.Source}
	if len(s.Samples) > 0 {
		out.Samples = make([]Sample, len(s.Samples))
		copy(out.Samples, s.Samples)
	}
	return out
}
