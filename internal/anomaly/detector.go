// Package anomaly v3
// file: internal/anomaly/detector.go
package anomaly

import (
	"math"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/series"
)

// DefaultSigma is the z-score multiplier used when a Detector is not
// configured explicitly.
const DefaultSigma = 3.0

// Stats summarizes the distribution a detection ran against.
type Stats struct {
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"stdDev"`
	Threshold float64 `json:"threshold"`
	Count     int     `json:"count"`
}

// Detector flags samples sitting above mean + Sigma*stddev.
// Equality with the threshold is not an anomaly.
type Detector struct {
	Sigma float64
}

func New() Detector { return Detector{Sigma: DefaultSigma} }

// Detect returns the anomalous samples of s in chronological order.
// An empty series yields an empty result and zeroed stats.
func (d Detector) Detect(s series.Series) ([]series.Sample, Stats) {
	sigma := d.Sigma
	if sigma <= 0 {
		sigma = DefaultSigma
	}
	vals := s.Values()
	if len(vals) == 0 {
		return []series.Sample{}, Stats{}
	}
	m, sd := meanStd(vals)
	thresh := m + sigma*sd
	out := make([]series.Sample, 0)
	for _, sm := range s.Samples {
		if sm.Value > thresh {
			out = append(out, sm)
		}
	}
	return out, Stats{Mean: m, StdDev: sd, Threshold: thresh, Count: len(out)}
}

// Detect runs a default detector over s.
func Detect(s series.Series) []series.Sample {
	out, _ := New().Detect(s)
	return out
}

func mean(a []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	var s float64
	for _, v := range a {
		s += v
	}
	return s / float64(len(a))
}

func meanStd(a []float64) (float64, float64) {
	if len(a) == 0 {
		return 0, 0
	}
	m := mean(a)
	var s float64
	for _, v := range a {
		d := v - m
		s += d * d
	}
	return m, math.Sqrt(s / float64(len(a)))
}
