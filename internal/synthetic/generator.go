// Package synthetic v2
// file: internal/synthetic/generator.go
package synthetic

import (
	"math/rand"
	"time"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/series"
)

const (
	// Hours covers one day at hourly cadence.
	Hours = 24

	baseFloor = 40.0
	baseStep  = 5.0
	peakLift  = 35.0
	noiseSpan = 15.0
)

// Generate produces a plausible 24-sample hourly series for the given
// site, ending at the hour containing now. It is deterministic for a
// fixed (siteID, hour) pair so repeated calls within the same hour
// render identically.
func Generate(siteID string, now time.Time) series.Series {
	mod := digitsMod(siteID, 10)
	base := baseFloor + float64(mod)*baseStep

	end := now.Truncate(time.Hour)
	r := rand.New(rand.NewSource(end.Unix() + int64(mod)))

	s := series.Series{Source: series.SourceSynthetic, Samples: make([]series.Sample, 0, Hours)}
	for i := Hours - 1; i >= 0; i-- {
		ts := end.Add(-time.Duration(i) * time.Hour)
		v := base
		if peakHour(ts.Hour()) {
			v += peakLift
		}
		v += r.Float64()*2*noiseSpan - noiseSpan
		if v < 0 {
			v = 0
		}
		s.Samples = append(s.Samples, series.Sample{Timestamp: ts, Value: v})
	}
	return s
}

// peakHour reports whether h falls in the morning or evening rush window.
func peakHour(h int) bool {
	return (h >= 7 && h <= 10) || (h >= 17 && h <= 20)
}

// digitsMod folds the digits of id into a small bucket. Ids without
// digits land in bucket 0.
func digitsMod(id string, m int) int {
	n := 0
	for _, c := range id {
		if c >= '0' && c <= '9' {
			n = (n*10 + int(c-'0')) % 1_000_000_007
		}
	}
	return n % m
}
