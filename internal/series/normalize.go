// v4
// internal/series/normalize.go
package series

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultWindowSize bounds a normalized series to 24 hours of 15-minute
// averages.
const DefaultWindowSize = 96

// GapPolicy selects how gap buckets (missing, non-numeric or NaN values)
// are materialized in the normalized series.
type GapPolicy string

const (
	// GapZero coerces gaps to 0. This mirrors the dashboard's historical
	// behavior: entries are retained, never dropped, with a zero value.
	GapZero GapPolicy = "zero"
	// GapPrevious forward-fills gaps from the previous sample; leading
	// gaps take the first known value instead.
	GapPrevious GapPolicy = "previous"
)

// Valid reports whether p names a known policy.
func (p GapPolicy) Valid() bool { return p == GapZero || p == GapPrevious }

// ParseGapPolicy maps a config string onto a policy. The empty string
// selects the default zero policy.
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(GapZero):
		return GapZero, nil
	case string(GapPrevious), "ffill", "forward":
		return GapPrevious, nil
	default:
		return "", fmt.Errorf("unknown gap policy %q", s)
	}
}

// RawSample is one upstream response item. The pollutant value lives under
// a field named by the request's parameter key, alongside "timestamp" and
// an optional "deviceid".
type RawSample map[string]any

type entry struct {
	sample Sample
	gap    bool
}

// Normalize converts raw upstream items into an ascending, bounded series
// using the default window and zero gap policy.
func Normalize(raw []RawSample, paramKey string) Series {
	return NormalizeWith(raw, paramKey, DefaultWindowSize, GapZero)
}

// NormalizeWith maps each raw item to a sample, sorts ascending by
// timestamp and keeps only the chronologically last `window` entries.
// Items whose timestamp cannot be parsed are skipped; items whose value is
// a gap are retained and materialized per the policy. The result is
// deterministic for identical input and idempotent on already-sorted,
// already-bounded input.
func NormalizeWith(raw []RawSample, paramKey string, window int, policy GapPolicy) Series {
	if window <= 0 {
		window = DefaultWindowSize
	}
	if !policy.Valid() {
		policy = GapZero
	}

	entries := make([]entry, 0, len(raw))
	for _, item := range raw {
		ts, err := toTime(item["timestamp"])
		if err != nil || ts.IsZero() {
			continue
		}
		v, ok := toValue(item[paramKey])
		entries = append(entries, entry{sample: Sample{Timestamp: ts, Value: v}, gap: !ok})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].sample.Timestamp.Before(entries[j].sample.Timestamp)
	})
	if len(entries) > window {
		entries = entries[len(entries)-window:]
	}

	if policy == GapPrevious {
		fillGaps(entries)
	}

	out := Series{Source: SourceLive, Samples: make([]Sample, len(entries))}
	for i, e := range entries {
		out.Samples[i] = e.sample
	}
	return out
}

// fillGaps forward-fills gap entries from the previous known value, then
// back-fills leading gaps from the first known one. A series with no known
// value at all keeps its zeros.
func fillGaps(entries []entry) {
	last := math.NaN()
	for i := range entries {
		if entries[i].gap {
			if !math.IsNaN(last) {
				entries[i].sample.Value = last
			}
			continue
		}
		last = entries[i].sample.Value
	}
	if math.IsNaN(last) {
		return
	}
	first := math.NaN()
	for i := range entries {
		if !entries[i].gap {
			first = entries[i].sample.Value
			break
		}
	}
	for i := range entries {
		if !entries[i].gap {
			break
		}
		entries[i].sample.Value = first
	}
}

// toValue applies the permissive numeric parse used for pollutant fields.
// Missing, non-numeric, NaN and infinite inputs report ok=false and a zero
// value so the caller can retain the entry instead of raising.
func toValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// upstream timestamps arrive as RFC3339, as the API's "2006-01-02 15:04:05"
// bucket labels, as the request-style "2006-01-02T15:04" or as unix s/ms.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromUnix(n), nil
		}
		return time.Time{}, fmt.Errorf("bad timestamp string: %q", s)
	case float64:
		return fromUnix(int64(t)), nil
	case int64:
		return fromUnix(t), nil
	default:
		return time.Time{}, fmt.Errorf("cannot parse time from %T", v)
	}
}

func fromUnix(n int64) time.Time {
	if n > 1_000_000_000_000 { // likely milliseconds
		return time.Unix(0, n*int64(time.Millisecond))
	}
	return time.Unix(n, 0)
}
