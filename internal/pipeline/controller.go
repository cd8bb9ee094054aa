// v6
// file: internal/pipeline/controller.go
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/anomaly"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/atmos"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/breaker"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/notify"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/observability"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/series"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/synthetic"
)

// DefaultInterval is the periodic refresh cadence while a view is active.
const DefaultInterval = 60 * time.Second

const (
	outcomeLive      = "live"
	outcomeSynthetic = "synthetic"
	outcomeEmpty     = "empty"
	outcomeStale     = "stale"
)

// Fetcher is the upstream boundary the controller drives.
type Fetcher interface {
	FetchSeries(ctx context.Context, siteID string, pol atmos.Pollutant, start, end time.Time) ([]series.RawSample, error)
}

// Snapshot is the published view state: the current series, its
// anomalies, and the parameters that produced them. Generation is a
// monotonic cycle counter; consumers can use it to detect staleness.
type Snapshot struct {
	Params     QueryParams     `json:"params"`
	Series     series.Series   `json:"series"`
	Anomalies  []series.Sample `json:"anomalies"`
	Stats      anomaly.Stats   `json:"stats"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Generation uint64          `json:"generation"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Series = s.Series.Clone()
	out.Anomalies = append([]series.Sample(nil), s.Anomalies...)
	return out
}

type Config struct {
	// Interval is the periodic refresh cadence.
	Interval time.Duration
	// Window bounds how many recent samples are retained.
	Window int
	// GapFill selects how missing-bucket values are filled.
	GapFill series.GapPolicy
	// Sigma scales the anomaly threshold; zero selects the default.
	Sigma float64
}

// Controller owns the fetch-normalize-detect cycle. Refreshes run on a
// fixed interval and immediately after a parameter change; a parameter
// change also restarts the cadence so exactly one timer is ever armed.
// Every cycle carries a generation number and only the newest
// generation may publish, so a slow response superseded by a later
// trigger is discarded instead of clobbering fresher data. Superseded
// fetches are additionally cancelled through their context.
type Controller struct {
	cfg      Config
	fetch    Fetcher
	det      anomaly.Detector
	notifier notify.Notifier
	metrics  *observability.Metrics
	log      *slog.Logger
	clk      clock.Clock

	kick chan struct{}

	mu          sync.RWMutex
	params      QueryParams
	snap        Snapshot
	gen         uint64
	cancelFetch context.CancelFunc
	listeners   []func(Snapshot)
}

// NewController wires a controller around the given fetcher. metrics
// may be nil; a nil logger discards and a nil clk uses the wall clock.
func NewController(cfg Config, fetch Fetcher, notifier notify.Notifier, metrics *observability.Metrics, logger *slog.Logger, clk clock.Clock) (*Controller, error) {
	if fetch == nil {
		return nil, errors.New("fetcher must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("notifier must not be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = series.DefaultWindowSize
	}
	return &Controller{
		cfg:      cfg,
		fetch:    fetch,
		det:      anomaly.Detector{Sigma: cfg.Sigma},
		notifier: notifier,
		metrics:  metrics,
		log:      logger.With(slog.String("component", "pipeline")),
		clk:      clk,
		kick:     make(chan struct{}, 1),
	}, nil
}

// SetParams stores new query parameters. A change to any request-key
// field triggers exactly one refresh cycle; a model-only change is
// recorded without touching the pipeline.
func (c *Controller) SetParams(p QueryParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if p.Key() == c.params.Key() {
		if p.Model != c.params.Model {
			c.params.Model = p.Model
			c.log.Info("model_updated", "model", p.Model)
		}
		c.mu.Unlock()
		return nil
	}
	c.params = p
	c.mu.Unlock()
	c.log.Info("params_changed", "key", p.Key())
	select {
	case c.kick <- struct{}{}:
	default:
	}
	return nil
}

// Params returns the currently selected query parameters.
func (c *Controller) Params() QueryParams {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params
}

// Snapshot returns a defensive copy of the last published state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.clone()
}

// AddListener registers a callback invoked after every publish with a
// copy of the new snapshot. Listeners must not block.
func (c *Controller) AddListener(fn func(Snapshot)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Run drives the refresh loop until ctx is cancelled. An immediate
// cycle runs on startup. Cancellation tears down the timer and any
// in-flight fetch; no background work survives return.
func (c *Controller) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context must not be nil")
	}
	c.log.Info("refresh_loop_started", "interval", c.cfg.Interval.String())
	// parameter changes made before startup are covered by the
	// immediate first cycle
	select {
	case <-c.kick:
	default:
	}
	c.refresh(ctx)

	ticker := c.clk.Ticker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			c.log.Info("refresh_loop_stopped")
			return nil
		case <-ticker.C:
			c.refresh(ctx)
		case <-c.kick:
			// restart the cadence so the next periodic tick lands a
			// full interval after this change
			ticker.Reset(c.cfg.Interval)
			c.refresh(ctx)
		}
	}
}

// Evaluate runs a single fetch-normalize-detect pass for params without
// touching the published snapshot or recording notices. Unlike the
// periodic cycle it does not substitute synthetic data; the caller
// asked for a specific range and receives the failure instead.
func (c *Controller) Evaluate(ctx context.Context, params QueryParams) (Snapshot, error) {
	if err := params.Validate(); err != nil {
		return Snapshot{}, err
	}
	out, err := c.evaluate(ctx, params)
	if err != nil {
		return Snapshot{}, err
	}
	return out.snap, nil
}

// refresh starts a new generation, cancelling whatever cycle was still
// in flight, and evaluates it in the background.
func (c *Controller) refresh(parent context.Context) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.cancelFetch != nil {
		c.cancelFetch()
	}
	cctx, cancel := context.WithCancel(parent)
	c.cancelFetch = cancel
	params := c.params
	c.mu.Unlock()

	go c.runCycle(cctx, gen, params)
}

func (c *Controller) teardown() {
	c.mu.Lock()
	c.gen++
	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
	c.mu.Unlock()
}

type cycleOutcome struct {
	snap    Snapshot
	result  string
	kind    notify.Kind
	message string
}

func (c *Controller) runCycle(ctx context.Context, gen uint64, params QueryParams) {
	started := c.clk.Now()
	out, _ := c.evaluate(ctx, params)
	elapsed := c.clk.Now().Sub(started)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.metrics.Cycle(outcomeStale, elapsed)
		c.log.Info("stale_cycle_discarded", "generation", gen)
		return
	}

	if out.result == outcomeEmpty {
		// the previous series, if any, stays on screen
		c.mu.Unlock()
		c.notifier.Notify(out.kind, out.message)
		c.metrics.Notice(string(out.kind))
		c.metrics.Cycle(outcomeEmpty, elapsed)
		c.log.Warn("cycle_empty", "key", params.Key(), "generation", gen)
		return
	}

	out.snap.Generation = gen
	c.snap = out.snap
	listeners := append([]func(Snapshot)(nil), c.listeners...)
	c.mu.Unlock()

	if out.kind != "" {
		c.notifier.Notify(out.kind, out.message)
		c.metrics.Notice(string(out.kind))
	}
	c.metrics.Cycle(out.result, elapsed)
	c.metrics.Published(out.snap.Series.Len(), len(out.snap.Anomalies))
	c.log.Info("cycle_published",
		"outcome", out.result,
		"samples", out.snap.Series.Len(),
		"anomalies", len(out.snap.Anomalies),
		"generation", gen,
	)
	for _, fn := range listeners {
		fn(out.snap)
	}
}

// evaluate performs one full pass. A failed fetch substitutes the
// synthetic series in the outcome so the periodic cycle always has
// something well formed to publish; the fetch error rides along for
// callers that must not substitute. An empty live result is reported
// as such and substitutes nothing.
func (c *Controller) evaluate(ctx context.Context, params QueryParams) (cycleOutcome, error) {
	start, end, err := params.DateRange()
	var rows []series.RawSample
	if err == nil {
		rows, err = c.fetch.FetchSeries(ctx, params.SiteID, params.Pollutant, start, end)
	}
	if err != nil {
		c.metrics.Fetch(fetchResult(err))
		c.log.Warn("fetch_failed", "key", params.Key(), "err", err)
		s := synthetic.Generate(params.SiteID, c.clk.Now())
		anoms, stats := c.det.Detect(s)
		return cycleOutcome{
			snap: Snapshot{
				Params:    params,
				Series:    s,
				Anomalies: anoms,
				Stats:     stats,
				UpdatedAt: c.clk.Now().UTC(),
			},
			result:  outcomeSynthetic,
			kind:    notify.KindFetchFailed,
			message: "live telemetry unavailable, showing synthetic data",
		}, err
	}

	c.metrics.Fetch("ok")
	s := series.NormalizeWith(rows, params.Pollutant.ParamKey(), c.cfg.Window, c.cfg.GapFill)
	if s.Empty() {
		return cycleOutcome{
			snap:    Snapshot{Params: params, UpdatedAt: c.clk.Now().UTC()},
			result:  outcomeEmpty,
			kind:    notify.KindNoData,
			message: "no data available for the selected site and range",
		}, nil
	}

	anoms, stats := c.det.Detect(s)
	return cycleOutcome{
		snap: Snapshot{
			Params:    params,
			Series:    s,
			Anomalies: anoms,
			Stats:     stats,
			UpdatedAt: c.clk.Now().UTC(),
		},
		result: outcomeLive,
	}, nil
}

func fetchResult(err error) string {
	switch {
	case errors.Is(err, breaker.ErrOpen):
		return "breaker_open"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case atmos.IsParse(err):
		return "parse_error"
	case atmos.IsNetwork(err):
		return "network_error"
	default:
		return "error"
	}
}
