// v2
// cmd/atmosim/main.go
//
// atmosim is a local stand-in for the upstream telemetry API. It serves
// the getDeviceDataParam route with deterministic per-bucket values so
// the dashboard can run end to end without network access to the real
// feed. The same bucket always yields the same value, which keeps the
// rendered history stable across refresh cycles.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
)

const (
	pathDateLayout = "2006-01-02T15:04"
	rowTimeLayout  = "2006-01-02 15:04:05"
)

type SimConfig struct {
	ListenAddr string
	APIKey     string
	Sites      []string
	GapRate    float64
	SpikeRate  float64
	Seed       int64
}

// paramProfile shapes the diurnal curve for one pollutant parameter.
type paramProfile struct {
	base      float64
	amplitude float64
	jitter    float64
	peakHour  float64
}

var profiles = map[string]paramProfile{
	"pm2.5cnc": {base: 42, amplitude: 18, jitter: 4, peakHour: 8},
	"pm10cnc":  {base: 85, amplitude: 30, jitter: 7, peakHour: 9},
}

func getenvf(key string, def float64, log *slog.Logger) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn("invalid float in env, using default", "key", key, "default", def)
	}
	return def
}

func getenvi(key string, def int64, log *slog.Logger) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Warn("invalid int in env, using default", "key", key, "default", def)
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func buildConfig(log *slog.Logger) SimConfig {
	addr := os.Getenv("ATMOSIM_LISTEN")
	if addr == "" {
		addr = ":9095"
	}
	key := os.Getenv("ATMOSIM_API_KEY")
	if key == "" {
		key = "dev-key"
	}
	sitesEnv := os.Getenv("ATMOSIM_SITES")
	if sitesEnv == "" {
		sitesEnv = "site_104,site_106,site_113,site_117,site_119,site_124"
	}
	return SimConfig{
		ListenAddr: addr,
		APIKey:     key,
		Sites:      splitCSV(sitesEnv),
		GapRate:    getenvf("ATMOSIM_GAP_RATE", 0.05, log),
		SpikeRate:  getenvf("ATMOSIM_SPIKE_RATE", 0.02, log),
		Seed:       getenvi("ATMOSIM_SEED", 1, log),
	}
}

type Simulator struct {
	log   *slog.Logger
	cfg   SimConfig
	sites map[string]bool
}

func NewSimulator(cfg SimConfig, log *slog.Logger) *Simulator {
	known := make(map[string]bool, len(cfg.Sites))
	for _, s := range cfg.Sites {
		known[s] = true
	}
	return &Simulator{log: log, cfg: cfg, sites: known}
}

// refusal is the error shape the real upstream responds with instead of
// a data array.
func (s *Simulator) refuse(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message": "unsuccessful",
		"error":   reason,
	})
}

func (s *Simulator) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Simulator) handleDeviceData(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	site := vars["site"]
	params := splitCSV(vars["params"])
	apiKey := vars["key"]

	if apiKey != s.cfg.APIKey {
		s.log.Warn("rejected request", "reason", "bad api key", "site", site)
		s.refuse(w, "invalid api key")
		return
	}
	if len(params) == 0 {
		s.refuse(w, "no parameters requested")
		return
	}
	for _, p := range params {
		if _, ok := profiles[p]; !ok {
			s.refuse(w, fmt.Sprintf("unknown parameter %q", p))
			return
		}
	}

	start, err := time.Parse(pathDateLayout, vars["start"])
	if err != nil {
		s.refuse(w, "invalid startdate")
		return
	}
	end, err := time.Parse(pathDateLayout, vars["end"])
	if err != nil {
		s.refuse(w, "invalid enddate")
		return
	}
	step, err := strconv.Atoi(vars["avg"])
	if err != nil || step <= 0 {
		s.refuse(w, "invalid averaging interval")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !s.sites[site] {
		s.log.Info("unknown site, empty response", "site", site)
		_, _ = w.Write([]byte("[]"))
		return
	}

	q := r.URL.Query()
	emitGaps := q.Get("gaps") == "1"
	gapValue := q.Get("gap_value")
	if gapValue == "" {
		gapValue = "NaN"
	}

	rows := s.generate(site, params, start, end, time.Duration(step)*time.Minute, emitGaps, gapValue)
	s.log.Info("served series", "site", site, "params", strings.Join(params, ","), "rows", len(rows))
	_ = json.NewEncoder(w).Encode(rows)
}

// generate emits one row per bucket between start and min(end, now).
// Values are seeded from (site, param, bucket) so history never changes
// between requests; gaps and spikes are part of that determinism.
func (s *Simulator) generate(site string, params []string, start, end time.Time, step time.Duration, emitGaps bool, gapValue string) []map[string]any {
	now := time.Now().UTC()
	if end.After(now) {
		end = now
	}

	rows := make([]map[string]any, 0, 128)
	for ts := start; !ts.After(end); ts = ts.Add(step) {
		row := map[string]any{
			"timestamp": ts.Format(rowTimeLayout),
			"deviceid":  site,
		}
		present := false
		for _, p := range params {
			v, gap := s.sampleAt(site, p, ts)
			if gap {
				if emitGaps {
					row[p] = gapValue
					present = true
				}
				continue
			}
			row[p] = v
			present = true
		}
		if present {
			rows = append(rows, row)
		}
	}
	return rows
}

// sampleAt produces the deterministic value for one bucket: a diurnal
// sine curve over a per-site baseline, plus noise, with occasional gap
// and spike buckets drawn from the same seeded source.
func (s *Simulator) sampleAt(site, param string, ts time.Time) (float64, bool) {
	prof := profiles[param]
	rng := rand.New(rand.NewSource(s.bucketSeed(site, param, ts)))

	if rng.Float64() < s.cfg.GapRate {
		return 0, true
	}

	hour := float64(ts.Hour()) + float64(ts.Minute())/60
	phase := 2 * math.Pi * (hour - prof.peakHour) / 24
	shift := s.bucketSeed(site, "", time.Time{}) % 21
	if shift < 0 {
		shift = -shift
	}
	siteShift := float64(shift) - 10

	v := prof.base + siteShift + prof.amplitude*math.Cos(phase) + rng.NormFloat64()*prof.jitter
	if rng.Float64() < s.cfg.SpikeRate {
		v *= 3 + 2*rng.Float64()
	}
	if v < 0 {
		v = 0
	}
	return math.Round(v*100) / 100, false
}

func (s *Simulator) bucketSeed(site, param string, ts time.Time) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(site))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(param))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	return int64(h.Sum64()) ^ s.cfg.Seed
}

func (s *Simulator) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/getDeviceDataParam/imei/{site}/params/{params}/startdate/{start}/enddate/{end}/ts/{ts}/avg/{avg}/api/{key}",
		s.handleDeviceData).Methods(http.MethodGet)
	s.log.Info("http routes registered")
	return r
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("atmos simulator starting")

	cfg := buildConfig(logger)
	sim := NewSimulator(cfg, logger)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: sim.routes()}
	go func() {
		logger.Info("http listening", "addr", cfg.ListenAddr, "sites", len(cfg.Sites))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received")
	_ = srv.Shutdown(context.Background())
	logger.Info("shutdown complete")
}
