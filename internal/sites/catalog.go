// Package sites v3
// file: internal/sites/catalog.go
package sites

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/notify"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/series"
)

// Site is a monitoring device/location with a stable id. The list is
// resolved once and treated as immutable for the session.
type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

const cacheKey = "sites"

// knownSiteIDs are devices observed on the upstream network, used when
// live discovery yields nothing.
var knownSiteIDs = []string{
	"site_104", "site_106", "site_113", "site_117",
	"site_119", "site_124", "site_132", "site_141",
	"site_143", "site_147", "site_154", "site_162",
}

// labeledSites is the last-resort list shown when discovery failed and
// no known ids are configured.
var labeledSites = []Site{
	{ID: "site_201", Name: "Sangli Civil Hospital"},
	{ID: "site_202", Name: "Miraj Railway Station"},
	{ID: "site_203", Name: "Kolhapur Mahadwar Road"},
	{ID: "site_204", Name: "Satara Powai Naka"},
	{ID: "site_205", Name: "Pune Shivajinagar"},
}

type fetcher interface {
	FetchAllParams(ctx context.Context, siteID string, start, end time.Time) ([]series.RawSample, error)
}

type Config struct {
	// SitesFile optionally overrides discovery with a JSON file of
	// [{"id":"...","name":"..."}] entries.
	SitesFile string
	// SeedSiteID is the device queried to harvest deviceids.
	SeedSiteID string
	// KnownSiteIDs overrides the built-in fallback id list.
	KnownSiteIDs []string
	// RetryTTL bounds how long a fallback resolution is served before
	// discovery is attempted again.
	RetryTTL time.Duration
}

// Catalog resolves the selectable site list: an operator-provided file
// wins, then upstream deviceid discovery, then the fixed fallbacks.
type Catalog struct {
	log      *slog.Logger
	client   fetcher
	notifier notify.Notifier
	cache    *cache.Cache
	cfg      Config
}

func NewCatalog(cfg Config, client fetcher, notifier notify.Notifier, log *slog.Logger) *Catalog {
	if cfg.SeedSiteID == "" {
		cfg.SeedSiteID = knownSiteIDs[0]
	}
	if cfg.KnownSiteIDs == nil {
		cfg.KnownSiteIDs = knownSiteIDs
	}
	if cfg.RetryTTL <= 0 {
		cfg.RetryTTL = 10 * time.Minute
	}
	return &Catalog{
		log:      log,
		client:   client,
		notifier: notifier,
		cache:    cache.New(cache.NoExpiration, 0),
		cfg:      cfg,
	}
}

// Sites returns the resolved site list. Successful resolutions are
// cached for the session; fallback resolutions expire after RetryTTL
// so a recovered upstream gets another discovery attempt.
func (c *Catalog) Sites(ctx context.Context) []Site {
	if v, ok := c.cache.Get(cacheKey); ok {
		return v.([]Site)
	}
	out, ttl := c.resolve(ctx)
	c.cache.Set(cacheKey, out, ttl)
	return out
}

func (c *Catalog) resolve(ctx context.Context) ([]Site, time.Duration) {
	if c.cfg.SitesFile != "" {
		if s, err := loadSitesFile(c.cfg.SitesFile); err != nil {
			c.log.Warn("sites_file_unreadable", "path", c.cfg.SitesFile, "err", err)
		} else if len(s) > 0 {
			c.log.Info("sites_from_file", "path", c.cfg.SitesFile, "count", len(s))
			return s, cache.NoExpiration
		}
	}

	if s, err := c.discover(ctx); err != nil {
		c.log.Warn("site_discovery_failed", "err", err)
		c.notifier.Notify(notify.KindDiscoveryFailed, "site discovery failed, using fallback list")
	} else if len(s) > 0 {
		c.log.Info("sites_discovered", "count", len(s))
		return s, cache.NoExpiration
	} else {
		c.log.Warn("site_discovery_empty")
	}

	if len(c.cfg.KnownSiteIDs) > 0 {
		out := make([]Site, 0, len(c.cfg.KnownSiteIDs))
		for _, id := range c.cfg.KnownSiteIDs {
			out = append(out, Site{ID: id, Name: id})
		}
		return out, c.cfg.RetryTTL
	}
	return append([]Site(nil), labeledSites...), c.cfg.RetryTTL
}

// discover harvests distinct deviceid values from a day of seed-site
// data, preserving first-appearance order. Both pollutant params ride
// in one request so every responding device appears.
func (c *Catalog) discover(ctx context.Context) ([]Site, error) {
	now := time.Now()
	rows, err := c.client.FetchAllParams(ctx, c.cfg.SeedSiteID, now, now)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []Site
	for _, r := range rows {
		id, ok := r["deviceid"].(string)
		if !ok || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Site{ID: id, Name: id})
	}
	return out, nil
}

func loadSitesFile(path string) ([]Site, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []Site
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make([]Site, 0, len(raw))
	for _, s := range raw {
		if s.ID == "" {
			continue
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		out = append(out, s)
	}
	return out, nil
}
