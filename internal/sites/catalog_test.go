// v2
// internal/sites/catalog_test.go
package sites

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/notify"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/series"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	rows  []series.RawSample
	err   error
	calls int
}

func (f *fakeFetcher) FetchAllParams(ctx context.Context, siteID string, start, end time.Time) ([]series.RawSample, error) {
	f.calls++
	return f.rows, f.err
}

func TestSitesFromDiscovery(t *testing.T) {
	f := &fakeFetcher{rows: []series.RawSample{
		{"deviceid": "site_9", "pm2.5cnc": 1.0},
		{"deviceid": "site_3", "pm2.5cnc": 2.0},
		{"deviceid": "site_9", "pm2.5cnc": 3.0},
		{"pm2.5cnc": 4.0},
		{"deviceid": ""},
	}}
	c := NewCatalog(Config{}, f, notify.NewRing(testLogger(), 10), testLogger())

	got := c.Sites(context.Background())
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct sites, got %d (%+v)", len(got), got)
	}
	if got[0].ID != "site_9" || got[1].ID != "site_3" {
		t.Fatalf("first-appearance order lost: %+v", got)
	}

	c.Sites(context.Background())
	if f.calls != 1 {
		t.Fatalf("successful discovery must be cached, got %d fetches", f.calls)
	}
}

func TestSitesDiscoveryFailureFallsBack(t *testing.T) {
	f := &fakeFetcher{err: errors.New("upstream down")}
	ring := notify.NewRing(testLogger(), 10)
	c := NewCatalog(Config{}, f, ring, testLogger())

	got := c.Sites(context.Background())
	if len(got) != len(knownSiteIDs) {
		t.Fatalf("expected %d fallback sites, got %d", len(knownSiteIDs), len(got))
	}
	if got[0].ID != knownSiteIDs[0] || got[0].Name != knownSiteIDs[0] {
		t.Fatalf("fallback site malformed: %+v", got[0])
	}
	if n := ring.CountByKind(notify.KindDiscoveryFailed); n != 1 {
		t.Fatalf("expected exactly one discovery notice, got %d", n)
	}
}

func TestSitesTotalFailureUsesLabeledList(t *testing.T) {
	f := &fakeFetcher{err: errors.New("upstream down")}
	c := NewCatalog(Config{KnownSiteIDs: []string{}}, f, notify.NewRing(testLogger(), 10), testLogger())

	got := c.Sites(context.Background())
	if len(got) != len(labeledSites) {
		t.Fatalf("expected %d labeled sites, got %d", len(labeledSites), len(got))
	}
	if got[0].Name == got[0].ID {
		t.Fatalf("labeled sites must carry human names: %+v", got[0])
	}
}

func TestSitesEmptyDiscoveryFallsBack(t *testing.T) {
	f := &fakeFetcher{rows: []series.RawSample{}}
	c := NewCatalog(Config{}, f, notify.NewRing(testLogger(), 10), testLogger())
	got := c.Sites(context.Background())
	if len(got) != len(knownSiteIDs) {
		t.Fatalf("expected known id fallback on empty discovery, got %d sites", len(got))
	}
}

func TestSitesFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.json")
	data := `[{"id":"site_7","name":"Campus Gate"},{"name":"no id, skipped"},{"id":"site_8"}]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	f := &fakeFetcher{err: errors.New("must not be called")}
	c := NewCatalog(Config{SitesFile: path}, f, notify.NewRing(testLogger(), 10), testLogger())

	got := c.Sites(context.Background())
	if f.calls != 0 {
		t.Fatalf("file override must skip discovery")
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 file sites, got %d (%+v)", len(got), got)
	}
	if got[0].Name != "Campus Gate" {
		t.Fatalf("name lost: %+v", got[0])
	}
	if got[1].Name != "site_8" {
		t.Fatalf("missing name must default to id: %+v", got[1])
	}
}

func TestSitesFallbackRetriedAfterTTL(t *testing.T) {
	f := &fakeFetcher{err: errors.New("upstream down")}
	c := NewCatalog(Config{RetryTTL: 10 * time.Millisecond}, f, notify.NewRing(testLogger(), 10), testLogger())

	c.Sites(context.Background())
	time.Sleep(20 * time.Millisecond)
	f.err = nil
	f.rows = []series.RawSample{{"deviceid": "site_42"}}

	got := c.Sites(context.Background())
	if f.calls != 2 {
		t.Fatalf("expected a second discovery attempt, got %d calls", f.calls)
	}
	if len(got) != 1 || got[0].ID != "site_42" {
		t.Fatalf("recovered discovery not used: %+v", got)
	}
}
