// v1
// internal/pipeline/params_test.go
package pipeline

import (
	"testing"
	"time"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/atmos"
)

func TestParamsKeyExcludesModel(t *testing.T) {
	a := QueryParams{SiteID: "site_1", Pollutant: atmos.PM25, StartDate: "2025-01-01", EndDate: "2025-01-02"}
	b := a
	b.Model = "forecast-v2"
	if a.Key() != b.Key() {
		t.Fatalf("model must not contribute to the request key: %q vs %q", a.Key(), b.Key())
	}
	c := a
	c.Pollutant = atmos.PM10
	if a.Key() == c.Key() {
		t.Fatalf("pollutant change must alter the request key")
	}
}

func TestParamsValidate(t *testing.T) {
	good := QueryParams{SiteID: "site_1", Pollutant: atmos.PM25, StartDate: "2025-01-01", EndDate: "2025-01-02"}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name string
		mod  func(*QueryParams)
	}{
		{"empty site", func(p *QueryParams) { p.SiteID = "  " }},
		{"bad pollutant", func(p *QueryParams) { p.Pollutant = "ozone" }},
		{"bad start", func(p *QueryParams) { p.StartDate = "01-01-2025" }},
		{"bad end", func(p *QueryParams) { p.EndDate = "tomorrow" }},
		{"inverted range", func(p *QueryParams) { p.StartDate = "2025-02-01"; p.EndDate = "2025-01-01" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := good
			tc.mod(&p)
			if err := p.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDefaultParams(t *testing.T) {
	now := time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC)
	p := DefaultParams("site_104", now)
	if err := p.Validate(); err != nil {
		t.Fatalf("default params must validate: %v", err)
	}
	if p.StartDate != "2025-06-01" || p.EndDate != "2025-06-01" {
		t.Fatalf("default range must cover the current day: %+v", p)
	}
	if p.Pollutant != atmos.PM25 {
		t.Fatalf("default pollutant = %q", p.Pollutant)
	}
}
