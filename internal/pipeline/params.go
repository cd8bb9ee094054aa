// Package pipeline v3
// file: internal/pipeline/params.go
package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/atmos"
)

// DateLayout is the wire format for the date range fields.
const DateLayout = "2006-01-02"

// QueryParams select what the pipeline fetches. SiteID, Pollutant,
// StartDate and EndDate form the request key; Model is accepted and
// retained for forward compatibility but has no effect on fetching.
type QueryParams struct {
	SiteID    string          `json:"siteId"`
	Pollutant atmos.Pollutant `json:"pollutant"`
	StartDate string          `json:"startDate"`
	EndDate   string          `json:"endDate"`
	Model     string          `json:"model,omitempty"`
}

// Key returns the request identity. Model is deliberately excluded so
// changing it never invalidates the current series.
func (p QueryParams) Key() string {
	return strings.Join([]string{p.SiteID, string(p.Pollutant), p.StartDate, p.EndDate}, "|")
}

// Validate checks the fields the request key is built from.
func (p QueryParams) Validate() error {
	if strings.TrimSpace(p.SiteID) == "" {
		return errors.New("siteId must not be empty")
	}
	if !p.Pollutant.Valid() {
		return fmt.Errorf("pollutant must be %s or %s", atmos.PM25, atmos.PM10)
	}
	start, err := time.Parse(DateLayout, p.StartDate)
	if err != nil {
		return fmt.Errorf("startDate: %w", err)
	}
	end, err := time.Parse(DateLayout, p.EndDate)
	if err != nil {
		return fmt.Errorf("endDate: %w", err)
	}
	if end.Before(start) {
		return errors.New("endDate precedes startDate")
	}
	return nil
}

// DateRange parses the validated date fields.
func (p QueryParams) DateRange() (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, p.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(DateLayout, p.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// DefaultParams selects the given site over the day containing now.
func DefaultParams(siteID string, now time.Time) QueryParams {
	day := now.UTC().Format(DateLayout)
	return QueryParams{
		SiteID:    siteID,
		Pollutant: atmos.PM25,
		StartDate: day,
		EndDate:   day,
	}
}
