// v3
// internal/atmos/client.go
package atmos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/breaker"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/series"
)

// dateTimeLayout is the upstream path date format. Start dates anchor
// at 00:00 and end dates at 23:59 so a day range is inclusive.
const dateTimeLayout = "2006-01-02T15:04"

type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   uint64
	MaxFailures  int
	ResetTimeout time.Duration
}

// Client fetches measurement series from the upstream telemetry API.
// Transient transport failures are retried with exponential backoff;
// repeated failures trip a circuit breaker so a dead upstream is not
// hammered on every refresh cycle.
type Client struct {
	base       string
	key        string
	h          *http.Client
	br         *breaker.Breaker
	log        *slog.Logger
	maxRetries uint64
}

func New(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	return &Client{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		key:        cfg.APIKey,
		h:          &http.Client{Timeout: cfg.Timeout},
		br:         breaker.New("atmos", breaker.Config{MaxFailures: cfg.MaxFailures, ResetTimeout: cfg.ResetTimeout}, log, nil),
		log:        log,
		maxRetries: cfg.MaxRetries,
	}
}

// FetchSeries retrieves 15-minute averaged raw samples for one site and
// pollutant over an inclusive date range. The result is the upstream
// JSON array as-is; normalization happens downstream.
func (c *Client) FetchSeries(ctx context.Context, siteID string, pol Pollutant, start, end time.Time) ([]series.RawSample, error) {
	if !pol.Valid() {
		return nil, fmt.Errorf("invalid pollutant %q", string(pol))
	}
	u := c.seriesURL(siteID, pol.ParamKey(), start, end)

	var out []series.RawSample
	err := c.br.Execute(ctx, func(ctx context.Context) error {
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
		return backoff.Retry(func() error {
			rows, err := c.getArray(ctx, u)
			if err != nil {
				if IsParse(err) {
					// a malformed body will not improve on retry
					return backoff.Permanent(err)
				}
				c.log.Warn("fetch_retry", "site", siteID, "param", pol.ParamKey(), "err", err)
				return err
			}
			out = rows
			return nil
		}, bo)
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("fetch_ok", "site", siteID, "param", pol.ParamKey(), "rows", len(out))
	return out, nil
}

// FetchAllParams retrieves rows for every supported pollutant in a
// single request. Site discovery harvests device ids from this shape.
func (c *Client) FetchAllParams(ctx context.Context, siteID string, start, end time.Time) ([]series.RawSample, error) {
	key := PM25.ParamKey() + "," + PM10.ParamKey()
	u := c.seriesURL(siteID, key, start, end)

	var out []series.RawSample
	err := c.br.Execute(ctx, func(ctx context.Context) error {
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
		return backoff.Retry(func() error {
			rows, err := c.getArray(ctx, u)
			if err != nil {
				if IsParse(err) {
					return backoff.Permanent(err)
				}
				c.log.Warn("fetch_retry", "site", siteID, "param", key, "err", err)
				return err
			}
			out = rows
			return nil
		}, bo)
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("fetch_ok", "site", siteID, "param", key, "rows", len(out))
	return out, nil
}

// BreakerState exposes the guard state for health reporting.
func (c *Client) BreakerState() breaker.State { return c.br.State() }

func (c *Client) seriesURL(siteID, paramKey string, start, end time.Time) string {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	e := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 0, 0, end.Location())
	path := fmt.Sprintf("%s/getDeviceDataParam/imei/%s/params/%s/startdate/%s/enddate/%s/ts/mm/avg/15/api/%s",
		c.base,
		url.PathEscape(siteID),
		escapeParamList(paramKey),
		s.Format(dateTimeLayout),
		e.Format(dateTimeLayout),
		url.PathEscape(c.key),
	)
	q := url.Values{}
	q.Set("gaps", "1")
	q.Set("gap_value", "NaN")
	return path + "?" + q.Encode()
}

// escapeParamList escapes each comma-separated token on its own so the
// multi-parameter form keeps its literal commas in the path.
func escapeParamList(key string) string {
	parts := strings.Split(key, ",")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, ",")
}

// apiError is the upstream's refusal shape: a JSON object instead of
// the usual array.
type apiError struct {
	Message string `json:"message"`
	Error   any    `json:"error"`
}

func (c *Client) getArray(ctx context.Context, u string) ([]series.RawSample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &NetworkError{URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "aq-dashboard/1.0")

	resp, err := c.h.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &NetworkError{URL: u, Err: fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(b))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: u, Err: err}
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return []series.RawSample{}, nil
	}
	if !strings.HasPrefix(trimmed, "[") {
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Message == "unsuccessful" {
			return nil, &ParseError{URL: u, Reason: fmt.Sprintf("upstream refused: %v", ae.Error)}
		}
		return nil, &ParseError{URL: u, Reason: "response is not a JSON array"}
	}

	var rows []series.RawSample
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &ParseError{URL: u, Reason: "malformed JSON array", Err: err}
	}
	return rows, nil
}
