// v2
// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/handlers"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/alerts"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/api"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/atmos"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/config"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/logging"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/mirror"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/notify"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/observability"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/pipeline"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/sites"
)

const noticeRingSize = 50

// Application wires configuration, logging, the refresh pipeline, the
// outbound bridges and the HTTP/WS surface, and owns their lifecycle.
type Application struct {
	cfg     config.Config
	logs    *logging.DualLogger
	logger  *slog.Logger
	metrics *observability.Metrics
	client  *atmos.Client
	ring    *notify.Ring
	catalog *sites.Catalog
	ctl     *pipeline.Controller
	alerts  *alerts.Publisher
	mirror  *mirror.Mirror
	hub     *api.Hub
	server  *http.Server
}

// New prepares a fully wired service instance from the supplied
// configuration. Every snapshot consumer (stream hub, alert publisher,
// MQTT mirror, breaker gauge) is registered as a pipeline listener.
func New(cfg config.Config) (*Application, error) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return nil, errors.New("listen address cannot be empty")
	}
	if strings.TrimSpace(cfg.AtmosBaseURL) == "" {
		return nil, errors.New("atmos base url cannot be empty")
	}
	if strings.TrimSpace(cfg.DefaultSiteID) == "" {
		return nil, errors.New("default site id cannot be empty")
	}

	logs, err := logging.New(cfg.LogFilePath, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	logger := logs.Logger

	metrics := observability.NewMetrics()
	ring := notify.NewRing(logger.With(slog.String("component", "notify")), noticeRingSize)

	client := atmos.New(atmos.Config{
		BaseURL:      cfg.AtmosBaseURL,
		APIKey:       cfg.AtmosAPIKey,
		Timeout:      cfg.FetchTimeout,
		MaxRetries:   cfg.FetchRetries,
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
	}, logger.With(slog.String("component", "atmos")))

	catalog := sites.NewCatalog(sites.Config{
		SitesFile:  cfg.SitesFile,
		SeedSiteID: cfg.DefaultSiteID,
		RetryTTL:   cfg.SitesRetryTTL,
	}, client, ring, logger.With(slog.String("component", "sites")))

	ctl, err := pipeline.NewController(pipeline.Config{
		Interval: cfg.RefreshInterval,
		Window:   cfg.WindowSize,
		GapFill:  cfg.GapPolicy,
		Sigma:    cfg.SigmaMultiplier,
	}, client, ring, metrics, logger, nil)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("pipeline init: %w", err)
	}
	if err := ctl.SetParams(pipeline.DefaultParams(cfg.DefaultSiteID, time.Now())); err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("default params: %w", err)
	}

	pub, err := alerts.NewPublisher(alerts.Config{
		Enabled: cfg.AlertsEnabled,
		Topic:   cfg.AlertsTopic,
		Brokers: cfg.KafkaBrokers,
		Acks:    1,
	}, logger)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("alert publisher init: %w", err)
	}

	mir, err := mirror.New(mirror.Config{
		Enabled:     cfg.MirrorEnabled,
		BrokerAddr:  cfg.MQTTBroker,
		TopicPrefix: cfg.MirrorTopicPrefix,
	}, logger)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("mirror init: %w", err)
	}

	hub := api.NewHub(logger, metrics)

	ctl.AddListener(hub.Listen)
	ctl.AddListener(pub.Listen)
	ctl.AddListener(mir.Listen)
	ctl.AddListener(func(pipeline.Snapshot) {
		metrics.SetCircuitBreakerState("atmos", float64(client.BreakerState()))
	})

	srv := api.NewServer(logger, ctl, catalog, ring, client, metrics, hub)
	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSAllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	handler := handlers.LoggingHandler(os.Stdout, cors(srv.Router()))

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPWriteTimeout,
	}

	return &Application{
		cfg:     cfg,
		logs:    logs,
		logger:  logger,
		metrics: metrics,
		client:  client,
		ring:    ring,
		catalog: catalog,
		ctl:     ctl,
		alerts:  pub,
		mirror:  mir,
		hub:     hub,
		server:  server,
	}, nil
}

// Logger exposes the configured slog logger so callers (such as main)
// can emit structured logs after initialization.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Run blocks until the context is cancelled or the HTTP server
// terminates unexpectedly, then shuts everything down in order: HTTP
// first, then the pipeline, then the drained bridges.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.alerts.Start(ctx); err != nil {
		return fmt.Errorf("alert publisher start: %w", err)
	}

	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(ctx)
		close(hubDone)
	}()

	// resolve the site list up front so the first dashboard request
	// is served from cache
	go a.catalog.Sites(ctx)

	pipeCh := make(chan error, 1)
	go func() {
		pipeCh <- a.ctl.Run(ctx)
	}()

	httpCh := make(chan error, 1)
	go func() {
		a.logger.Info("http_server_listen", slog.String("address", a.cfg.ListenAddress))
		httpCh <- a.server.ListenAndServe()
	}()

	var httpErr, pipeErr error
	for {
		select {
		case err := <-httpCh:
			httpErr = err
			httpCh = nil
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http_server_error", slog.Any("err", err))
			} else {
				a.logger.Info("server_closed")
			}
			cancel()
		case err := <-pipeCh:
			pipeErr = err
			pipeCh = nil
			if err != nil {
				a.logger.Error("pipeline_error", slog.Any("err", err))
			} else {
				a.logger.Info("pipeline_stopped")
			}
			cancel()
		case <-ctx.Done():
			a.logger.Info("shutdown_signal")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("server_shutdown_failed", slog.Any("err", err))
				if httpErr == nil {
					httpErr = fmt.Errorf("shutdown: %w", err)
				}
			}

			if httpCh != nil {
				if err := <-httpCh; err != nil && !errors.Is(err, http.ErrServerClosed) && httpErr == nil {
					httpErr = err
				}
			}
			if pipeCh != nil {
				if err := <-pipeCh; err != nil && pipeErr == nil {
					pipeErr = err
				}
			}
			<-hubDone

			if err := a.alerts.Stop(shutdownCtx); err != nil {
				a.logger.Error("alert_publisher_stop_err", slog.Any("err", err))
			}
			a.mirror.Close()
			shutdownCancel()

			if pipeErr != nil {
				return pipeErr
			}
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				return httpErr
			}
			a.logger.Info("shutdown_complete")
			return nil
		}
	}
}

// Close releases resources owned by the application instance.
func (a *Application) Close() error {
	if a.logs == nil {
		return nil
	}
	err := a.logs.Close()
	a.logs = nil
	return err
}
