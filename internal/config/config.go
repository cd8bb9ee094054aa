// v1
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/series"
)

// Config captures all runtime settings of the dashboard service. Values
// layer defaults, an optional .env file, a properties file and finally
// environment variables, so the service boots with minimal setup.
type Config struct {
	// ListenAddress is the TCP address of the HTTP/WS API.
	ListenAddress string
	// LogFilePath is the dual-logger file target; empty disables it.
	LogFilePath string
	// LogLevel is the minimum slog level (debug, info, warn, error).
	LogLevel string
	// HTTPReadTimeout bounds the time to read incoming requests.
	HTTPReadTimeout time.Duration
	// HTTPWriteTimeout bounds the time to write responses.
	HTTPWriteTimeout time.Duration
	// ShutdownTimeout limits graceful shutdown attempts.
	ShutdownTimeout time.Duration
	// PropertiesPath records the path used to load property values.
	PropertiesPath string

	// AtmosBaseURL roots the upstream telemetry API.
	AtmosBaseURL string
	// AtmosAPIKey authenticates upstream requests.
	AtmosAPIKey string
	// FetchTimeout bounds one upstream request.
	FetchTimeout time.Duration
	// FetchRetries is the number of retries after a failed request.
	FetchRetries uint64
	// BreakerMaxFailures opens the upstream circuit breaker.
	BreakerMaxFailures int
	// BreakerResetTimeout is the open-state cool-off.
	BreakerResetTimeout time.Duration

	// RefreshInterval is the periodic pipeline cadence.
	RefreshInterval time.Duration
	// WindowSize bounds the normalized series length.
	WindowSize int
	// SigmaMultiplier scales the anomaly threshold above the mean.
	SigmaMultiplier float64
	// GapPolicy materializes missing buckets (zero or previous).
	GapPolicy series.GapPolicy
	// DefaultSiteID seeds discovery and the initial dashboard view.
	DefaultSiteID string

	// SitesFile optionally overrides site discovery with a JSON list.
	SitesFile string
	// SitesRetryTTL re-arms discovery after a fallback resolution.
	SitesRetryTTL time.Duration

	// AlertsEnabled switches the Kafka anomaly publisher on.
	AlertsEnabled bool
	// KafkaBrokers lists bootstrap brokers for the alert topic.
	KafkaBrokers []string
	// AlertsTopic carries anomaly alert events.
	AlertsTopic string

	// MirrorEnabled switches the MQTT snapshot mirror on.
	MirrorEnabled bool
	// MQTTBroker is the mirror broker address (tcp://host:port).
	MQTTBroker string
	// MirrorTopicPrefix roots the per-site mirror topics.
	MirrorTopicPrefix string

	// CORSAllowedOrigins feeds the CORS middleware.
	CORSAllowedOrigins []string
}

const (
	defaultListenAddress = ":8088"
	defaultLogFile       = "logs/dashboard.log"
	defaultLogLevel      = "info"
	defaultReadTimeout   = 5 * time.Second
	defaultWriteTimeout  = 15 * time.Second
	defaultShutdown      = 5 * time.Second
	defaultPropsPath     = "dashboard.properties"

	defaultAtmosBaseURL = "http://localhost:9095"
	defaultAtmosAPIKey  = "dev-key"
	defaultFetchTimeout = 30 * time.Second
	defaultFetchRetries = 2
	defaultBreakerMax   = 3
	defaultBreakerReset = 30 * time.Second

	defaultRefreshInterval = 60 * time.Second
	defaultSigma           = 3.0
	defaultSiteID          = "site_104"

	defaultSitesRetryTTL = 10 * time.Minute

	defaultKafkaBrokers = "localhost:9092"
	defaultAlertsTopic  = "aq.anomaly.alerts"

	defaultMQTTBroker  = "tcp://localhost:1883"
	defaultMirrorTopic = "aq/dashboard"

	defaultCORSOrigins = "*"
)

// Load resolves configuration by layering defaults, an optional .env
// file, an optional properties file, and finally environment variables.
// The properties file location can be overridden with
// AQ_PROPERTIES_PATH.
func Load() (Config, error) {
	// .env only fills variables that are not already exported
	_ = godotenv.Load()

	cfg := Config{
		ListenAddress:       defaultListenAddress,
		LogFilePath:         filepath.Clean(defaultLogFile),
		LogLevel:            defaultLogLevel,
		HTTPReadTimeout:     defaultReadTimeout,
		HTTPWriteTimeout:    defaultWriteTimeout,
		ShutdownTimeout:     defaultShutdown,
		AtmosBaseURL:        defaultAtmosBaseURL,
		AtmosAPIKey:         defaultAtmosAPIKey,
		FetchTimeout:        defaultFetchTimeout,
		FetchRetries:        defaultFetchRetries,
		BreakerMaxFailures:  defaultBreakerMax,
		BreakerResetTimeout: defaultBreakerReset,
		RefreshInterval:     defaultRefreshInterval,
		WindowSize:          series.DefaultWindowSize,
		SigmaMultiplier:     defaultSigma,
		GapPolicy:           series.GapZero,
		DefaultSiteID:       defaultSiteID,
		SitesRetryTTL:       defaultSitesRetryTTL,
		KafkaBrokers:        splitAndTrim(defaultKafkaBrokers),
		AlertsTopic:         defaultAlertsTopic,
		MQTTBroker:          defaultMQTTBroker,
		MirrorTopicPrefix:   defaultMirrorTopic,
		CORSAllowedOrigins:  splitAndTrim(defaultCORSOrigins),
	}

	propsPath := strings.TrimSpace(os.Getenv("AQ_PROPERTIES_PATH"))
	if propsPath == "" {
		propsPath = defaultPropsPath
	}
	cfg.PropertiesPath = propsPath

	if err := applyProperties(&cfg, propsPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyProperties(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := setProperty(cfg, key, value); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

func setProperty(cfg *Config, key, value string) error {
	switch key {
	case "listen_address":
		return setString(&cfg.ListenAddress, value)
	case "log_path":
		cfg.LogFilePath = filepath.Clean(value)
	case "log_level":
		return setString(&cfg.LogLevel, value)
	case "http_read_timeout_ms":
		return setMillis(&cfg.HTTPReadTimeout, value)
	case "http_write_timeout_ms":
		return setMillis(&cfg.HTTPWriteTimeout, value)
	case "shutdown_timeout_ms":
		return setMillis(&cfg.ShutdownTimeout, value)
	case "atmos_base_url":
		return setString(&cfg.AtmosBaseURL, value)
	case "atmos_api_key":
		return setString(&cfg.AtmosAPIKey, value)
	case "fetch_timeout_ms":
		return setMillis(&cfg.FetchTimeout, value)
	case "fetch_retries":
		n, err := parseNonNegativeInt(value)
		if err != nil {
			return err
		}
		cfg.FetchRetries = uint64(n)
	case "breaker_max_failures":
		return setPositiveInt(&cfg.BreakerMaxFailures, value)
	case "breaker_reset_timeout_ms":
		return setMillis(&cfg.BreakerResetTimeout, value)
	case "refresh_interval_ms":
		return setMillis(&cfg.RefreshInterval, value)
	case "window_size":
		return setPositiveInt(&cfg.WindowSize, value)
	case "sigma_multiplier":
		return setPositiveFloat(&cfg.SigmaMultiplier, value)
	case "gap_policy":
		p, err := series.ParseGapPolicy(value)
		if err != nil {
			return err
		}
		cfg.GapPolicy = p
	case "default_site_id":
		return setString(&cfg.DefaultSiteID, value)
	case "sites_file":
		cfg.SitesFile = value
	case "sites_retry_ttl_ms":
		return setMillis(&cfg.SitesRetryTTL, value)
	case "alerts_enabled":
		return setBool(&cfg.AlertsEnabled, value)
	case "kafka_brokers":
		return setList(&cfg.KafkaBrokers, value)
	case "alerts_topic":
		return setString(&cfg.AlertsTopic, value)
	case "mirror_enabled":
		return setBool(&cfg.MirrorEnabled, value)
	case "mqtt_broker":
		return setString(&cfg.MQTTBroker, value)
	case "mirror_topic_prefix":
		return setString(&cfg.MirrorTopicPrefix, value)
	case "cors_allowed_origins":
		return setList(&cfg.CORSAllowedOrigins, value)
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return nil
}

// env var names, each overriding the matching property.
const (
	envListenAddress = "AQ_LISTEN_ADDRESS"
	envLogPath       = "AQ_LOG_PATH"
	envLogLevel      = "AQ_LOG_LEVEL"
	envReadTimeout   = "AQ_HTTP_READ_TIMEOUT_MS"
	envWriteTimeout  = "AQ_HTTP_WRITE_TIMEOUT_MS"
	envShutdown      = "AQ_SHUTDOWN_TIMEOUT_MS"
	envAtmosBase     = "AQ_ATMOS_BASE_URL"
	envAtmosKey      = "AQ_ATMOS_API_KEY"
	envFetchTimeout  = "AQ_FETCH_TIMEOUT_MS"
	envFetchRetries  = "AQ_FETCH_RETRIES"
	envBreakerMax    = "AQ_BREAKER_MAX_FAILURES"
	envBreakerReset  = "AQ_BREAKER_RESET_TIMEOUT_MS"
	envRefresh       = "AQ_REFRESH_INTERVAL_MS"
	envWindow        = "AQ_WINDOW_SIZE"
	envSigma         = "AQ_SIGMA_MULTIPLIER"
	envGapPolicy     = "AQ_GAP_POLICY"
	envDefaultSite   = "AQ_DEFAULT_SITE_ID"
	envSitesFile     = "AQ_SITES_FILE"
	envSitesTTL      = "AQ_SITES_RETRY_TTL_MS"
	envAlertsEnabled = "AQ_ALERTS_ENABLED"
	envKafkaBrokers  = "AQ_KAFKA_BROKERS"
	envAlertsTopic   = "AQ_ALERTS_TOPIC"
	envMirrorEnabled = "AQ_MIRROR_ENABLED"
	envMQTTBroker    = "AQ_MQTT_BROKER"
	envMirrorPrefix  = "AQ_MIRROR_TOPIC_PREFIX"
	envCORSOrigins   = "AQ_CORS_ALLOWED_ORIGINS"
)

func applyEnv(cfg *Config) error {
	type binding struct {
		key   string
		apply func(string) error
	}
	bindings := []binding{
		{envListenAddress, func(v string) error { return setString(&cfg.ListenAddress, v) }},
		{envLogPath, func(v string) error { cfg.LogFilePath = filepath.Clean(v); return nil }},
		{envLogLevel, func(v string) error { return setString(&cfg.LogLevel, v) }},
		{envReadTimeout, func(v string) error { return setMillis(&cfg.HTTPReadTimeout, v) }},
		{envWriteTimeout, func(v string) error { return setMillis(&cfg.HTTPWriteTimeout, v) }},
		{envShutdown, func(v string) error { return setMillis(&cfg.ShutdownTimeout, v) }},
		{envAtmosBase, func(v string) error { return setString(&cfg.AtmosBaseURL, v) }},
		{envAtmosKey, func(v string) error { return setString(&cfg.AtmosAPIKey, v) }},
		{envFetchTimeout, func(v string) error { return setMillis(&cfg.FetchTimeout, v) }},
		{envFetchRetries, func(v string) error {
			n, err := parseNonNegativeInt(v)
			if err != nil {
				return err
			}
			cfg.FetchRetries = uint64(n)
			return nil
		}},
		{envBreakerMax, func(v string) error { return setPositiveInt(&cfg.BreakerMaxFailures, v) }},
		{envBreakerReset, func(v string) error { return setMillis(&cfg.BreakerResetTimeout, v) }},
		{envRefresh, func(v string) error { return setMillis(&cfg.RefreshInterval, v) }},
		{envWindow, func(v string) error { return setPositiveInt(&cfg.WindowSize, v) }},
		{envSigma, func(v string) error { return setPositiveFloat(&cfg.SigmaMultiplier, v) }},
		{envGapPolicy, func(v string) error {
			p, err := series.ParseGapPolicy(v)
			if err != nil {
				return err
			}
			cfg.GapPolicy = p
			return nil
		}},
		{envDefaultSite, func(v string) error { return setString(&cfg.DefaultSiteID, v) }},
		{envSitesFile, func(v string) error { cfg.SitesFile = v; return nil }},
		{envSitesTTL, func(v string) error { return setMillis(&cfg.SitesRetryTTL, v) }},
		{envAlertsEnabled, func(v string) error { return setBool(&cfg.AlertsEnabled, v) }},
		{envKafkaBrokers, func(v string) error { return setList(&cfg.KafkaBrokers, v) }},
		{envAlertsTopic, func(v string) error { return setString(&cfg.AlertsTopic, v) }},
		{envMirrorEnabled, func(v string) error { return setBool(&cfg.MirrorEnabled, v) }},
		{envMQTTBroker, func(v string) error { return setString(&cfg.MQTTBroker, v) }},
		{envMirrorPrefix, func(v string) error { return setString(&cfg.MirrorTopicPrefix, v) }},
		{envCORSOrigins, func(v string) error { return setList(&cfg.CORSAllowedOrigins, v) }},
	}
	for _, b := range bindings {
		v, ok := lookupEnvTrimmed(b.key)
		if !ok {
			continue
		}
		if err := b.apply(v); err != nil {
			return fmt.Errorf("%s: %w", b.key, err)
		}
	}

	// shared broker variable used across the deployment
	if _, ok := lookupEnvTrimmed(envKafkaBrokers); !ok {
		if v, ok := lookupEnvTrimmed("KAFKA_BROKERS"); ok {
			if err := setList(&cfg.KafkaBrokers, v); err != nil {
				return fmt.Errorf("KAFKA_BROKERS: %w", err)
			}
		}
	}
	return nil
}

func setString(target *string, v string) error {
	if v == "" {
		return errors.New("value cannot be empty")
	}
	*target = v
	return nil
}

func setMillis(target *time.Duration, v string) error {
	d, err := parsePositiveMillis(v)
	if err != nil {
		return err
	}
	*target = d
	return nil
}

func setPositiveInt(target *int, v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return errors.New("value must be positive")
	}
	*target = n
	return nil
}

func parseNonNegativeInt(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return 0, errors.New("value must not be negative")
	}
	return n, nil
}

func setPositiveFloat(target *float64, v string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if f <= 0 {
		return errors.New("value must be positive")
	}
	*target = f
	return nil
}

func setBool(target *bool, v string) error {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid boolean: %w", err)
	}
	*target = b
	return nil
}

func setList(target *[]string, v string) error {
	items := splitAndTrim(v)
	if len(items) == 0 {
		return errors.New("list cannot be empty")
	}
	*target = items
	return nil
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parsePositiveMillis(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("value cannot be empty")
	}
	ms, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if ms <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return time.Duration(ms) * time.Millisecond, nil
}
