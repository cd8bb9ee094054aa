// v1
// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/series"
)

func writeProps(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashboard.properties")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write properties: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AQ_PROPERTIES_PATH", filepath.Join(t.TempDir(), "absent.properties"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != defaultListenAddress {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.RefreshInterval != 60*time.Second {
		t.Fatalf("refresh interval = %s", cfg.RefreshInterval)
	}
	if cfg.WindowSize != series.DefaultWindowSize {
		t.Fatalf("window = %d", cfg.WindowSize)
	}
	if cfg.SigmaMultiplier != 3.0 {
		t.Fatalf("sigma = %f", cfg.SigmaMultiplier)
	}
	if cfg.GapPolicy != series.GapZero {
		t.Fatalf("gap policy = %q", cfg.GapPolicy)
	}
	if cfg.AlertsEnabled || cfg.MirrorEnabled {
		t.Fatalf("bridges must default to disabled")
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadPropertiesOverrideDefaults(t *testing.T) {
	path := writeProps(t, ""+
		"# pipeline tuning\n"+
		"listen_address=:9001\n"+
		"refresh_interval_ms=5000\n"+
		"window_size=48\n"+
		"sigma_multiplier=2.5\n"+
		"gap_policy=previous\n"+
		"alerts_enabled=true\n"+
		"kafka_brokers=k1:9092, k2:9092\n"+
		"; trailing comment line\n")
	t.Setenv("AQ_PROPERTIES_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != ":9001" {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.RefreshInterval != 5*time.Second {
		t.Fatalf("refresh = %s", cfg.RefreshInterval)
	}
	if cfg.WindowSize != 48 {
		t.Fatalf("window = %d", cfg.WindowSize)
	}
	if cfg.SigmaMultiplier != 2.5 {
		t.Fatalf("sigma = %f", cfg.SigmaMultiplier)
	}
	if cfg.GapPolicy != series.GapPrevious {
		t.Fatalf("gap policy = %q", cfg.GapPolicy)
	}
	if !cfg.AlertsEnabled {
		t.Fatalf("alerts must be enabled")
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadEnvBeatsProperties(t *testing.T) {
	path := writeProps(t, "listen_address=:7777\natmos_base_url=http://props.example\n")
	t.Setenv("AQ_PROPERTIES_PATH", path)
	t.Setenv("AQ_LISTEN_ADDRESS", ":9999")
	t.Setenv("AQ_GAP_POLICY", "previous")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddress != ":9999" {
		t.Fatalf("env must beat properties, got %q", cfg.ListenAddress)
	}
	if cfg.AtmosBaseURL != "http://props.example" {
		t.Fatalf("untouched property lost: %q", cfg.AtmosBaseURL)
	}
	if cfg.GapPolicy != series.GapPrevious {
		t.Fatalf("gap policy = %q", cfg.GapPolicy)
	}
}

func TestLoadSharedKafkaBrokersFallback(t *testing.T) {
	t.Setenv("AQ_PROPERTIES_PATH", filepath.Join(t.TempDir(), "absent.properties"))
	t.Setenv("KAFKA_BROKERS", "shared:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "shared:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"zero window":      "window_size=0\n",
		"negative sigma":   "sigma_multiplier=-1\n",
		"bad gap policy":   "gap_policy=interpolate\n",
		"bad boolean":      "alerts_enabled=maybe\n",
		"bad duration":     "refresh_interval_ms=soon\n",
		"malformed line":   "refresh_interval_ms\n",
		"empty broker set": "kafka_brokers=,\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("AQ_PROPERTIES_PATH", writeProps(t, body))
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %q", body)
			}
		})
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("AQ_PROPERTIES_PATH", filepath.Join(t.TempDir(), "absent.properties"))
	t.Setenv("AQ_SIGMA_MULTIPLIER", "a lot")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unparseable sigma")
	}
}
