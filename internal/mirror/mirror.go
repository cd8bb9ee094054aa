// Package mirror v3
// file: internal/mirror/mirror.go
package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/pipeline"
)

type Config struct {
	Enabled     bool
	BrokerAddr  string
	TopicPrefix string
	ClientID    string
	QoS         byte
}

// Mirror republishes the newest sample of every applied snapshot to a
// per-site MQTT topic so kiosk displays and other subscribers can
// follow the dashboard without polling. Messages are published
// retained, so a late subscriber immediately receives the current
// value.
type Mirror struct {
	cfg     Config
	log     *slog.Logger
	client  mqtt.Client
	enabled bool
}

// LatestSample is the per-site mirror payload.
type LatestSample struct {
	SiteID    string    `json:"siteId"`
	Pollutant string    `json:"pollutant"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Anomalous bool      `json:"anomalous"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New connects to the broker when enabled; a disabled mirror accepts
// and drops everything.
func New(cfg Config, log *slog.Logger) (*Mirror, error) {
	if log == nil {
		return nil, errors.New("mirror requires a logger")
	}
	if !cfg.Enabled {
		log.Info("mirror_disabled")
		return &Mirror{cfg: cfg, log: log, enabled: false}, nil
	}
	if strings.TrimSpace(cfg.BrokerAddr) == "" {
		return nil, errors.New("mirror broker address must not be empty")
	}
	if strings.TrimSpace(cfg.TopicPrefix) == "" {
		return nil, errors.New("mirror topic prefix must not be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "aq-dashboard"
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.BrokerAddr).SetClientID(cfg.ClientID)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mirror connect: %w", token.Error())
	}
	log.Info("mirror_connected", slog.String("broker", cfg.BrokerAddr), slog.String("prefix", cfg.TopicPrefix))
	return newMirrorWithClient(cfg, log, client), nil
}

// newMirrorWithClient wires the provided client. It is used in tests.
func newMirrorWithClient(cfg Config, log *slog.Logger, client mqtt.Client) *Mirror {
	return &Mirror{
		cfg:     cfg,
		log:     log.With(slog.String("component", "mirror")),
		client:  client,
		enabled: cfg.Enabled,
	}
}

// Listen consumes a published snapshot. Safe to register as a pipeline
// listener: publishing is fire-and-forget.
func (m *Mirror) Listen(snap pipeline.Snapshot) {
	if !m.enabled {
		return
	}
	last, ok := snap.Series.Last()
	if !ok {
		return
	}

	msg := LatestSample{
		SiteID:    snap.Params.SiteID,
		Pollutant: string(snap.Params.Pollutant),
		Timestamp: last.Timestamp,
		Value:     last.Value,
		Anomalous: isAnomalous(snap, last.Timestamp),
		Source:    string(snap.Series.Source),
		UpdatedAt: snap.UpdatedAt,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		m.log.Error("mirror_encode_err", slog.Any("err", err))
		return
	}

	topic := m.cfg.TopicPrefix + "/" + snap.Params.SiteID
	tok := m.client.Publish(topic, m.cfg.QoS, true, payload)
	go func() {
		if tok.Wait() && tok.Error() != nil {
			m.log.Warn("mirror_publish_err", slog.String("topic", topic), slog.Any("err", tok.Error()))
		}
	}()
}

func isAnomalous(snap pipeline.Snapshot, ts time.Time) bool {
	for _, a := range snap.Anomalies {
		if a.Timestamp.Equal(ts) {
			return true
		}
	}
	return false
}

// Close disconnects from the broker.
func (m *Mirror) Close() {
	if !m.enabled || m.client == nil {
		return
	}
	m.client.Disconnect(250)
	m.log.Info("mirror_disconnected")
}
