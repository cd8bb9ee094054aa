// v1
// internal/alerts/publisher_test.go
package alerts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/anomaly"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/atmos"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/pipeline"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/series"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingWriter struct {
	ch chan kafka.Message
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{ch: make(chan kafka.Message, 4)}
}

func (r *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		r.ch <- msg
	}
	return nil
}

func (r *recordingWriter) Close() error { return nil }

func (r *recordingWriter) await(t *testing.T) kafka.Message {
	t.Helper()
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for publish")
	}
	return kafka.Message{}
}

func liveSnapshot(siteID string, anomalies int) pipeline.Snapshot {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := pipeline.Snapshot{
		Params:     pipeline.QueryParams{SiteID: siteID, Pollutant: atmos.PM25, StartDate: "2025-03-01", EndDate: "2025-03-01"},
		Series:     series.Series{Source: series.SourceLive, Samples: []series.Sample{{Timestamp: ts, Value: 10}}},
		Stats:      anomaly.Stats{Mean: 10, Threshold: 40},
		UpdatedAt:  ts,
		Generation: 7,
	}
	for i := 0; i < anomalies; i++ {
		snap.Anomalies = append(snap.Anomalies, series.Sample{Timestamp: ts, Value: 120})
	}
	return snap
}

func startedPublisher(t *testing.T, w *recordingWriter) *Publisher {
	t.Helper()
	cfg := Config{Enabled: true, Topic: "airquality.alerts", Brokers: []string{"kafka:9092"}, Acks: -1}
	pub, err := newPublisherWithWriter(cfg, testLogger(), w, w)
	if err != nil {
		t.Fatalf("newPublisherWithWriter error: %v", err)
	}
	if err := pub.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	return pub
}

func TestPublisherDeliversAnomalyAlert(t *testing.T) {
	w := newRecordingWriter()
	pub := startedPublisher(t, w)

	pub.Listen(liveSnapshot("site_104", 2))

	msg := w.await(t)
	if string(msg.Key) != "site_104" {
		t.Fatalf("expected site key, got %q", string(msg.Key))
	}
	var alert Alert
	if err := json.Unmarshal(msg.Value, &alert); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if alert.SiteID != "site_104" || len(alert.Anomalies) != 2 {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if alert.Generation != 7 || alert.Threshold != 40 {
		t.Fatalf("stats not carried: %+v", alert)
	}
	if err := pub.Stop(context.Background()); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPublisherSkipsCleanAndSyntheticCycles(t *testing.T) {
	w := newRecordingWriter()
	pub := startedPublisher(t, w)

	pub.Listen(liveSnapshot("site_104", 0))

	synth := liveSnapshot("site_104", 3)
	synth.Series.Source = series.SourceSynthetic
	pub.Listen(synth)

	select {
	case msg := <-w.ch:
		t.Fatalf("unexpected publish: key=%q", string(msg.Key))
	case <-time.After(50 * time.Millisecond):
	}
	if err := pub.Stop(context.Background()); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPublisherDisabledIsInert(t *testing.T) {
	pub, err := NewPublisher(Config{Enabled: false}, testLogger())
	if err != nil {
		t.Fatalf("NewPublisher error: %v", err)
	}
	if err := pub.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	pub.Listen(liveSnapshot("site_104", 1))
	if err := pub.Stop(context.Background()); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPublisherStopDrainsQueue(t *testing.T) {
	w := newRecordingWriter()
	pub := startedPublisher(t, w)

	pub.Listen(liveSnapshot("site_1", 1))
	pub.Listen(liveSnapshot("site_2", 1))

	if err := pub.Stop(context.Background()); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	first := w.await(t)
	second := w.await(t)
	keys := map[string]bool{string(first.Key): true, string(second.Key): true}
	if !keys["site_1"] || !keys["site_2"] {
		t.Fatalf("queued alerts lost on stop: %v", keys)
	}
}
