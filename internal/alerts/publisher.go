// v2
// internal/alerts/publisher.go
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/pipeline"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/series"
)

// Alert is the message published when a refresh cycle flags anomalies
// on live telemetry.
type Alert struct {
	SiteID     string          `json:"siteId"`
	Pollutant  string          `json:"pollutant"`
	Anomalies  []series.Sample `json:"anomalies"`
	Mean       float64         `json:"mean"`
	Threshold  float64         `json:"threshold"`
	Generation uint64          `json:"generation"`
	DetectedAt time.Time       `json:"detectedAt"`
}

type Config struct {
	Enabled bool
	Topic   string
	Brokers []string
	Acks    int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type writeCloser interface {
	Close() error
}

const queueSize = 256

var (
	errNilLogger  = errors.New("alert publisher requires a logger")
	errNotStarted = errors.New("alert publisher not started")
)

// Publisher delivers anomaly alerts to Kafka asynchronously so the
// refresh loop never blocks on the broker. Disabled publishers accept
// and drop everything.
type Publisher struct {
	cfg     Config
	log     *slog.Logger
	writer  messageWriter
	closer  writeCloser
	enabled bool

	queue     chan kafka.Message
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
}

// NewPublisher constructs a Kafka-backed publisher.
func NewPublisher(cfg Config, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		return nil, errNilLogger
	}
	if !cfg.Enabled {
		log.Info("alert_publisher_disabled")
		return &Publisher{cfg: cfg, log: log, enabled: false}, nil
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("alert topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		AllowAutoTopicCreation: false,
		Balancer:               &kafka.Hash{},
	}
	return newPublisherWithWriter(cfg, log, w, w)
}

// newPublisherWithWriter wires the provided writer. It is used in tests.
func newPublisherWithWriter(cfg Config, log *slog.Logger, writer messageWriter, closer writeCloser) (*Publisher, error) {
	if writer == nil {
		return nil, errors.New("alert publisher requires a writer")
	}
	p := &Publisher{
		cfg:     cfg,
		log:     log.With(slog.String("component", "alert_publisher")),
		writer:  writer,
		closer:  closer,
		enabled: cfg.Enabled,
	}
	if p.enabled {
		p.queue = make(chan kafka.Message, queueSize)
	}
	return p, nil
}

// Start launches the delivery loop.
func (p *Publisher) Start(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	if ctx == nil {
		return errors.New("context must not be nil")
	}
	p.startOnce.Do(func() {
		p.runCtx, p.cancel = context.WithCancel(ctx)
		p.started.Store(true)
		p.wg.Add(1)
		go p.run()
		p.log.Info("alert_publisher_started", slog.String("topic", p.cfg.Topic))
	})
	if !p.started.Load() {
		return errNotStarted
	}
	return nil
}

// Stop shuts the loop down and drains queued alerts.
func (p *Publisher) Stop(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	var stopErr error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
		if p.closer != nil {
			if err := p.closer.Close(); err != nil {
				p.log.Error("alert_publisher_close_err", slog.Any("err", err))
			}
		}
		p.log.Info("alert_publisher_stopped")
	})
	return stopErr
}

// Listen consumes a published snapshot. Only live-source cycles with at
// least one anomaly produce an alert; synthetic data never alerts.
// Safe to register as a pipeline listener: enqueueing never blocks.
func (p *Publisher) Listen(snap pipeline.Snapshot) {
	if !p.enabled || !p.started.Load() {
		return
	}
	if snap.Series.Source != series.SourceLive || len(snap.Anomalies) == 0 {
		return
	}
	alert := Alert{
		SiteID:     snap.Params.SiteID,
		Pollutant:  string(snap.Params.Pollutant),
		Anomalies:  snap.Anomalies,
		Mean:       snap.Stats.Mean,
		Threshold:  snap.Stats.Threshold,
		Generation: snap.Generation,
		DetectedAt: snap.UpdatedAt,
	}
	value, err := json.Marshal(alert)
	if err != nil {
		p.log.Error("alert_encode_err", slog.Any("err", err))
		return
	}
	msg := kafka.Message{Key: []byte(alert.SiteID), Value: value}
	select {
	case p.queue <- msg:
		p.log.Info("alert_enqueued", slog.String("site", alert.SiteID), slog.Int("anomalies", len(alert.Anomalies)))
	default:
		p.log.Warn("alert_queue_full", slog.String("site", alert.SiteID))
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.runCtx.Done():
			p.drain()
			p.started.Store(false)
			p.log.Info("alert_publisher_loop_exit")
			return
		case msg := <-p.queue:
			p.deliver(msg)
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case msg := <-p.queue:
			p.deliver(msg)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("alert_publish_err", slog.Any("err", err), slog.String("key", string(msg.Key)))
		return
	}
	p.log.Info("alert_publish_success", slog.String("key", string(msg.Key)))
}
