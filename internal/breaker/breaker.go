// v1
// internal/breaker/breaker.go
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without invoking the operation while the breaker
// is open and the reset timeout has not elapsed.
var ErrOpen = errors.New("circuit breaker is open; fast-fail")

type Config struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// Breaker guards an unreliable operation. After MaxFailures consecutive
// failures it opens and fast-fails callers until ResetTimeout passes,
// then lets one probe attempt through before closing again.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	recentFails int
	openedAt    time.Time

	probe func(ctx context.Context) error
}

// New builds a breaker. probe may be nil; when set it is called before
// retrying the real operation out of the open state.
func New(name string, cfg Config, logger *slog.Logger, probe func(ctx context.Context) error) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger,
		state:  Closed,
		probe:  probe,
	}
	b.logger.Info("breaker_created", "name", name, "state", b.state.String(), "maxFailures", cfg.MaxFailures, "resetTimeout", cfg.ResetTimeout.String())
	return b
}

// Execute runs op under breaker supervision.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.state
	openedAt := b.openedAt
	b.mu.Unlock()

	if state == Open {
		if time.Since(openedAt) < b.cfg.ResetTimeout {
			b.logger.Warn("breaker_fast_fail", "name", b.name, "since_open", time.Since(openedAt).String())
			return ErrOpen
		}
		return b.tryProbeThenOp(ctx, op)
	}

	err := op(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}
	b.onFailure(err)
	return err
}

func (b *Breaker) tryProbeThenOp(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	b.state = HalfOpen
	had := b.recentFails
	b.mu.Unlock()
	b.logger.Info("breaker_probe_start", "name", b.name, "previous_failures", had)

	if b.probe != nil {
		if err := b.probe(ctx); err != nil {
			b.logger.Warn("breaker_probe_failed", "name", b.name, "error", err.Error())
			b.reopen()
			return ErrOpen
		}
		b.logger.Info("breaker_probe_ok", "name", b.name)
	}

	if err := op(ctx); err != nil {
		b.logger.Warn("breaker_halfopen_op_failed", "name", b.name, "error", err.Error())
		b.reopen()
		return err
	}

	b.mu.Lock()
	b.state = Closed
	b.recentFails = 0
	b.mu.Unlock()
	b.logger.Info("breaker_closed_after_probe", "name", b.name)
	return nil
}

func (b *Breaker) reopen() {
	b.mu.Lock()
	b.state = Open
	b.openedAt = time.Now()
	b.recentFails++
	b.mu.Unlock()
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Closed {
		b.logger.Info("breaker_state_to_closed", "name", b.name, "from", b.state.String())
	}
	b.state = Closed
	b.recentFails = 0
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails++
	b.logger.Warn("operation_failure", "name", b.name, "failures", b.recentFails, "error", err.Error())
	if b.recentFails >= b.cfg.MaxFailures {
		b.state = Open
		b.openedAt = time.Now()
		b.logger.Error("breaker_opened", "name", b.name, "maxFailures", b.cfg.MaxFailures)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
