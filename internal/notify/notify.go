// Package notify v2
// file: internal/notify/notify.go
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindNoData          Kind = "no_data"
	KindFetchFailed     Kind = "fetch_failed"
	KindDiscoveryFailed Kind = "discovery_failed"
)

// Notice is a transient user-facing message. Notices are advisory; the
// pipeline never blocks on them.
type Notice struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier records user-facing notices.
type Notifier interface {
	Notify(kind Kind, msg string)
}

// Ring keeps the most recent notices in memory, newest first.
type Ring struct {
	mu    sync.Mutex
	log   *slog.Logger
	max   int
	items []Notice
}

func NewRing(log *slog.Logger, max int) *Ring {
	if max <= 0 {
		max = 50
	}
	return &Ring{log: log, max: max}
}

func (r *Ring) Notify(kind Kind, msg string) {
	n := Notice{ID: uuid.NewString(), Kind: kind, Message: msg, At: time.Now().UTC()}
	r.mu.Lock()
	r.items = append([]Notice{n}, r.items...)
	if len(r.items) > r.max {
		r.items = r.items[:r.max]
	}
	r.mu.Unlock()
	r.log.Info("notice", "kind", string(kind), "id", n.ID, "message", msg)
}

// Recent returns up to n notices, newest first.
func (r *Ring) Recent(n int) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.items) {
		n = len(r.items)
	}
	out := make([]Notice, n)
	copy(out, r.items[:n])
	return out
}

// CountByKind reports how many retained notices carry the given kind.
func (r *Ring) CountByKind(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := 0
	for _, n := range r.items {
		if n.Kind == kind {
			c++
		}
	}
	return c
}

// Dismiss removes the notice with the given id. It reports whether a
// notice was actually removed.
func (r *Ring) Dismiss(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.items {
		if n.ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return true
		}
	}
	return false
}

// Reset drops every retained notice.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}
