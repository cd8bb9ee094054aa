// v2
// internal/api/stream_test.go
package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/notify"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/observability"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/pipeline"
)

func newStreamFixture(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	log := testLogger()
	hub := NewHub(log, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	ring := notify.NewRing(log, 10)
	srv := NewServer(log, &stubDash{}, stubSites{}, ring, stubBreaker{}, observability.NewMetrics(), hub)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return hub, ts
}

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) pipeline.Snapshot {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var snap pipeline.Snapshot
	require.NoError(t, json.Unmarshal(msg, &snap))
	return snap
}

func TestStreamDeliversPublishedSnapshots(t *testing.T) {
	hub, ts := newStreamFixture(t)
	conn := dialStream(t, ts)

	hub.Listen(liveSnap(3))
	got := readSnapshot(t, conn)
	require.Equal(t, uint64(3), got.Generation)
	require.Equal(t, "site_104", got.Params.SiteID)

	hub.Listen(liveSnap(4))
	got = readSnapshot(t, conn)
	require.Equal(t, uint64(4), got.Generation)
}

func TestStreamReplaysLastSnapshotToNewClients(t *testing.T) {
	hub, ts := newStreamFixture(t)

	hub.Listen(liveSnap(9))
	// the broadcast lands asynchronously; a fresh client must see it
	// replayed no matter when it connects
	require.Eventually(t, func() bool {
		c := dialStream(t, ts)
		defer c.Close()
		_ = c.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		_, msg, err := c.ReadMessage()
		if err != nil {
			return false
		}
		var snap pipeline.Snapshot
		return json.Unmarshal(msg, &snap) == nil && snap.Generation == 9
	}, 2*time.Second, 50*time.Millisecond)
}

func TestStreamFansOutToAllClients(t *testing.T) {
	hub, ts := newStreamFixture(t)
	first := dialStream(t, ts)
	second := dialStream(t, ts)

	hub.Listen(liveSnap(12))

	got := readSnapshot(t, first)
	require.Equal(t, uint64(12), got.Generation)
	got = readSnapshot(t, second)
	require.Equal(t, uint64(12), got.Generation)
}
