package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"farmstats/internal/metrics"
	"farmstats/internal/pool"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readResult(t *testing.T, conn *websocket.Conn) pool.Result {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var r pool.Result
	require.NoError(t, conn.ReadJSON(&r))
	return r
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestPublishReachesClients(t *testing.T) {
	hub := NewHub(metrics.New())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	hub.Publish(&pool.Result{Key: "yam-ycrv", Name: "YAM/yCRV", APR: "2600"})

	got := readResult(t, conn)
	require.Equal(t, "yam-ycrv", got.Key)
	require.Equal(t, "2600", got.APR)
}

func TestLatestSentOnConnect(t *testing.T) {
	hub := NewHub(nil)
	hub.Publish(&pool.Result{Key: "yam-ycrv", APR: "100"})
	hub.Publish(&pool.Result{Key: "yam-ycrv", APR: "200"})

	srv := httptest.NewServer(hub)
	defer srv.Close()

	got := readResult(t, dial(t, srv))
	require.Equal(t, "200", got.APR)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestRunClosesClients(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	dial(t, srv)
	waitForClients(t, hub, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, 0, hub.ClientCount())
}

func TestStatsHandler(t *testing.T) {
	hub := NewHub(nil)
	hub.Publish(&pool.Result{Key: "b-pool", APR: "2"})
	hub.Publish(&pool.Result{Key: "a-pool", APR: "1"})

	rec := httptest.NewRecorder()
	hub.StatsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var results []pool.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 2)
	require.Equal(t, "a-pool", results[0].Key)
	require.Equal(t, "b-pool", results[1].Key)
}

func TestStatsHandlerRejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHub(nil).StatsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stats", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
