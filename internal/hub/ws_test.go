package hub_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidewatch/tidewatch/internal/hub"
	"github.com/tidewatch/tidewatch/internal/model"
	"github.com/tidewatch/tidewatch/internal/store"
)

// startHub starts a test HTTP server with the hub as its handler and returns
// the ws:// URL.
func startHub(t *testing.T, cache *store.Cache) (string, *hub.Hub) {
	t.Helper()
	h := hub.New(cache, 16)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), h
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) *model.Update {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var u model.Update
	if err := json.Unmarshal(msg, &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &u
}

func TestServeHTTP_ConnectReceivesCatchUp(t *testing.T) {
	cache := store.NewCache(30 * time.Minute)
	cache.SetLatest(reading("44025", 0), 1)
	wsURL, _ := startHub(t, cache)

	conn := dial(t, wsURL)
	u := readUpdate(t, conn)
	if u.Type != model.UpdateReading || u.StationID != "44025" {
		t.Errorf("catch-up: got %s/%s, want reading/44025", u.Type, u.StationID)
	}
}

func TestServeHTTP_StationsFilter(t *testing.T) {
	cache := store.NewCache(30 * time.Minute)
	cache.SetLatest(reading("44025", 0), 1)
	cache.SetLatest(reading("41002", 0), 1)
	wsURL, _ := startHub(t, cache)

	conn := dial(t, wsURL+"?stations=41002")
	u := readUpdate(t, conn)
	if u.StationID != "41002" {
		t.Errorf("station: got %s, want 41002", u.StationID)
	}
}

func TestServeHTTP_LivePublishReachesClient(t *testing.T) {
	cache := store.NewCache(30 * time.Minute)
	wsURL, h := startHub(t, cache)

	conn := dial(t, wsURL)
	// Let the subscription register before publishing.
	waitFor(t, func() bool { return h.Count() == 1 })

	h.Publish(readingUpdate("44025", 1, 1))
	u := readUpdate(t, conn)
	if u.Seq != 1 || u.StationID != "44025" {
		t.Errorf("live update: got %s@%d, want 44025@1", u.StationID, u.Seq)
	}
}

func TestServeHTTP_DisconnectRemovesSubscription(t *testing.T) {
	cache := store.NewCache(30 * time.Minute)
	wsURL, h := startHub(t, cache)

	conn := dial(t, wsURL)
	waitFor(t, func() bool { return h.Count() == 1 })

	conn.Close()
	waitFor(t, func() bool { return h.Count() == 0 })
}

func TestServeHTTP_NonWebSocketRequest_Returns400(t *testing.T) {
	h := hub.New(store.NewCache(30*time.Minute), 16)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
