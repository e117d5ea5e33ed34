package push

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/betpitch/wallet-engine/internal/metrics"
)

// connPair dials a real WebSocket through an httptest server and hands
// back both ends.
func connPair(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()
	serverCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverCh <- c
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	select {
	case server = <-serverCh:
	case <-time.After(time.Second):
		t.Fatal("server side of the connection never arrived")
	}
	return client, server
}

func isRegistered(h *Hub, conn *websocket.Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[conn]
	return ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestBroadcast_EvictsDeadClientAndKeepsLiveOne(t *testing.T) {
	h := NewHub()
	go h.Run()

	liveClient, liveServer := connPair(t)
	_, deadServer := connPair(t)

	start := testutil.ToFloat64(metrics.WebSocketClients)
	h.register <- liveServer
	h.register <- deadServer
	waitFor(t, func() bool { return testutil.ToFloat64(metrics.WebSocketClients) == start+2 })

	// Kill one connection so the next broadcast write to it fails.
	deadServer.Close()
	h.Broadcast(Event{Type: "bet_placed", UserID: "u1"})

	liveClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := liveClient.ReadMessage()
	if err != nil {
		t.Fatalf("live client read: %v", err)
	}
	if !strings.Contains(string(msg), "bet_placed") {
		t.Errorf("unexpected message: %s", msg)
	}

	waitFor(t, func() bool { return !isRegistered(h, deadServer) })
	if !isRegistered(h, liveServer) {
		t.Error("live client should stay registered")
	}
	// The gauge must track the eviction, not just the unregister path.
	waitFor(t, func() bool { return testutil.ToFloat64(metrics.WebSocketClients) == start+1 })
}

// Membership reads (the ping tickers) must be safe against the broadcast
// loop evicting dead connections; run with -race.
func TestBroadcast_EvictionRacesMembershipReads(t *testing.T) {
	h := NewHub()
	go h.Run()

	_, liveServer := connPair(t)
	_, deadServer := connPair(t)
	h.register <- liveServer
	h.register <- deadServer
	waitFor(t, func() bool { return isRegistered(h, deadServer) })
	deadServer.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				isRegistered(h, deadServer)
			}
		}
	}()

	for i := 0; i < 10; i++ {
		h.Broadcast(Event{Type: "match_settled", MatchID: "m1"})
	}
	waitFor(t, func() bool { return !isRegistered(h, deadServer) })
	close(stop)
	wg.Wait()
}
