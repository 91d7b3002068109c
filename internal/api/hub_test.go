package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	tomb "gopkg.in/tomb.v2"

	"github.com/atmx/arena-engine/internal/api"
)

func readMessage(t *testing.T, conn *websocket.Conn, wantType string) api.StreamMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %s message: %v", wantType, err)
		}
		var msg api.StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		if msg.Type == wantType {
			return msg
		}
	}
}

func TestHub_StreamsTradesAndUpdates(t *testing.T) {
	_, _, router, hub := newTestEnv(t, true)
	seedCompetition(t, router, "c1", "alice", "bob")

	var tb tomb.Tomb
	tb.Go(func() error { return hub.Run(&tb) })
	defer func() {
		tb.Kill(nil)
		tb.Wait()
	}()

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/competitions/c1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Subscribers("c1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Subscribers("c1") != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Subscribers("c1"))
	}

	submit(t, router, "c1", "alice", "BUY", 100, 3)
	submit(t, router, "c1", "bob", "SELL", 100, 3)

	trades := readMessage(t, conn, "trades")
	if trades.CompetitionID != "c1" || len(trades.Trades) != 1 || trades.Trades[0].Quantity != 3 {
		t.Errorf("unexpected trades message: %+v", trades)
	}

	update := readMessage(t, conn, "update")
	if update.OrderBook == nil || len(update.OrderBook.RecentTrades) != 1 {
		t.Fatalf("unexpected update orderbook: %+v", update.OrderBook)
	}
	if len(update.Leaderboard) != 2 {
		t.Errorf("expected 2 leaderboard entries, got %d", len(update.Leaderboard))
	}
}

func TestHub_UnknownCompetition(t *testing.T) {
	_, _, router, _ := newTestEnv(t, true)
	w := do(t, router, "GET", "/api/v1/competitions/nope/ws", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHub_DisconnectUnsubscribes(t *testing.T) {
	_, _, router, hub := newTestEnv(t, true)
	seedCompetition(t, router, "c1")

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/competitions/c1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("c1") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := hub.Subscribers("c1"); n != 0 {
		t.Errorf("expected client to be removed, %d remain", n)
	}
}

func TestHub_RefusesClientsAfterShutdown(t *testing.T) {
	_, _, router, hub := newTestEnv(t, true)
	seedCompetition(t, router, "c1")

	var tb tomb.Tomb
	tb.Go(func() error { return hub.Run(&tb) })
	tb.Kill(nil)
	if err := tb.Wait(); err != nil {
		t.Fatalf("hub run: %v", err)
	}

	w := do(t, router, "GET", "/api/v1/competitions/c1/ws", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after shutdown, got %d", w.Code)
	}
	if n := hub.Subscribers("c1"); n != 0 {
		t.Errorf("expected no subscribers, got %d", n)
	}
}
