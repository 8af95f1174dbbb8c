package portfolio_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/cache"
	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/portfolio"
	"github.com/atmx/portfolio-engine/internal/price"
	"github.com/atmx/portfolio-engine/internal/store"
)

// newWSServer starts a real HTTP server with the hub mounted at /api/v1/ws.
func newWSServer(t *testing.T) (*httptest.Server, *portfolio.WSHub, context.CancelFunc) {
	t.Helper()
	hub := portfolio.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	prices := price.NewStaticSource(map[string]decimal.Decimal{"AAPL": d("190.50")})
	svc := portfolio.NewService(store.NewMemoryStore(), cache.New(cache.NewMemoryBackend(), time.Minute), prices, hub)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", hub.HandleWS)
		svc.Routes(r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, hub, cancel
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *portfolio.WSHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d ws clients, got %d", want, hub.Clients())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWSHub_BroadcastsTransactionCreated(t *testing.T) {
	srv, hub, cancel := newWSServer(t)
	conn := dialWS(t, srv)
	waitForClients(t, hub, 1)

	resp := postJSON(t, srv.URL+"/api/v1/portfolios", portfolio.CreatePortfolioRequest{OwnerID: "alice", Name: "Live"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create portfolio: expected 201, got %d", resp.StatusCode)
	}
	var p model.Portfolio
	json.NewDecoder(resp.Body).Decode(&p)

	resp = postJSON(t, srv.URL+"/api/v1/portfolios/"+p.ID+"/transactions", trade("BUY", "10", "150", day(0)))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create transaction: expected 201, got %d", resp.StatusCode)
	}
	var created portfolio.TransactionResponse
	json.NewDecoder(resp.Body).Decode(&created)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg portfolio.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read ws message: %v", err)
	}
	if msg.Type != "transaction_created" {
		t.Errorf("expected transaction_created, got %q", msg.Type)
	}
	if msg.PortfolioID != p.ID {
		t.Errorf("expected portfolio %s, got %s", p.ID, msg.PortfolioID)
	}
	if msg.TransactionID != created.Transaction.ID {
		t.Errorf("expected transaction %s, got %s", created.Transaction.ID, msg.TransactionID)
	}
	if msg.Ticker != "AAPL" || msg.Side != "BUY" {
		t.Errorf("expected AAPL BUY, got %s %s", msg.Ticker, msg.Side)
	}
	if msg.Quantity != "10.000000" {
		t.Errorf("expected quantity 10.000000, got %s", msg.Quantity)
	}
	if msg.Version != 1 || msg.Version != created.Version {
		t.Errorf("expected version 1 matching response %d, got %d", created.Version, msg.Version)
	}

	cancel()
	waitForClients(t, hub, 0)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed after shutdown")
	}
}

func TestWSHub_DropsDisconnectedClient(t *testing.T) {
	srv, hub, _ := newWSServer(t)
	conn := dialWS(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// Broadcasting with nobody connected must not block.
	hub.Broadcast(portfolio.WSMessage{Type: "transaction_deleted", PortfolioID: "p1"})
}

func TestWSHub_RejectsClientsAfterShutdown(t *testing.T) {
	srv, hub, cancel := newWSServer(t)
	cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed by a stopped hub")
	}
	waitForClients(t, hub, 0)
}
