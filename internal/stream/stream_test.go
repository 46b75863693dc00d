package stream

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"memecoin-lending-oracle/internal/domain"
	"memecoin-lending-oracle/internal/pricing"
	"memecoin-lending-oracle/internal/storage/memory"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testClient(url string, cache *pricing.Cache, audit *memory.AuditStore) *Client {
	cfg := DefaultConfig(url)
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.MaxReconnectAttempts = 3
	return NewClient(cfg, cache, nil, audit, nil)
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClient_AcceptsValidUpdate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Expect the subscription first.
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub subscribeRequest
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Op != "subscribe" {
			t.Errorf("expected subscribe, got %s", msg)
			return
		}
		if len(sub.Mints) != 1 || sub.Mints[0] != "MintA" {
			t.Errorf("expected MintA subscription, got %v", sub.Mints)
		}

		conn.WriteJSON(priceUpdate{Op: "price", Mint: "MintA", USD: 1.23, Native: 0.006, Ts: 1700000000000})

		// Hold the connection open.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cache := pricing.NewCache(time.Hour)
	client := testClient(wsURL(server), cache, nil)
	if err := client.Track("MintA"); err != nil {
		t.Fatalf("Track: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if rec, ok := cache.Get("MintA"); ok {
			if rec.USDPrice != 1.23 {
				t.Errorf("expected 1.23, got %v", rec.USDPrice)
			}
			if rec.NativePrice != 0.006 {
				t.Errorf("expected native 0.006, got %v", rec.NativePrice)
			}
			if rec.Source != domain.SourceStream {
				t.Errorf("expected stream source, got %s", rec.Source)
			}
			if rec.ObservedAtMs != 1700000000000 {
				t.Errorf("expected upstream timestamp, got %d", rec.ObservedAtMs)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("update never reached the cache")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestClient_RejectsInvalidUpdates(t *testing.T) {
	cache := pricing.NewCache(time.Hour)
	audit := memory.NewAuditStore()
	client := NewClient(DefaultConfig("ws://unused"), cache, nil, audit, nil)

	cases := []struct {
		name   string
		update priceUpdate
	}{
		{"missing mint", priceUpdate{Op: "price", USD: 1}},
		{"zero price", priceUpdate{Op: "price", Mint: "M", USD: 0}},
		{"negative price", priceUpdate{Op: "price", Mint: "M", USD: -1}},
		{"nan price", priceUpdate{Op: "price", Mint: "M", USD: math.NaN()}},
		{"inf price", priceUpdate{Op: "price", Mint: "M", USD: math.Inf(1)}},
		{"absurd price", priceUpdate{Op: "price", Mint: "M", USD: 2e9}},
		{"negative native", priceUpdate{Op: "price", Mint: "M", USD: 1, Native: -0.1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if reason, ok := client.validate(&tc.update); ok {
				t.Errorf("expected rejection, got accept (reason %q)", reason)
			}
		})
	}

	if cache.Len() != 0 {
		t.Errorf("rejected updates must not reach the cache, got %d entries", cache.Len())
	}
}

func TestClient_AnomalySignalStillAccepts(t *testing.T) {
	cache := pricing.NewCache(time.Hour)
	audit := memory.NewAuditStore()
	client := NewClient(DefaultConfig("ws://unused"), cache, nil, audit, nil)

	cache.Put(&domain.PriceRecord{Mint: "MintA", USDPrice: 1.0, Source: domain.SourceJupiter, ObservedAtMs: time.Now().UnixMilli()})

	// A 100% move: anomaly, but accepted.
	msg, _ := json.Marshal(priceUpdate{Op: "price", Mint: "MintA", USD: 2.0, Native: 0.01, Ts: time.Now().UnixMilli()})
	client.handleMessage(context.Background(), msg)

	rec, ok := cache.Get("MintA")
	if !ok || rec.USDPrice != 2.0 {
		t.Fatalf("anomalous update must still be accepted, got %+v", rec)
	}

	events := audit.EventsOfType(domain.EventPriceAnomaly)
	if len(events) != 1 {
		t.Fatalf("expected 1 anomaly event, got %d", len(events))
	}
	if events[0].Severity != domain.SeverityCritical {
		t.Errorf("expected critical severity, got %s", events[0].Severity)
	}
}

func TestClient_SmallMoveIsNotAnomalous(t *testing.T) {
	cache := pricing.NewCache(time.Hour)
	audit := memory.NewAuditStore()
	client := NewClient(DefaultConfig("ws://unused"), cache, nil, audit, nil)

	cache.Put(&domain.PriceRecord{Mint: "MintA", USDPrice: 1.0, Source: domain.SourceJupiter, ObservedAtMs: time.Now().UnixMilli()})

	msg, _ := json.Marshal(priceUpdate{Op: "price", Mint: "MintA", USD: 1.3, Ts: time.Now().UnixMilli()})
	client.handleMessage(context.Background(), msg)

	if events := audit.EventsOfType(domain.EventPriceAnomaly); len(events) != 0 {
		t.Errorf("30%% move should not be anomalous, got %d events", len(events))
	}
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	// A plain HTTP server rejects the websocket upgrade, failing every dial.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	audit := memory.NewAuditStore()
	client := testClient(wsURL(server), pricing.NewCache(time.Hour), audit)

	err := client.Run(context.Background())
	if err == nil {
		t.Fatal("expected give-up error")
	}
	if client.State() != StateGaveUp {
		t.Errorf("expected gave_up state, got %s", client.State())
	}

	events := audit.EventsOfType(domain.EventStreamGaveUp)
	if len(events) != 1 {
		t.Fatalf("expected 1 give-up event, got %d", len(events))
	}
	if events[0].Severity != domain.SeverityCritical {
		t.Errorf("expected critical severity, got %s", events[0].Severity)
	}
}

func TestClient_ResubscribesAfterReconnect(t *testing.T) {
	var conns atomic.Int64
	subs := make(chan []string, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)

		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}
		var sub subscribeRequest
		json.Unmarshal(msg, &sub)
		subs <- sub.Mints

		if n == 1 {
			// Drop the first connection to force a reconnect.
			conn.Close()
			return
		}

		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client := testClient(wsURL(server), pricing.NewCache(time.Hour), nil)
	client.Track("MintA", "MintB")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case mints := <-subs:
			if len(mints) != 2 {
				t.Errorf("connection %d: expected full tracked set, got %v", i+1, mints)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d: no subscription received", i+1)
		}
	}
}

func TestClient_TrackIsAdditive(t *testing.T) {
	client := NewClient(DefaultConfig("ws://unused"), pricing.NewCache(time.Hour), nil, nil, nil)

	client.Track("A", "B")
	client.Track("B", "C")
	client.Track()

	mints := client.TrackedMints()
	if len(mints) != 3 {
		t.Errorf("expected 3 tracked mints, got %v", mints)
	}
}
