package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, APIKey: "test-key", Timeout: 2 * time.Second}), srv
}

func TestPrice(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/token/MINT1" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"symbol": "TKN", "price": 2.75, "price1d": 2.5})
	})

	price, err := c.Price(context.Background(), "MINT1")
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}
	if price != 2.75 {
		t.Errorf("Price = %v, want 2.75", price)
	}

	info, err := c.TokenInfo(context.Background(), "MINT1")
	if err != nil {
		t.Fatalf("TokenInfo error: %v", err)
	}
	if info.Symbol != "TKN" || math.Abs(info.Change24h-10) > 1e-9 {
		t.Errorf("TokenInfo = %+v, want symbol TKN and +10%%", info)
	}
}

func TestBalances(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/account/token-balance/W1" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"nativeBalance":"150.5","data":[
			{"mintAddress":"USDC","symbol":"USDC","amount":"42.25"},
			{"mintAddress":"BAD","symbol":"BAD","amount":"n/a"}]}`))
	})

	all, err := c.Balances(context.Background(), "W1")
	if err != nil {
		t.Fatalf("Balances error: %v", err)
	}
	if all[alert.NativeAsset] != 150.5 {
		t.Errorf("native = %v, want 150.5", all[alert.NativeAsset])
	}
	if all["USDC"] != 42.25 {
		t.Errorf("USDC = %v, want 42.25", all["USDC"])
	}
	if _, ok := all["BAD"]; ok {
		t.Error("unparseable amount should be skipped")
	}

	missing, err := c.Balance(context.Background(), "W1", "OTHER")
	if err != nil {
		t.Fatalf("Balance error: %v", err)
	}
	if missing != 0 {
		t.Errorf("Balance(OTHER) = %v, want 0", missing)
	}
}

func TestTVLAndActiveUsers(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/program/PROG/tvl":
			_, _ = w.Write([]byte(`{"tvl":1234567.5}`))
		case "/program/PROG/active-users":
			if r.URL.Query().Get("range") != "7d" && r.URL.Query().Get("range") != "24h" {
				http.Error(w, "bad range", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"activeUsers":321}`))
		default:
			http.NotFound(w, r)
		}
	})

	tvl, err := c.TVL(context.Background(), "PROG")
	if err != nil || tvl != 1234567.5 {
		t.Errorf("TVL = %v, %v; want 1234567.5", tvl, err)
	}
	users, err := c.ActiveUsers(context.Background(), "PROG", "7d")
	if err != nil || users != 321 {
		t.Errorf("ActiveUsers(7d) = %v, %v; want 321", users, err)
	}
	users, err = c.ActiveUsers(context.Background(), "PROG", "")
	if err != nil || users != 321 {
		t.Errorf("ActiveUsers(default) = %v, %v; want 321", users, err)
	}
}

func TestErrorsWrapUnavailable(t *testing.T) {
	tests := []struct {
		name string
		h    http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"bad json", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{not json`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.h)
			_, err := c.TVL(context.Background(), "PROG")
			if !errors.Is(err, ErrUnavailable) {
				t.Errorf("error = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestCancelledContext(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"price":1}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Price(ctx, "M"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < breakerFailures+3; i++ {
		if _, err := c.Price(context.Background(), "M"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: error = %v, want ErrUnavailable", i, err)
		}
	}
	if got := hits.Load(); got != breakerFailures {
		t.Errorf("server hits = %d, want %d (breaker should short-circuit)", got, breakerFailures)
	}
}
