package pricefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/web3"
)

func TestPriceQueriesAndCaches(t *testing.T) {
	usdc := web3.DefaultTokens()[0]
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		want := "/prices/current/ethereum:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
		if r.URL.Path != want {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"coins": map[string]any{
			"ethereum:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": map[string]any{"symbol": "USDC", "price": 0.9998, "confidence": 0.99},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	q, err := c.Price(context.Background(), usdc)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if q.Symbol != "USDC" || q.USD != 0.9998 {
		t.Fatalf("unexpected quote %+v", q)
	}
	if _, err := c.Price(context.Background(), usdc); err != nil {
		t.Fatalf("cached price: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single upstream request, got %d", hits.Load())
	}
}

func TestPriceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/prices/current/coingecko:ethereum" {
			http.Error(w, "upstream", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"coins":{}}`))
	}))
	defer srv.Close()
	c := New(srv.URL, time.Second)

	_, err := c.Price(context.Background(), web3.NativeToken())
	if !xerrors.HasCode(err, web3.CodeNetworkError) || !xerrors.RetryableError(err) {
		t.Fatalf("expected retryable NETWORK_ERROR, got %v", err)
	}
	_, err = c.Price(context.Background(), web3.DefaultTokens()[1])
	if !xerrors.HasCode(err, CodePriceUnavailable) {
		t.Fatalf("expected PRICE_UNAVAILABLE, got %v", err)
	}
}
