// Package pricefeed fetches current USD token prices from the DefiLlama
// coins API.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/web3"
)

// DefaultBaseURL is the public DefiLlama coins endpoint.
const DefaultBaseURL = "https://coins.llama.fi"

// CodePriceUnavailable is returned when the feed has no price for a token.
const CodePriceUnavailable xerrors.Code = "PRICE_UNAVAILABLE"

func init() {
	xerrors.Register(CodePriceUnavailable, xerrors.Attributes{
		Message:  "price unavailable",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CategoryAdapter,
	})
}

// Quote is a token's USD price at a point in time.
type Quote struct {
	Symbol     string    `json:"symbol"`
	USD        float64   `json:"usd"`
	Confidence float64   `json:"confidence,omitempty"`
	At         time.Time `json:"at"`
}

// Client queries DefiLlama and caches quotes for a short TTL.
type Client struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]Quote
}

// New creates a Client. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		ttl:     30 * time.Second,
		now:     time.Now,
		cache:   make(map[string]Quote),
	}
}

func coinKey(tok web3.Token) string {
	if tok.Native {
		return "coingecko:ethereum"
	}
	return "ethereum:" + strings.ToLower(tok.Address.Hex())
}

// Price returns the current USD price of tok.
func (c *Client) Price(ctx context.Context, tok web3.Token) (Quote, error) {
	key := coinKey(tok)
	c.mu.Lock()
	if q, ok := c.cache[key]; ok && c.now().Sub(q.At) < c.ttl {
		c.mu.Unlock()
		return q, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/prices/current/"+key, nil)
	if err != nil {
		return Quote{}, xerrors.Wrap(web3.CodeAdapterFailure, err, "build price request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Quote{}, xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "price request cancelled")
		}
		return Quote{}, xerrors.Wrap(web3.CodeNetworkError, err, "price feed unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, xerrors.Wrap(web3.CodeNetworkError,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), "price feed unavailable")
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, xerrors.New(CodePriceUnavailable, fmt.Sprintf("price feed returned status %d", resp.StatusCode))
	}

	var decoded struct {
		Coins map[string]struct {
			Symbol     string  `json:"symbol"`
			Price      float64 `json:"price"`
			Timestamp  int64   `json:"timestamp"`
			Confidence float64 `json:"confidence"`
		} `json:"coins"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Quote{}, xerrors.Wrap(web3.CodeDecodeError, err, "decode price response")
	}
	coin, ok := decoded.Coins[key]
	if !ok || coin.Price <= 0 {
		return Quote{}, xerrors.New(CodePriceUnavailable, fmt.Sprintf("no price for %s", tok.Symbol))
	}
	q := Quote{Symbol: tok.Symbol, USD: coin.Price, Confidence: coin.Confidence, At: c.now()}
	c.mu.Lock()
	c.cache[key] = q
	c.mu.Unlock()
	return q, nil
}
