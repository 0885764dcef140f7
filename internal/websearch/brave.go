// Package websearch queries the Brave Search web API for the search_web tool.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/web3"
)

// DefaultBaseURL is the public Brave Search API endpoint.
const DefaultBaseURL = "https://api.search.brave.com"

// CodeSearchUnavailable is returned when the search API rejects a request or
// no API key is configured.
const CodeSearchUnavailable xerrors.Code = "SEARCH_UNAVAILABLE"

func init() {
	xerrors.Register(CodeSearchUnavailable, xerrors.Attributes{
		Message:  "web search unavailable",
		Severity: xerrors.SeverityWarning,
		Category: xerrors.CategoryAdapter,
	})
}

// Result is a single web search hit.
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Client calls Brave Search.
type Client struct {
	baseURL string
	apiKey  string
	count   int
	http    *http.Client
}

// New creates a Client. count is the default number of results per query.
func New(baseURL, apiKey string, count int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if count <= 0 {
		count = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		count:   count,
		http:    &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c != nil && c.apiKey != "" }

// Search returns at most count results for query. A non-positive count uses
// the client default; Brave caps it at 20.
func (c *Client) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if !c.Enabled() {
		return nil, xerrors.New(CodeSearchUnavailable, "no web search API key configured")
	}
	if count <= 0 {
		count = c.count
	}
	count = min(count, 20)

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(count))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/res/v1/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, xerrors.Wrap(CodeSearchUnavailable, err, "build search request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "search request cancelled")
		}
		return nil, xerrors.Wrap(web3.CodeNetworkError, err, "search API unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, xerrors.Wrap(web3.CodeNetworkError,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), "search API unavailable")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.New(CodeSearchUnavailable, fmt.Sprintf("search API returned status %d", resp.StatusCode))
	}

	var decoded struct {
		Web struct {
			Results []Result `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(web3.CodeDecodeError, err, "decode search response")
	}
	results := decoded.Web.Results
	if len(results) > count {
		results = results[:count]
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}
