// Package chainpilot is a Go client for the ChainPilot HTTP API.
package chainpilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Tool-assisted replies can involve on-chain transactions, so it is generous.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the ChainPilot REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Reply is the orchestrator's answer to one utterance.
type Reply struct {
	SessionID      string       `json:"session_id"`
	Text           string       `json:"reply"`
	Classification string       `json:"classification"`
	States         []string     `json:"states"`
	Invocations    []Invocation `json:"invocations,omitempty"`
	Ungrounded     bool         `json:"ungrounded,omitempty"`
	Code           string       `json:"code,omitempty"`
}

// Invocation describes one tool call made while answering.
type Invocation struct {
	Seq     int               `json:"seq"`
	Tool    string            `json:"tool"`
	Args    map[string]string `json:"args"`
	Status  string            `json:"status"`
	Summary string            `json:"summary,omitempty"`
	Error   *ErrorDescriptor  `json:"error,omitempty"`
}

// ErrorDescriptor is a coded failure attached to an invocation.
type ErrorDescriptor struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Turn is a single transcript entry.
type Turn struct {
	Index         int             `json:"index"`
	Role          string          `json:"role"`
	Kind          string          `json:"kind"`
	Content       string          `json:"content"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	InvocationSeq int             `json:"invocation_seq,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Transcript is a snapshot of a session.
type Transcript struct {
	ID          string            `json:"id"`
	Turns       []Turn            `json:"turns"`
	Invocations []Invocation      `json:"invocations"`
	Aliases     map[string]string `json:"aliases,omitempty"`
}

// JobRequest submits an utterance for asynchronous processing. ID makes the
// submission idempotent; an empty SessionID starts a new session.
type JobRequest struct {
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Utterance string `json:"utterance"`
}

// JobResult is the stored reply of a finished job.
type JobResult struct {
	Reply          string   `json:"reply"`
	Classification string   `json:"classification"`
	States         []string `json:"states"`
	Code           string   `json:"code,omitempty"`
	Invocations    int      `json:"invocations"`
}

// Job reports the state of an asynchronous submission.
type Job struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Utterance  string     `json:"utterance"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"max_retries"`
	LastError  string     `json:"last_error,omitempty"`
	ErrorCode  string     `json:"error_code,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
	CreatedAt  int64      `json:"created_at"`
	UpdatedAt  int64      `json:"updated_at"`
}

// Done reports whether the job will not be processed again.
func (j Job) Done() bool {
	switch j.Status {
	case "succeeded":
		return true
	case "failed":
		return j.Attempts >= j.MaxRetries
	}
	return false
}

// APIError represents a coded error returned by the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("chainpilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chainpilot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Submit sends an utterance and waits for the reply. An empty sessionID lets
// the server create a session; the returned Reply carries its id.
func (c *Client) Submit(ctx context.Context, sessionID, utterance string) (Reply, error) {
	endpoint := "/api/v1/messages"
	body := map[string]string{"utterance": utterance}
	if sessionID != "" {
		endpoint = "/api/v1/sessions/" + url.PathEscape(sessionID) + "/messages"
	}
	var reply Reply
	if err := c.send(ctx, http.MethodPost, endpoint, body, &reply); err != nil {
		return Reply{}, err
	}
	return reply, nil
}

// Reset discards a session's history.
func (c *Client) Reset(ctx context.Context, sessionID string) error {
	return c.send(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// Transcript fetches a session snapshot.
func (c *Client) Transcript(ctx context.Context, sessionID string) (Transcript, error) {
	var t Transcript
	if err := c.send(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(sessionID), nil, &t); err != nil {
		return Transcript{}, err
	}
	return t, nil
}

// EnqueueJob submits an utterance for asynchronous processing.
func (c *Client) EnqueueJob(ctx context.Context, req JobRequest) (Job, error) {
	var job Job
	if err := c.send(ctx, http.MethodPost, "/api/v1/jobs", req, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var job Job
	if err := c.send(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// WaitJob polls a job every interval until it is done or ctx expires. On
// expiry the last observed state is returned with ctx's error.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last Job
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return last, err
		}
		if job.Done() {
			return job, nil
		}
		last = job
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	// endpoint is already escaped; JoinPath keeps the escaping.
	u := c.baseURL.JoinPath(endpoint)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
