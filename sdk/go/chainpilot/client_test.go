package chainpilot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:8080", nil); err == nil {
		t.Fatalf("expected an error for a url without scheme")
	}
}

func TestSubmitUsesSessionPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.EscapedPath() != "/api/v1/sessions/team%2Fa/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.EscapedPath())
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["utterance"] != "balance of alice" {
			t.Errorf("unexpected body %v %v", body, err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id":     "team/a",
			"reply":          "alice holds 1000.0 USDC",
			"classification": "tool_assisted",
			"states":         []string{"awaiting_input", "grounding"},
		})
	})

	reply, err := c.Submit(context.Background(), "team/a", "balance of alice")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if reply.Text != "alice holds 1000.0 USDC" || reply.Classification != "tool_assisted" || len(reply.States) != 2 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestSubmitWithoutSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Reply{SessionID: "generated", Text: "hi"})
	})
	reply, err := c.Submit(context.Background(), "", "hello")
	if err != nil || reply.SessionID != "generated" {
		t.Fatalf("unexpected reply %+v %v", reply, err)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"会话不存在"}}`))
	})
	err := c.Reset(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "NOT_FOUND" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestResetAcceptsNoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.Reset(context.Background(), "s1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}

func TestTranscript(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Transcript{ID: "s1", Turns: []Turn{{Index: 0, Role: "user", Kind: "utterance", Content: "hi"}}})
	})
	tr, err := c.Transcript(context.Background(), "s1")
	if err != nil || tr.ID != "s1" || len(tr.Turns) != 1 {
		t.Fatalf("unexpected transcript %+v %v", tr, err)
	}
}

func TestEnqueueAndWaitJob(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/jobs":
			var req JobRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Job{ID: req.ID, SessionID: "s", Utterance: req.Utterance, Status: "pending", MaxRetries: 3})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/jobs/j1":
			job := Job{ID: "j1", Status: "running", Attempts: 1, MaxRetries: 3}
			if polls.Add(1) >= 3 {
				job.Status = "succeeded"
				job.Result = &JobResult{Reply: "done"}
			}
			_ = json.NewEncoder(w).Encode(job)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := c.EnqueueJob(ctx, JobRequest{ID: "j1", Utterance: "swap 1 ETH to USDC"})
	if err != nil || job.Status != "pending" {
		t.Fatalf("EnqueueJob: %+v %v", job, err)
	}
	final, err := c.WaitJob(ctx, "j1", time.Millisecond)
	if err != nil {
		t.Fatalf("WaitJob: %v", err)
	}
	if final.Status != "succeeded" || final.Result.Reply != "done" || polls.Load() != 3 {
		t.Fatalf("unexpected final job %+v after %d polls", final, polls.Load())
	}
}

func TestWaitJobHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Job{ID: "j", Status: "failed", Attempts: 1, MaxRetries: 3})
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	job, err := c.WaitJob(ctx, "j", time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if job.Status != "failed" {
		t.Fatalf("expected last observed job, got %+v", job)
	}
}
