package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestHandlerExposesHTTPAndAgentMetrics(t *testing.T) {
	ObserveHTTPRequest("messages", "POST", 500, 120*time.Millisecond)
	ObserveTool("transfer", "failed", "INSUFFICIENT_FUNDS", time.Second)
	ObserveUtterance("tool_assisted", "ok")
	SetKnowledgePassages(42)

	body := scrape(t)
	for _, want := range []string{
		`chainpilot_http_requests_total{code="500",handler="messages",method="POST"} 1`,
		`chainpilot_http_request_errors_total{handler="messages",method="POST"} 1`,
		`chainpilot_agent_tool_invocations_total{code="INSUFFICIENT_FUNDS",status="failed",tool="transfer"} 1`,
		`chainpilot_agent_utterances_total{classification="tool_assisted",outcome="ok"} 1`,
		`chainpilot_knowledge_passages 42`,
		`go_goroutines`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
