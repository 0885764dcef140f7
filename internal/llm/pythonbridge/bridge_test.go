package pythonbridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/llm"
)

func script(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reasoner.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCompleteParsesToolCall(t *testing.T) {
	path := script(t, `cat >/dev/null
echo '{"tool_call":{"id":"c1","name":"get_balance","arguments":"{\"account\":\"alice\"}"}}'
`)
	client, err := NewClient("sh", path, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	res, err := client.Complete(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "balance?"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	call, ok := res.(llm.ToolCallRequest)
	if !ok || call.Name != "get_balance" || string(call.RawArgs) != `{"account":"alice"}` {
		t.Fatalf("unexpected result %#v", res)
	}
}

func TestCompleteText(t *testing.T) {
	path := script(t, `cat >/dev/null
echo '{"text":"hello"}'
`)
	client, _ := NewClient("sh", path, "")
	res, err := client.Complete(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text, ok := res.(llm.TextResult); !ok || text.Text != "hello" {
		t.Fatalf("unexpected result %#v", res)
	}
}

func TestCompleteScriptFailureIsRetryable(t *testing.T) {
	path := script(t, "exit 3\n")
	client, _ := NewClient("sh", path, "")
	_, err := client.Complete(context.Background(), llm.Request{})
	if !xerrors.HasCode(err, llm.CodeReasoningUnavailable) || !xerrors.RetryableError(err) {
		t.Fatalf("expected retryable REASONING_UNAVAILABLE, got %v", err)
	}
}

func TestCompleteGarbageIsFailure(t *testing.T) {
	path := script(t, "cat >/dev/null\necho not-json\n")
	client, _ := NewClient("sh", path, "")
	_, err := client.Complete(context.Background(), llm.Request{})
	if !xerrors.HasCode(err, llm.CodeReasoningFailure) {
		t.Fatalf("expected REASONING_FAILURE, got %v", err)
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/srv", "bridge.py"); got != filepath.Join("/srv", "bridge.py") {
		t.Fatalf("unexpected path %s", got)
	}
	if got := ResolveScriptPath("/srv", "/abs/bridge.py"); got != "/abs/bridge.py" {
		t.Fatalf("unexpected path %s", got)
	}
}
