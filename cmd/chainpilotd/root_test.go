package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	chain := "default_chain: anvil\nchains: {}\n"
	if err := os.WriteFile(filepath.Join(dir, "chain.yaml"), []byte(chain), 0o644); err != nil {
		t.Fatalf("write chain.yaml: %v", err)
	}
	cfg := `{"web3": {"chain_config": "chain.yaml"}, "agent": {"default_slippage_bps": 75}}`
	path := filepath.Join(dir, "chainpilot.json")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) []byte {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("chainpilotd %v: %v\n%s", args, err, out.String())
	}
	return out.Bytes()
}

func TestAccountsCommandListsDevAccounts(t *testing.T) {
	out := execute(t, "accounts", "--config", writeConfig(t))

	var accounts []accountView
	if err := json.Unmarshal(out, &accounts); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	var names []string
	for _, a := range accounts {
		names = append(names, a.Name)
		if a.Signer != "local" {
			t.Fatalf("account %s signer = %s, want local", a.Name, a.Signer)
		}
	}
	want := []string{"alice", "bob", "charlie", "david", "eve"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("account names mismatch (-want +got):\n%s", diff)
	}
	if accounts[0].Address != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Fatalf("alice address = %s", accounts[0].Address)
	}
}

func TestToolsCommandPrintsCatalog(t *testing.T) {
	t.Setenv(configEnv, writeConfig(t))
	out := execute(t, "tools")

	var catalog []struct {
		Name       string         `json:"name"`
		Detached   bool           `json:"detached"`
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal(out, &catalog); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	byName := make(map[string]bool, len(catalog))
	for _, tool := range catalog {
		byName[tool.Name] = tool.Detached
		if tool.Parameters["type"] != "object" {
			t.Fatalf("tool %s parameters type = %v", tool.Name, tool.Parameters["type"])
		}
	}
	for _, name := range []string{"get_balance", "transfer", "swap", "search_docs"} {
		if _, ok := byName[name]; !ok {
			t.Fatalf("tool %s missing from catalog", name)
		}
	}
	if !byName["transfer"] || byName["get_balance"] {
		t.Fatalf("unexpected detached flags: %v", byName)
	}
}

func TestConfigPathPrecedence(t *testing.T) {
	t.Setenv(configEnv, "")
	opts := &rootOptions{}
	if got, want := opts.path(), filepath.Join("configs", "chainpilot.json"); got != want {
		t.Fatalf("default path = %s, want %s", got, want)
	}
	t.Setenv(configEnv, "/etc/chainpilot.json")
	if got := opts.path(); got != "/etc/chainpilot.json" {
		t.Fatalf("env path = %s", got)
	}
	opts.configPath = "local.json"
	if got := opts.path(); got != "local.json" {
		t.Fatalf("flag path = %s", got)
	}
}

func TestMissingConfigFails(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"tools", "--config", filepath.Join(t.TempDir(), "missing.json")})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestToolsCommandOffersWebSearchOnlyWithKey(t *testing.T) {
	path := writeConfig(t)
	names := func() map[string]bool {
		var catalog []struct {
			Name string `json:"name"`
		}
		out := execute(t, "tools", "--config", path)
		if err := json.Unmarshal(out, &catalog); err != nil {
			t.Fatalf("decode output: %v\n%s", err, out)
		}
		set := make(map[string]bool, len(catalog))
		for _, tool := range catalog {
			set[tool.Name] = true
		}
		return set
	}

	t.Setenv("BRAVE_API_KEY", "")
	if got := names(); got["search_web"] || !got["get_document"] {
		t.Fatalf("without a key: search_web=%v get_document=%v", got["search_web"], got["get_document"])
	}
	t.Setenv("BRAVE_API_KEY", "test-key")
	if got := names(); !got["search_web"] {
		t.Fatal("search_web missing with a configured key")
	}
}
