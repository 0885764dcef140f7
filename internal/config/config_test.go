package config

import (
	"os"
	"path/filepath"
	"testing"

	"ChainPilot/internal/tools"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chainpilot.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"knowledge": {"docs_dir": "docs"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	base := filepath.Dir(path)

	if cfg.Agent.TurnBudget != 5 || cfg.Agent.DefaultSlippageBps != tools.DefaultSlippageBps {
		t.Fatalf("unexpected agent defaults %+v", cfg.Agent)
	}
	if cfg.Knowledge.DocsDir != filepath.Join(base, "docs") {
		t.Fatalf("docs dir should resolve relative to the config file, got %s", cfg.Knowledge.DocsDir)
	}
	if cfg.Knowledge.StorePath != filepath.Join(base, "data", "knowledge.db") {
		t.Fatalf("unexpected store path %s", cfg.Knowledge.StorePath)
	}
	if cfg.Web3.ChainConfig != filepath.Join(base, "chain.yaml") {
		t.Fatalf("unexpected chain config %s", cfg.Web3.ChainConfig)
	}
	if cfg.Embedding.Provider != "hash" || cfg.Queue.Driver != "memory" || cfg.Jobs.Workers != 4 {
		t.Fatalf("unexpected defaults %+v %+v %+v", cfg.Embedding, cfg.Queue, cfg.Jobs)
	}
	if !cfg.Agent.SeedAliases() {
		t.Fatal("named accounts are seeded unless disabled")
	}
	if cfg.Auth.Mode != "disabled" || cfg.Server.ShutdownTimeoutSeconds != 10 {
		t.Fatalf("unexpected server defaults %+v %+v", cfg.Auth, cfg.Server)
	}
}

func TestLoadRejectsInvalidBudget(t *testing.T) {
	path := writeConfig(t, `{"agent": {"turn_budget": -1}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadRequiresDSNForMySQL(t *testing.T) {
	path := writeConfig(t, `{"storage": {"session_store": {"driver": "mysql"}}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected missing dsn error")
	}
}

func TestResolveAPIKeyFromEnv(t *testing.T) {
	t.Setenv("CHAINPILOT_TEST_KEY", " sk-test ")
	cfg := OpenAIConfig{APIKeyEnv: "CHAINPILOT_TEST_KEY"}
	if got := cfg.ResolveAPIKey(); got != "sk-test" {
		t.Fatalf("unexpected key %q", got)
	}
	cfg.APIKey = "explicit"
	if got := cfg.ResolveAPIKey(); got != "explicit" {
		t.Fatalf("explicit key should win, got %q", got)
	}
}
