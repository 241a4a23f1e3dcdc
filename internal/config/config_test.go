package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Feeds) == 0 {
		t.Error("expected feeds to be populated")
	}
	if got := len(cfg.EnabledFeeds()); got != len(cfg.Feeds)-1 {
		t.Errorf("expected one disabled feed, got %d enabled of %d", got, len(cfg.Feeds))
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.LLM.Provider)
	}
	if cfg.Relevance.Threshold != 6.0 {
		t.Errorf("expected threshold 6.0, got %v", cfg.Relevance.Threshold)
	}
	if len(cfg.Relevance.Interests) == 0 {
		t.Error("expected interests to be populated")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if strings.HasPrefix(cfg.Storage.Root, "~") {
		t.Errorf("expected storage root to be expanded, got %q", cfg.Storage.Root)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
storage:
  root: /tmp/curator
llm:
  provider: anthropic
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected provider 'anthropic', got %q", cfg.LLM.Provider)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Discovery.MaxAgeDays != 3 || cfg.Discovery.RetentionDays != 7 {
		t.Errorf("expected discovery defaults 3/7, got %d/%d", cfg.Discovery.MaxAgeDays, cfg.Discovery.RetentionDays)
	}
	if cfg.Synthesis.NewsMaxTokens != 800 || cfg.Synthesis.TutorialMaxTokens != 2000 {
		t.Errorf("unexpected synthesis budgets %d/%d", cfg.Synthesis.NewsMaxTokens, cfg.Synthesis.TutorialMaxTokens)
	}
	if cfg.Extraction.Mode != ModeContainer {
		t.Errorf("expected default mode %q, got %q", ModeContainer, cfg.Extraction.Mode)
	}
	if cfg.Extraction.Delay().Seconds() != 1 {
		t.Errorf("expected 1s delay, got %v", cfg.Extraction.Delay())
	}
}

func TestFeedEnabledDefault(t *testing.T) {
	cfg, err := parse([]byte(`
storage:
  root: /tmp/curator
feeds:
  - name: a
    url: https://a.example.com/feed
  - name: b
    url: https://b.example.com/feed
    enabled: false
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Feeds[0].IsEnabled() {
		t.Error("feed without enabled key should be enabled")
	}
	if cfg.Feeds[1].IsEnabled() {
		t.Error("feed with enabled: false should be disabled")
	}
}

func TestDerivedFeedName(t *testing.T) {
	cfg, err := parse([]byte(`
storage:
  root: /tmp/curator
feeds:
  - url: https://blog.golang.org/feed.atom
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Feeds[0].Name != "Golang" {
		t.Errorf("expected derived name 'Golang', got %q", cfg.Feeds[0].Name)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"negative threshold": "relevance:\n  threshold: -1\n",
		"negative window":    "cleanup:\n  retention_days: -2\n",
		"bad mode":           "extraction:\n  mode: magic\n",
		"duplicate feed":     "feeds:\n  - {name: a, url: 'https://x/1'}\n  - {name: a, url: 'https://x/2'}\n",
		"traversal name":     "feeds:\n  - {name: ../a, url: 'https://x/1'}\n",
	}
	for name, body := range cases {
		if _, err := parse([]byte(body)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Feeds) == 0 {
		t.Error("expected feeds to be populated from file")
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[storage]
root = "/srv/curator"

[[feeds]]
name = "go"
url = "https://go.dev/blog/feed.atom"

[relevance]
threshold = 7.5

[[relevance.interests]]
topic = "Go"
priority = 1
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load toml config: %v", err)
	}
	if cfg.Storage.Root != "/srv/curator" {
		t.Errorf("expected root /srv/curator, got %q", cfg.Storage.Root)
	}
	if cfg.Relevance.Threshold != 7.5 {
		t.Errorf("expected threshold 7.5, got %v", cfg.Relevance.Threshold)
	}
	if len(cfg.Relevance.Interests) != 1 || cfg.Relevance.Interests[0].Topic != "Go" {
		t.Errorf("unexpected interests %+v", cfg.Relevance.Interests)
	}
	if cfg.Synthesis.MaxInputChars != 8000 {
		t.Errorf("expected default max_input_chars, got %d", cfg.Synthesis.MaxInputChars)
	}
}

func TestResolveConfigPathExplicitMissing(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}
