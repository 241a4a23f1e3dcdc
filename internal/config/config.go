// Package config loads curator configuration from YAML or TOML files.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// Config is the full curator configuration.
type Config struct {
	Storage    Storage    `yaml:"storage" toml:"storage"`
	Feeds      []Feed     `yaml:"feeds" toml:"feeds"`
	Discovery  Discovery  `yaml:"discovery" toml:"discovery"`
	Relevance  Relevance  `yaml:"relevance" toml:"relevance"`
	Extraction Extraction `yaml:"extraction" toml:"extraction"`
	Synthesis  Synthesis  `yaml:"synthesis" toml:"synthesis"`
	Cleanup    Cleanup    `yaml:"cleanup" toml:"cleanup"`
	LLM        LLM        `yaml:"llm" toml:"llm"`
	Server     Server     `yaml:"server" toml:"server"`
	Logging    Logging    `yaml:"logging" toml:"logging"`
}

// Storage locates the article store.
type Storage struct {
	Root string `yaml:"root" toml:"root"`
}

// Feed describes one source. Enabled defaults to true when omitted.
type Feed struct {
	Name    string `yaml:"name" toml:"name"`
	URL     string `yaml:"url" toml:"url"`
	Enabled *bool  `yaml:"enabled" toml:"enabled"`
}

// IsEnabled reports whether the feed should be fetched.
func (f Feed) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// Discovery configures feed fetching.
type Discovery struct {
	MaxAgeDays     int `yaml:"max_age_days" toml:"max_age_days"`
	RetentionDays  int `yaml:"retention_days" toml:"retention_days"`
	TimeoutSeconds int `yaml:"timeout_seconds" toml:"timeout_seconds"`
	// MaxPerFeed is accepted for compatibility but count-based pruning is
	// never applied; Discovery warns when it is set.
	MaxPerFeed int `yaml:"max_per_feed" toml:"max_per_feed"`
}

// Relevance configures LLM scoring against the reader's interests.
type Relevance struct {
	Threshold float64    `yaml:"threshold" toml:"threshold"`
	Model     string     `yaml:"model" toml:"model"`
	MaxTokens int        `yaml:"max_tokens" toml:"max_tokens"`
	Interests []Interest `yaml:"interests" toml:"interests"`
	Criteria  Criteria   `yaml:"evaluation_criteria" toml:"evaluation_criteria"`
}

// Interest is one weighted topic the reader cares about.
type Interest struct {
	Topic    string `yaml:"topic" toml:"topic"`
	Priority int    `yaml:"priority" toml:"priority"`
	Note     string `yaml:"note" toml:"note"`
}

// Criteria shapes the judgment prompt.
type Criteria struct {
	CriticalRequirements []string  `yaml:"critical_requirements" toml:"critical_requirements"`
	Exclusions           []string  `yaml:"exclusions" toml:"exclusions"`
	HighScore            ScoreBand `yaml:"high_score" toml:"high_score"`
	MediumScore          ScoreBand `yaml:"medium_score" toml:"medium_score"`
	LowScore             ScoreBand `yaml:"low_score" toml:"low_score"`
}

// ScoreBand maps a score range to a label in the judgment prompt.
type ScoreBand struct {
	Range       string `yaml:"range" toml:"range"`
	Description string `yaml:"description" toml:"description"`
}

// Extraction configures full-text fetching.
type Extraction struct {
	TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
	DelayMS        int    `yaml:"delay_ms" toml:"delay_ms"`
	UserAgent      string `yaml:"user_agent" toml:"user_agent"`
	Mode           string `yaml:"mode" toml:"mode"`
}

// Extraction modes.
const (
	ModeContainer   = "container"
	ModeReadability = "readability"
)

// Synthesis configures summary generation.
type Synthesis struct {
	Model             string `yaml:"model" toml:"model"`
	MaxInputChars     int    `yaml:"max_input_chars" toml:"max_input_chars"`
	NewsMaxTokens     int    `yaml:"news_max_tokens" toml:"news_max_tokens"`
	TutorialMaxTokens int    `yaml:"tutorial_max_tokens" toml:"tutorial_max_tokens"`
}

// Cleanup configures retention.
type Cleanup struct {
	RetentionDays int `yaml:"retention_days" toml:"retention_days"`
}

// LLM selects and configures the model provider.
type LLM struct {
	Provider       string  `yaml:"provider" toml:"provider"`
	Temperature    float64 `yaml:"temperature" toml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds" toml:"timeout_seconds"`

	OllamaURL   string `yaml:"ollama_url" toml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model" toml:"ollama_model"`

	OpenAIModel     string `yaml:"openai_model" toml:"openai_model"`
	OpenAIAPIKeyEnv string `yaml:"openai_api_key_env" toml:"openai_api_key_env"`

	AnthropicModel     string `yaml:"anthropic_model" toml:"anthropic_model"`
	AnthropicAPIKeyEnv string `yaml:"anthropic_api_key_env" toml:"anthropic_api_key_env"`
}

// Server configures the HTTP API.
type Server struct {
	Port int `yaml:"port" toml:"port"`
}

// Logging configures the slog handler.
type Logging struct {
	Level string `yaml:"level" toml:"level"`
}

// ConfigDir returns the XDG config directory for curator.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "curator")
}

// DataDir returns the XDG data directory for curator.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "curator")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/curator/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'curator init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config file. Files ending in .toml are parsed as
// TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return parseTOML(data)
	}
	return parse(data)
}

// Default returns a config with every default applied and no feeds.
func Default() *Config {
	return &Config{
		Storage: Storage{Root: DataDir()},
		Discovery: Discovery{
			MaxAgeDays:     3,
			RetentionDays:  7,
			TimeoutSeconds: 30,
		},
		Relevance: Relevance{
			Threshold: 6.0,
			MaxTokens: 512,
		},
		Extraction: Extraction{
			TimeoutSeconds: 30,
			DelayMS:        1000,
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Mode:           ModeContainer,
		},
		Synthesis: Synthesis{
			MaxInputChars:     8000,
			NewsMaxTokens:     800,
			TutorialMaxTokens: 2000,
		},
		Cleanup: Cleanup{RetentionDays: 7},
		LLM: LLM{
			Provider:           "openai",
			Temperature:        0.3,
			TimeoutSeconds:     120,
			OllamaURL:          "http://localhost:11434",
			OllamaModel:        "qwen2.5:7b",
			OpenAIModel:        "gpt-4o-mini",
			OpenAIAPIKeyEnv:    "OPENAI_API_KEY",
			AnthropicModel:     "claude-sonnet-4-20250514",
			AnthropicAPIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return finish(cfg)
}

func parseTOML(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.Storage.Root = expandHome(cfg.Storage.Root)
	for i := range cfg.Feeds {
		if cfg.Feeds[i].Name == "" {
			cfg.Feeds[i].Name = FeedNameFromURL(cfg.Feeds[i].URL)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants the stages rely on.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Storage.Root) == "" {
		errs = append(errs, errors.New("storage.root must not be empty"))
	}
	if c.Relevance.Threshold < 0 {
		errs = append(errs, errors.New("relevance.threshold must not be negative"))
	}
	if c.Discovery.MaxAgeDays < 0 || c.Discovery.RetentionDays < 0 || c.Cleanup.RetentionDays < 0 {
		errs = append(errs, errors.New("day windows must not be negative"))
	}
	switch c.Extraction.Mode {
	case ModeContainer, ModeReadability:
	default:
		errs = append(errs, fmt.Errorf("extraction.mode %q is not one of %s, %s", c.Extraction.Mode, ModeContainer, ModeReadability))
	}
	seen := make(map[string]bool, len(c.Feeds))
	for _, f := range c.Feeds {
		if f.URL == "" {
			errs = append(errs, fmt.Errorf("feed %q has no url", f.Name))
		}
		if f.Name == "" || strings.ContainsAny(f.Name, `/\`) || strings.HasPrefix(f.Name, ".") {
			errs = append(errs, fmt.Errorf("feed name %q is not usable as a directory name", f.Name))
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("duplicate feed name %q", f.Name))
		}
		seen[f.Name] = true
	}
	return errors.Join(errs...)
}

// EnabledFeeds returns the enabled feeds in configured order.
func (c *Config) EnabledFeeds() []Feed {
	var out []Feed
	for _, f := range c.Feeds {
		if f.IsEnabled() {
			out = append(out, f)
		}
	}
	return out
}

// Timeout returns the per-request document fetch timeout.
func (e Extraction) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// Delay returns the pause between document fetches.
func (e Extraction) Delay() time.Duration {
	return time.Duration(e.DelayMS) * time.Millisecond
}

// Timeout returns the per-feed fetch timeout.
func (d Discovery) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// FeedNameFromURL derives a display name from a feed URL's host.
func FeedNameFromURL(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}
	parts := strings.Split(host, ".")
	name := host
	if len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	return cases.Title(language.English).String(name)
}

func expandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
