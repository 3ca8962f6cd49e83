// Package config loads and validates the pipeline configuration. The
// resolved Config is read-only after Load; every stage receives it as-is and
// must not mutate it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Tool identifiers the pipeline can invoke. This set is fixed at compile
// time: configuration can disable members but never extend the set.
const (
	ToolClaude = "claude"
	ToolCodex  = "codex"
	ToolGemini = "gemini"
)

// Tools returns the whitelisted tool identifiers in slot order. Aggregation,
// summary rendering, and slot numbering all follow this order.
func Tools() []string {
	return []string{ToolClaude, ToolCodex, ToolGemini}
}

// KnownTool reports whether id is a whitelisted tool identifier.
func KnownTool(id string) bool {
	for _, t := range Tools() {
		if t == id {
			return true
		}
	}
	return false
}

// Config holds the full pipeline configuration.
type Config struct {
	Version    int    `yaml:"version"`
	ReportsDir string `yaml:"reports_dir"`
	PromptFile string `yaml:"prompt_file"`

	// Per-tool invocation settings, keyed by whitelisted identifier.
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Pull request context echoed into every normalized report.
	PR PRConfig `yaml:"pr"`

	// Test artifact locations handed to the reviewers as context.
	Tests TestsConfig `yaml:"tests"`

	// Run history ledger.
	Ledger LedgerConfig `yaml:"ledger"`
}

// ProviderConfig configures a single review tool invocation.
type ProviderConfig struct {
	// Enabled defaults to true when the key is absent. A provider is only
	// skipped when the config says so explicitly.
	Enabled        *bool    `yaml:"enabled"`
	Model          string   `yaml:"model"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Binary         string   `yaml:"binary"`
	ExtraArgs      []string `yaml:"extra_args"`
}

// IsEnabled reports whether the provider should run.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Timeout returns the per-invocation wall clock limit.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// PRConfig describes the pull request under review.
type PRConfig struct {
	Repository string `yaml:"repository"`
	Number     int    `yaml:"number"`
	HeadSHA    string `yaml:"head_sha"`
	Branch     string `yaml:"branch"`
	URL        string `yaml:"url"`
}

// TestsConfig points at the test artifacts produced before the review runs.
type TestsConfig struct {
	JUnitPath    string `yaml:"junit_path"`
	CoveragePath string `yaml:"coverage_path"`
	LogPath      string `yaml:"log_path"`
}

// LedgerConfig configures the run history database.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default configuration: all three tools enabled
// with their stock models and a 20 minute per-invocation budget.
func DefaultConfig() *Config {
	return &Config{
		Version:    1,
		ReportsDir: "reports",
		Providers: map[string]ProviderConfig{
			ToolClaude: {Model: "claude-sonnet-4-5", TimeoutSeconds: 1200},
			ToolCodex:  {Model: "gpt-5-codex", TimeoutSeconds: 1200},
			ToolGemini: {Model: "gemini-2.5-pro", TimeoutSeconds: 1200},
		},
	}
}

// Load reads configuration from a YAML file, merging over defaults. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyProviderDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyProviderDefaults backfills zero fields of user-supplied provider
// blocks and materializes entries for whitelisted tools the file omitted.
// Unmarshal replaces map entries wholesale, so defaults are re-applied here
// rather than relying on the pre-populated map.
func (c *Config) applyProviderDefaults() {
	defaults := DefaultConfig().Providers
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig, len(defaults))
	}
	for _, id := range Tools() {
		entry := c.Providers[id]
		def := defaults[id]
		if entry.Model == "" {
			entry.Model = def.Model
		}
		if entry.TimeoutSeconds == 0 {
			entry.TimeoutSeconds = def.TimeoutSeconds
		}
		c.Providers[id] = entry
	}
}

// applyEnvOverrides fills PR context from the environment when the file left
// it unset. CI workflows export these instead of templating the YAML.
func (c *Config) applyEnvOverrides() {
	if c.PR.Repository == "" {
		c.PR.Repository = os.Getenv("PR_REPOSITORY")
	}
	if c.PR.Number == 0 {
		if n, err := strconv.Atoi(os.Getenv("PR_NUMBER")); err == nil {
			c.PR.Number = n
		}
	}
	if c.PR.HeadSHA == "" {
		c.PR.HeadSHA = os.Getenv("PR_HEAD_SHA")
	}
	if c.PR.Branch == "" {
		c.PR.Branch = os.Getenv("PR_BRANCH")
	}
	if c.PR.URL == "" {
		c.PR.URL = os.Getenv("PR_URL")
	}
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if c.Version != 0 && c.Version != 1 {
		return fmt.Errorf("unsupported config version %d", c.Version)
	}
	if c.ReportsDir == "" {
		return fmt.Errorf("reports_dir is required")
	}
	for id, p := range c.Providers {
		if !KnownTool(id) {
			return fmt.Errorf("unknown provider %q in config (known: %v)", id, Tools())
		}
		if p.TimeoutSeconds < 0 {
			return fmt.Errorf("provider %q: timeout_seconds must be positive", id)
		}
	}
	return nil
}

// Provider returns the resolved settings for a whitelisted tool.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	p, ok := c.Providers[id]
	return p, ok
}

// EnabledTools returns the enabled tool identifiers in slot order.
func (c *Config) EnabledTools() []string {
	var out []string
	for _, id := range Tools() {
		if p, ok := c.Providers[id]; ok && p.IsEnabled() {
			out = append(out, id)
		}
	}
	return out
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
