// Package config loads and validates the logiclint configuration file and
// resolves backend credentials. Configuration errors are fatal and never
// retried: retrying cannot fix a config problem.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultPath is the config file location relative to the working root.
const DefaultPath = ".logiclint/logiclint.config.json"

// Backend configures one LLM vendor.
type Backend struct {
	Model      string `json:"model"`
	APIKeyFile string `json:"api_key_file"`
	// BaseURL overrides the vendor endpoint, e.g. for OpenAI-compatible
	// proxies. Empty keeps the vendor default.
	BaseURL string `json:"base_url,omitempty"`
}

// Run holds the pacing and retry knobs. Pointers distinguish "absent" from
// an explicit zero; all three are required.
type Run struct {
	SleepSecondsBetweenRequests *float64 `json:"sleep_seconds_between_requests"`
	MaxRetriesPerFile           *int     `json:"max_retries_per_file"`
	SleepSecondsBetweenRetries  *float64 `json:"sleep_seconds_between_retries"`
}

// Config is the parsed configuration file.
type Config struct {
	Output struct {
		Dir string `json:"dir"`
	} `json:"output"`
	Taxonomy  []string `json:"taxonomy"`
	Backend   string   `json:"backend"`
	Run       Run      `json:"run"`
	Gemini    *Backend `json:"gemini"`
	OpenAI    *Backend `json:"openai"`
	Anthropic *Backend `json:"anthropic"`
}

// Load reads and validates the config file. path may be empty, in which
// case DefaultPath under workRoot is used.
func Load(workRoot, path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(workRoot, DefaultPath)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s is not a valid JSON object: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fmt.Errorf("config: output.dir is required")
	}
	if len(c.Taxonomy) == 0 {
		return fmt.Errorf("config: taxonomy (non-empty array) is required")
	}
	switch strings.ToLower(c.Backend) {
	case "", "gemini", "openai", "anthropic":
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Run.SleepSecondsBetweenRequests == nil {
		return fmt.Errorf("config: run.sleep_seconds_between_requests is required")
	}
	if c.Run.MaxRetriesPerFile == nil {
		return fmt.Errorf("config: run.max_retries_per_file is required")
	}
	if c.Run.SleepSecondsBetweenRetries == nil {
		return fmt.Errorf("config: run.sleep_seconds_between_retries is required")
	}
	if *c.Run.SleepSecondsBetweenRequests < 0 || *c.Run.SleepSecondsBetweenRetries < 0 || *c.Run.MaxRetriesPerFile < 0 {
		return fmt.Errorf("config: run sleeps and max_retries must be >= 0")
	}
	name := c.BackendName()
	b := c.BackendConfig(name)
	if b == nil {
		return fmt.Errorf("config: %s section is required", name)
	}
	if strings.TrimSpace(b.Model) == "" {
		return fmt.Errorf("config: %s.model is required", name)
	}
	return nil
}

// BackendName returns the selected backend, defaulting to gemini.
func (c *Config) BackendName() string {
	if c.Backend == "" {
		return "gemini"
	}
	return strings.ToLower(c.Backend)
}

// BackendConfig returns the section for the named backend, or nil.
func (c *Config) BackendConfig(name string) *Backend {
	switch name {
	case "gemini":
		return c.Gemini
	case "openai":
		return c.OpenAI
	case "anthropic":
		return c.Anthropic
	}
	return nil
}

// SleepBetweenRequests is the pause between documents in batch mode.
func (c *Config) SleepBetweenRequests() time.Duration {
	return secondsToDuration(*c.Run.SleepSecondsBetweenRequests)
}

// SleepBetweenRetries is the pause between file-level retry attempts.
func (c *Config) SleepBetweenRetries() time.Duration {
	return secondsToDuration(*c.Run.SleepSecondsBetweenRetries)
}

// MaxRetries is the number of additional file-level attempts.
func (c *Config) MaxRetries() int { return *c.Run.MaxRetriesPerFile }

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// envKeys maps a backend name to its credential environment variable.
var envKeys = map[string]string{
	"gemini":    "GEMINI_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// ResolveKey returns the API key for the named backend: first from the
// configured key file (a raw string, a JSON string, or a JSON object with
// an "api_key" or "<backend>_api_key" member), then from the backend's
// environment variable. A missing credential is a hard error surfaced
// before any network activity.
func (c *Config) ResolveKey(workRoot, name string) (string, error) {
	b := c.BackendConfig(name)
	if b != nil && strings.TrimSpace(b.APIKeyFile) != "" {
		path := b.APIKeyFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(workRoot, path)
		}
		if key := keyFromFile(path, name); key != "" {
			return key, nil
		}
	}
	if key := strings.TrimSpace(os.Getenv(envKeys[name])); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("config: could not read an API key for %s (key file or %s)", name, envKeys[name])
}

// keyFromFile extracts an API key from a secret file. Returns "" when the
// file is missing or holds no usable key.
func keyFromFile(path, backend string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return ""
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		// Not JSON: the whole file is the key.
		return s
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		for _, k := range []string{backend + "_api_key", "api_key"} {
			if s, ok := val[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
