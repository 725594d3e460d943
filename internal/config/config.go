// Package config loads the coordinator configuration file. Decoding is
// strict in both formats: unknown fields are rejected, trailing documents
// are rejected, then defaults are applied and the result validated.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxWorkers    = 4
	defaultMaxAttempts   = 3
	defaultTaskTimeoutMS = 300000
	defaultGracePeriodMS = 10000

	defaultBackoffInitialMS = 500
	defaultBackoffFactor    = 2.0
	defaultBackoffMaxMS     = 30000

	defaultRejectThreshold = 3
	defaultScopeTolerance  = 0.8

	maxAttemptsCeiling = 10
)

// AgentConfig describes how one agent role is invoked: the argv to run and
// an optional per-invocation timeout.
type AgentConfig struct {
	Command   []string `json:"command,omitempty" yaml:"command,omitempty"`
	TimeoutMS int      `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
}

// Timeout returns the role timeout; zero means no role-specific limit.
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMS) * time.Millisecond
}

// AgentsConfig holds the three agent roles.
type AgentsConfig struct {
	Planner AgentConfig `json:"planner,omitempty" yaml:"planner,omitempty"`
	Worker  AgentConfig `json:"worker,omitempty" yaml:"worker,omitempty"`
	Judge   AgentConfig `json:"judge,omitempty" yaml:"judge,omitempty"`
}

// BackoffConfig shapes the retry delay curve: initial · factor^(attempt-1),
// capped at the maximum. Jitter smears delays deterministically per task.
type BackoffConfig struct {
	InitialDelayMS int     `json:"initialDelayMs,omitempty" yaml:"initialDelayMs,omitempty"`
	Factor         float64 `json:"factor,omitempty" yaml:"factor,omitempty"`
	MaxDelayMS     int     `json:"maxDelayMs,omitempty" yaml:"maxDelayMs,omitempty"`
	Jitter         bool    `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

// ReviewerConfig tunes the antipattern gate.
type ReviewerConfig struct {
	RejectThreshold int      `json:"rejectThreshold,omitempty" yaml:"rejectThreshold,omitempty"`
	ScopeTolerance  *float64 `json:"scopeTolerance,omitempty" yaml:"scopeTolerance,omitempty"`
	IgnoreGlobs     []string `json:"ignoreGlobs,omitempty" yaml:"ignoreGlobs,omitempty"`
}

// Config is the coordinator configuration. Pointer fields distinguish
// "absent, use the default" from an explicit zero: taskTimeoutMs=0 disables
// the per-attempt timeout, reportsEnabled=false suppresses report files.
type Config struct {
	Version        int            `json:"version,omitempty" yaml:"version,omitempty"`
	MaxWorkers     int            `json:"maxWorkers,omitempty" yaml:"maxWorkers,omitempty"`
	MaxAttempts    int            `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	TaskTimeoutMS  *int           `json:"taskTimeoutMs,omitempty" yaml:"taskTimeoutMs,omitempty"`
	GracePeriodMS  int            `json:"gracePeriodMs,omitempty" yaml:"gracePeriodMs,omitempty"`
	Backoff        BackoffConfig  `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	Reviewer       ReviewerConfig `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	Agents         AgentsConfig   `json:"agents,omitempty" yaml:"agents,omitempty"`
	ReportsEnabled *bool          `json:"reportsEnabled,omitempty" yaml:"reportsEnabled,omitempty"`
}

// TaskTimeout returns the per-attempt task timeout; zero disables it.
func (c *Config) TaskTimeout() time.Duration {
	if c.TaskTimeoutMS == nil {
		return defaultTaskTimeoutMS * time.Millisecond
	}
	return time.Duration(*c.TaskTimeoutMS) * time.Millisecond
}

// GracePeriod returns how long cancellation waits for in-flight workers.
func (c *Config) GracePeriod() time.Duration {
	if c.GracePeriodMS == 0 {
		return defaultGracePeriodMS * time.Millisecond
	}
	return time.Duration(c.GracePeriodMS) * time.Millisecond
}

// WriteReports reports whether markdown reports should be rendered.
func (c *Config) WriteReports() bool {
	return c.ReportsEnabled == nil || *c.ReportsEnabled
}

// ScopeTolerance returns the reviewer scope tolerance in [0,1].
func (c *Config) ScopeTolerance() float64 {
	if c.Reviewer.ScopeTolerance == nil {
		return defaultScopeTolerance
	}
	return *c.Reviewer.ScopeTolerance
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Locate returns the config file path under dir, preferring config.json
// over the YAML spellings. The boolean reports whether any file exists;
// when none does, the .json path is returned so callers have a canonical
// location to report.
func Locate(dir string) (string, bool) {
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return filepath.Join(dir, "config.json"), false
}

// Load reads the config file at path. A missing file is not an error: the
// defaults apply. A present but malformed file is. The format follows the
// extension: .json decodes as strict JSON, everything else as strict YAML.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	default:
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func decodeJSONStrict(b []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	// Attempts outside [1,10] are clamped rather than rejected.
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxAttempts > maxAttemptsCeiling {
		cfg.MaxAttempts = maxAttemptsCeiling
	}
	if cfg.TaskTimeoutMS == nil {
		v := defaultTaskTimeoutMS
		cfg.TaskTimeoutMS = &v
	}
	if cfg.GracePeriodMS == 0 {
		cfg.GracePeriodMS = defaultGracePeriodMS
	}
	if cfg.Backoff.InitialDelayMS == 0 {
		cfg.Backoff.InitialDelayMS = defaultBackoffInitialMS
	}
	if cfg.Backoff.Factor == 0 {
		cfg.Backoff.Factor = defaultBackoffFactor
	}
	if cfg.Backoff.MaxDelayMS == 0 {
		cfg.Backoff.MaxDelayMS = defaultBackoffMaxMS
	}
	if cfg.Reviewer.RejectThreshold == 0 {
		cfg.Reviewer.RejectThreshold = defaultRejectThreshold
	}
	if cfg.Reviewer.ScopeTolerance == nil {
		v := defaultScopeTolerance
		cfg.Reviewer.ScopeTolerance = &v
	}
	cfg.Reviewer.IgnoreGlobs = trimNonEmpty(cfg.Reviewer.IgnoreGlobs)
	cfg.Agents.Planner.Command = trimNonEmpty(cfg.Agents.Planner.Command)
	cfg.Agents.Worker.Command = trimNonEmpty(cfg.Agents.Worker.Command)
	cfg.Agents.Judge.Command = trimNonEmpty(cfg.Agents.Judge.Command)
	if cfg.ReportsEnabled == nil {
		t := true
		cfg.ReportsEnabled = &t
	}
}

func validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	if cfg.MaxWorkers < 1 {
		return fmt.Errorf("maxWorkers must be >= 1")
	}
	if cfg.TaskTimeoutMS != nil && *cfg.TaskTimeoutMS < 0 {
		return fmt.Errorf("taskTimeoutMs must be >= 0")
	}
	if cfg.GracePeriodMS < 0 {
		return fmt.Errorf("gracePeriodMs must be >= 0")
	}
	if cfg.Backoff.InitialDelayMS < 1 {
		return fmt.Errorf("backoff.initialDelayMs must be >= 1")
	}
	if cfg.Backoff.Factor < 1 {
		return fmt.Errorf("backoff.factor must be >= 1")
	}
	if cfg.Backoff.MaxDelayMS < cfg.Backoff.InitialDelayMS {
		return fmt.Errorf("backoff.maxDelayMs must be >= backoff.initialDelayMs")
	}
	if cfg.Reviewer.RejectThreshold < 1 {
		return fmt.Errorf("reviewer.rejectThreshold must be >= 1")
	}
	if tol := *cfg.Reviewer.ScopeTolerance; tol < 0 || tol > 1 {
		return fmt.Errorf("reviewer.scopeTolerance must be in [0,1], got %v", tol)
	}
	for _, rc := range []struct {
		role string
		ac   AgentConfig
	}{
		{"planner", cfg.Agents.Planner},
		{"worker", cfg.Agents.Worker},
		{"judge", cfg.Agents.Judge},
	} {
		if rc.ac.TimeoutMS < 0 {
			return fmt.Errorf("agents.%s.timeoutMs must be >= 0", rc.role)
		}
	}
	return nil
}

func trimNonEmpty(parts []string) []string {
	if len(parts) == 0 {
		return nil
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
