package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Version != 1 {
		t.Fatalf("version: got %d want 1", cfg.Version)
	}
	if cfg.MaxWorkers != 4 || cfg.MaxAttempts != 3 {
		t.Fatalf("workers/attempts: got %d/%d want 4/3", cfg.MaxWorkers, cfg.MaxAttempts)
	}
	if got := cfg.TaskTimeout(); got != 5*time.Minute {
		t.Fatalf("task timeout: got %v want 5m", got)
	}
	if got := cfg.GracePeriod(); got != 10*time.Second {
		t.Fatalf("grace period: got %v want 10s", got)
	}
	if cfg.Backoff.InitialDelayMS != 500 || cfg.Backoff.Factor != 2.0 || cfg.Backoff.MaxDelayMS != 30000 || cfg.Backoff.Jitter {
		t.Fatalf("backoff defaults: got %+v", cfg.Backoff)
	}
	if cfg.Reviewer.RejectThreshold != 3 || cfg.ScopeTolerance() != 0.8 {
		t.Fatalf("reviewer defaults: got threshold=%d tolerance=%v", cfg.Reviewer.RejectThreshold, cfg.ScopeTolerance())
	}
	if !cfg.WriteReports() {
		t.Fatalf("reports should default to enabled")
	}
}

func TestLoad_JSONOverridesAndFillsDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"maxWorkers": 2,
		"backoff": {"initialDelayMs": 100, "jitter": true},
		"reviewer": {"scopeTolerance": 0.5, "ignoreGlobs": ["vendor/**", "  ", "**/*.gen.ts"]},
		"agents": {"worker": {"command": ["./worker.sh", "--fast"], "timeoutMs": 1000}},
		"reportsEnabled": false
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxWorkers != 2 {
		t.Fatalf("maxWorkers: got %d want 2", cfg.MaxWorkers)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("maxAttempts default: got %d want 3", cfg.MaxAttempts)
	}
	if cfg.Backoff.InitialDelayMS != 100 || !cfg.Backoff.Jitter || cfg.Backoff.MaxDelayMS != 30000 {
		t.Fatalf("backoff: got %+v", cfg.Backoff)
	}
	if cfg.ScopeTolerance() != 0.5 {
		t.Fatalf("scopeTolerance: got %v want 0.5", cfg.ScopeTolerance())
	}
	if len(cfg.Reviewer.IgnoreGlobs) != 2 || cfg.Reviewer.IgnoreGlobs[0] != "vendor/**" {
		t.Fatalf("ignoreGlobs: got %v", cfg.Reviewer.IgnoreGlobs)
	}
	if len(cfg.Agents.Worker.Command) != 2 || cfg.Agents.Worker.Timeout() != time.Second {
		t.Fatalf("worker agent: got %+v", cfg.Agents.Worker)
	}
	if cfg.WriteReports() {
		t.Fatalf("reportsEnabled=false not honored")
	}
}

func TestLoad_YAMLByExtension(t *testing.T) {
	path := writeConfig(t, "config.yaml", strings.Join([]string{
		"maxWorkers: 8",
		"taskTimeoutMs: 0",
		"agents:",
		"  planner:",
		"    command: [\"planner\", \"--json\"]",
	}, "\n"))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxWorkers != 8 {
		t.Fatalf("maxWorkers: got %d want 8", cfg.MaxWorkers)
	}
	if got := cfg.TaskTimeout(); got != 0 {
		t.Fatalf("explicit zero timeout: got %v want 0", got)
	}
	if len(cfg.Agents.Planner.Command) != 2 || cfg.Agents.Planner.Command[0] != "planner" {
		t.Fatalf("planner command: got %v", cfg.Agents.Planner.Command)
	}
}

func TestLoad_RejectsUnknownAndTrailing(t *testing.T) {
	cases := []struct {
		name, file, contents string
	}{
		{"unknown json field", "config.json", `{"workers": 4}`},
		{"unknown yaml field", "config.yaml", "workers: 4\n"},
		{"trailing json value", "config.json", `{"maxWorkers": 2}{"maxWorkers": 3}`},
		{"second yaml document", "config.yaml", "maxWorkers: 2\n---\nmaxWorkers: 3\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.file, tc.contents)); err == nil {
				t.Fatalf("expected decode error")
			}
		})
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name, contents string
	}{
		{"bad version", `{"version": 2}`},
		{"negative workers", `{"maxWorkers": -1}`},
		{"negative task timeout", `{"taskTimeoutMs": -5}`},
		{"backoff factor below one", `{"backoff": {"factor": 0.5}}`},
		{"backoff cap below initial", `{"backoff": {"initialDelayMs": 1000, "maxDelayMs": 200}}`},
		{"scope tolerance above one", `{"reviewer": {"scopeTolerance": 1.5}}`},
		{"negative agent timeout", `{"agents": {"judge": {"timeoutMs": -1}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, "config.json", tc.contents)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoad_ClampsMaxAttempts(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.json", `{"maxAttempts": 99}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxAttempts != 10 {
		t.Fatalf("maxAttempts: got %d want 10 (clamped)", cfg.MaxAttempts)
	}

	cfg, err = Load(writeConfig(t, "config.json", `{"maxAttempts": -2}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxAttempts != 1 {
		t.Fatalf("maxAttempts: got %d want 1 (clamped)", cfg.MaxAttempts)
	}
}

func TestLocate_PrefersJSON(t *testing.T) {
	dir := t.TempDir()
	if _, ok := Locate(dir); ok {
		t.Fatalf("empty dir should locate nothing")
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte("maxWorkers: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	path, ok := Locate(dir)
	if !ok || filepath.Base(path) != "config.yml" {
		t.Fatalf("locate yml: got %q ok=%v", path, ok)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	path, ok = Locate(dir)
	if !ok || filepath.Base(path) != "config.json" {
		t.Fatalf("locate json: got %q ok=%v", path, ok)
	}
}
