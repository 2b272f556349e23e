package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func isolate(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	t.Setenv("PREFSIM_CONFIG_DIR", tempDir)
	t.Setenv("PREFSIM_DEFAULT_CONFIG", filepath.Join(tempDir, "missing-default.yaml"))
	t.Setenv("PREFSIM_GLOBAL_CONFIG", filepath.Join(tempDir, "missing-global.yaml"))
	return tempDir
}

func TestLoadConfigMergeAndOverrides(t *testing.T) {
	tempDir := isolate(t)
	defaultPath := filepath.Join(tempDir, "default.yaml")
	globalPath := filepath.Join(tempDir, "global.yaml")
	projectDir := filepath.Join(tempDir, "project")
	projectPath := filepath.Join(projectDir, "prefsim.yaml")

	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("mkdir project: %v", err)
	}

	writeFile(t, defaultPath, "batch_size: 20\nbackend: claude\nlogging:\n  level: info\n")
	writeFile(t, globalPath, "batch_size: 30\nlogging:\n  level: warn\n")
	writeFile(t, projectPath, "batch_size: 40\n")

	t.Setenv("PREFSIM_DEFAULT_CONFIG", defaultPath)
	t.Setenv("PREFSIM_GLOBAL_CONFIG", globalPath)
	t.Setenv("PREFSIM_PROJECT_CONFIG_NAME", "prefsim.yaml")

	paths, err := LoadConfig(projectDir, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if paths.Project != projectPath {
		t.Fatalf("expected project path %q, got %q", projectPath, paths.Project)
	}

	if value, ok := GetConfig("batch_size"); !ok || value != "40" {
		t.Fatalf("expected batch_size 40, got %q", value)
	}
	if value, ok := GetConfig("backend"); !ok || value != "claude" {
		t.Fatalf("expected backend claude, got %q", value)
	}
	if value, ok := GetConfig("logging.level"); !ok || value != "warn" {
		t.Fatalf("expected logging.level warn, got %q", value)
	}
	if value, ok := GetConfig("retry.max_attempts"); !ok || value != "3" {
		t.Fatalf("expected default retry.max_attempts 3, got %q", value)
	}

	t.Setenv("PREFSIM_BATCH_SIZE", "77")
	if value, ok := GetConfig("batch_size"); !ok || value != "77" {
		t.Fatalf("expected env override 77, got %q", value)
	}
	t.Setenv("PREFSIM_RETRY_INTERVAL", "250ms")
	if value, ok := GetConfig("retry.interval"); !ok || value != "250ms" {
		t.Fatalf("expected nested env override, got %q", value)
	}
}

func TestLoadConfigExplicitFileWins(t *testing.T) {
	tempDir := isolate(t)
	projectDir := filepath.Join(tempDir, "project")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("mkdir project: %v", err)
	}
	writeFile(t, filepath.Join(projectDir, "config.yaml"), "samples: 5\n")
	explicit := filepath.Join(tempDir, "run.yaml")
	writeFile(t, explicit, "samples: 9\n")

	if _, err := LoadConfig(projectDir, explicit); err != nil {
		t.Fatalf("load config: %v", err)
	}
	if value, _ := GetConfig("samples"); value != "9" {
		t.Fatalf("expected explicit samples 9, got %q", value)
	}

	if _, err := LoadConfig(projectDir, filepath.Join(tempDir, "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadDecodesSettings(t *testing.T) {
	tempDir := isolate(t)
	explicit := filepath.Join(tempDir, "run.yaml")
	writeFile(t, explicit, strings.Join([]string{
		"input_file: posts.xlsx",
		"output_file: rated.csv",
		"samples: 50",
		"batch_size: 5",
		"persona_characteristics: a night-shift nurse",
		"strictness: Loose",
		"retry:",
		"  max_attempts: 4",
		"  interval: 2s",
		"memory:",
		"  enabled: true",
		"  size: 6",
		"rate_limit:",
		"  requests_per_minute: 30",
		"breaker:",
		"  failure_threshold: 5",
		"notify:",
		"  webhook: https://hooks.slack.com/services/T/B/C",
		"",
	}, "\n"))

	if _, err := LoadConfig("", explicit); err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := Override("samples", 25); err != nil {
		t.Fatalf("override: %v", err)
	}

	settings, err := Load()
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}

	if settings.InputFile != "posts.xlsx" || settings.OutputFile != "rated.csv" {
		t.Fatalf("unexpected files %+v", settings)
	}
	if settings.Samples != 25 || settings.BatchSize != 5 {
		t.Fatalf("expected flag override and batch size, got samples=%d batch=%d", settings.Samples, settings.BatchSize)
	}
	if settings.Strictness != "loose" {
		t.Fatalf("expected normalized strictness, got %q", settings.Strictness)
	}
	if settings.Retry.MaxAttempts != 4 || settings.Retry.Interval != 2*time.Second {
		t.Fatalf("unexpected retry settings %+v", settings.Retry)
	}
	if !settings.Memory.Enabled || settings.Memory.Size != 6 {
		t.Fatalf("unexpected memory settings %+v", settings.Memory)
	}
	if settings.RateLimit.RequestsPerMinute != 30 || settings.Breaker.FailureThreshold != 5 {
		t.Fatalf("unexpected limiter settings %+v %+v", settings.RateLimit, settings.Breaker)
	}
	if settings.Breaker.Cooldown != 30*time.Second || settings.Timeout != 2*time.Minute {
		t.Fatalf("expected default durations, got %s %s", settings.Breaker.Cooldown, settings.Timeout)
	}
	if settings.Backend != "openai" || settings.Logging.Format != "console" {
		t.Fatalf("expected defaults, got backend=%q format=%q", settings.Backend, settings.Logging.Format)
	}
}

func TestLoadReportsInvalidSettings(t *testing.T) {
	tempDir := isolate(t)
	explicit := filepath.Join(tempDir, "run.yaml")
	writeFile(t, explicit, "batch_size: 0\nstrictness: lenient\nretry:\n  max_attempts: 0\n")

	if _, err := LoadConfig("", explicit); err != nil {
		t.Fatalf("load config: %v", err)
	}

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"input_file is required", "output_file is required", "batch_size", "strictness must be one of", "retry.max_attempts", "system_prompt or persona_characteristics is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestSetConfigWritesGlobal(t *testing.T) {
	tempDir := t.TempDir()
	globalPath := filepath.Join(tempDir, "config.yaml")

	t.Setenv("PREFSIM_CONFIG_DIR", tempDir)
	t.Setenv("PREFSIM_GLOBAL_CONFIG", globalPath)

	if err := SetConfig("backend", "claude"); err != nil {
		t.Fatalf("set config: %v", err)
	}

	v := viper.New()
	v.SetConfigFile(globalPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("read global config: %v", err)
	}

	if value := v.GetString("backend"); value != "claude" {
		t.Fatalf("expected backend claude, got %q", value)
	}
}

func TestSetConfigRejectsUnknownKeysAndBadValues(t *testing.T) {
	tempDir := t.TempDir()
	globalPath := filepath.Join(tempDir, "config.yaml")
	t.Setenv("PREFSIM_CONFIG_DIR", tempDir)
	t.Setenv("PREFSIM_GLOBAL_CONFIG", globalPath)

	if err := SetConfig("defaults.max_iterations", "5"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if err := SetConfig("batch_size", "many"); err == nil || !strings.Contains(err.Error(), "batch_size") {
		t.Fatalf("expected decode error for batch_size, got %v", err)
	}
	if err := SetConfig("retry.interval", "soon"); err == nil {
		t.Fatalf("expected decode error for retry.interval")
	}
	if _, err := os.Stat(globalPath); !os.IsNotExist(err) {
		t.Fatalf("expected nothing written for rejected values, got %v", err)
	}

	if err := SetConfig("retry.interval", "10s"); err != nil {
		t.Fatalf("set valid duration: %v", err)
	}
}

func TestKnownKeysCoverSettings(t *testing.T) {
	keys := KnownKeys()
	for _, want := range []string{"input_file", "retry.max_attempts", "memory.size", "notify.webhook"} {
		found := false
		for _, key := range keys {
			if key == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %q in known keys %v", want, keys)
		}
	}
}

func TestListConfigFlattensKeys(t *testing.T) {
	isolate(t)
	if _, err := LoadConfig("", ""); err != nil {
		t.Fatalf("load config: %v", err)
	}

	values, err := ListConfig()
	if err != nil {
		t.Fatalf("list config: %v", err)
	}
	if values["retry.interval"] != "5s" || values["memory.size"] != "10" {
		t.Fatalf("unexpected listing %v", values)
	}
}

func TestLoadCredentials(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	writeFile(t, envFile, "OPENAI_API_KEY=sk-from-file\n")

	t.Setenv("OPENAI_API_KEY", "")
	os.Unsetenv("OPENAI_API_KEY")
	key, err := LoadCredentials(envFile)
	if err != nil {
		t.Fatalf("load credentials: %v", err)
	}
	if key != "sk-from-file" {
		t.Fatalf("expected key from env file, got %q", key)
	}

	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	key, err = LoadCredentials(envFile)
	if err != nil {
		t.Fatalf("load credentials: %v", err)
	}
	if key != "sk-from-env" {
		t.Fatalf("expected existing env to win, got %q", key)
	}

	key, err = LoadCredentials(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil || key != "sk-from-env" {
		t.Fatalf("expected missing env file to be ignored, got %q %v", key, err)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
