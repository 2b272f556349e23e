package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Paths captures the config files used during LoadConfig.
type Paths struct {
	Default  string
	Global   string
	Project  string
	Explicit string
}

var (
	currentConfig *viper.Viper
	currentPaths  Paths
)

// Settings is the decoded run configuration.
type Settings struct {
	InputFile              string          `mapstructure:"input_file" validate:"required"`
	OutputFile             string          `mapstructure:"output_file" validate:"required"`
	Samples                int             `mapstructure:"samples" validate:"gte=0"`
	BatchSize              int             `mapstructure:"batch_size" validate:"gt=0"`
	Backend                string          `mapstructure:"backend" validate:"required"`
	Model                  string          `mapstructure:"model"`
	BaseURL                string          `mapstructure:"base_url" validate:"omitempty,url"`
	ExecPath               string          `mapstructure:"exec_path"`
	Timeout                time.Duration   `mapstructure:"timeout" validate:"gte=0"`
	SystemPrompt           string          `mapstructure:"system_prompt" validate:"required_without=PersonaCharacteristics"`
	PersonaCharacteristics string          `mapstructure:"persona_characteristics"`
	SystemPromptTemplate   string          `mapstructure:"system_prompt_template"`
	Strictness             string          `mapstructure:"strictness" validate:"oneof=strict loose"`
	Retry                  RetrySettings   `mapstructure:"retry"`
	Memory                 MemorySettings  `mapstructure:"memory"`
	RateLimit              RateLimit       `mapstructure:"rate_limit"`
	Breaker                BreakerSettings `mapstructure:"breaker"`
	Logging                LoggingSettings `mapstructure:"logging"`
	Metrics                MetricsSettings `mapstructure:"metrics"`
	Notify                 NotifySettings  `mapstructure:"notify"`
}

type RetrySettings struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gt=0"`
	Interval    time.Duration `mapstructure:"interval" validate:"gte=0"`
}

type MemorySettings struct {
	Enabled bool `mapstructure:"enabled"`
	// Size is capped at the history limit of ten exchanges.
	Size    int  `mapstructure:"size" validate:"gte=0"`
}

type RateLimit struct {
	// RequestsPerMinute of zero disables limiting.
	RequestsPerMinute int `mapstructure:"requests_per_minute" validate:"gte=0"`
}

type BreakerSettings struct {
	// FailureThreshold of zero disables the breaker.
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown" validate:"gte=0"`
}

type LoggingSettings struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
	// File overrides the log file path; empty derives it from the output file.
	File string `mapstructure:"file"`
}

type MetricsSettings struct {
	Textfile string `mapstructure:"textfile"`
}

type NotifySettings struct {
	Webhook string `mapstructure:"webhook" validate:"omitempty,url"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig loads and merges configuration in priority order:
// defaults -> default file -> global -> project -> explicit (highest).
// Environment variables prefixed with PREFSIM_ override every file.
func LoadConfig(projectDir, explicit string) (Paths, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PREFSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	paths := Paths{
		Default:  defaultConfigPath(),
		Global:   globalConfigPath(),
		Project:  projectConfigPath(projectDir),
		Explicit: explicit,
	}

	if explicit != "" && !fileExists(explicit) {
		return paths, fmt.Errorf("config file does not exist: %s", explicit)
	}

	if err := mergeConfigFile(v, paths.Default); err != nil {
		return paths, err
	}
	if err := mergeConfigFile(v, paths.Global); err != nil {
		return paths, err
	}
	if err := mergeConfigFile(v, paths.Project); err != nil {
		return paths, err
	}
	if err := mergeConfigFile(v, paths.Explicit); err != nil {
		return paths, err
	}

	currentConfig = v
	currentPaths = paths

	return paths, nil
}

// SetDefaults registers the built-in value for every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("input_file", "")
	v.SetDefault("output_file", "")
	v.SetDefault("samples", 0)
	v.SetDefault("batch_size", 10)
	v.SetDefault("backend", "openai")
	v.SetDefault("model", "")
	v.SetDefault("base_url", "")
	v.SetDefault("exec_path", "")
	v.SetDefault("timeout", "2m")
	v.SetDefault("system_prompt", "")
	v.SetDefault("persona_characteristics", "")
	v.SetDefault("system_prompt_template", "")
	v.SetDefault("strictness", "strict")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.interval", "5s")
	v.SetDefault("memory.enabled", false)
	v.SetDefault("memory.size", 10)
	v.SetDefault("rate_limit.requests_per_minute", 0)
	v.SetDefault("breaker.failure_threshold", 0)
	v.SetDefault("breaker.cooldown", "30s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("notify.webhook", "")
}

// CurrentPaths returns the files used by the last LoadConfig call.
func CurrentPaths() Paths {
	return currentPaths
}

// Override sets a value for the current process only, above every other
// source. Command line flags use it.
func Override(key string, value interface{}) error {
	if currentConfig == nil {
		return errors.New("config not loaded")
	}
	currentConfig.Set(key, value)
	return nil
}

// Load decodes and validates the current configuration.
func Load() (Settings, error) {
	var settings Settings
	if currentConfig == nil {
		return settings, errors.New("config not loaded")
	}
	if err := currentConfig.Unmarshal(&settings); err != nil {
		return settings, fmt.Errorf("decode config: %w", err)
	}
	settings.Strictness = strings.ToLower(strings.TrimSpace(settings.Strictness))
	settings.Logging.Level = strings.ToLower(strings.TrimSpace(settings.Logging.Level))
	settings.Logging.Format = strings.ToLower(strings.TrimSpace(settings.Logging.Format))
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		messages = append(messages, describeFieldError(fieldErr))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}

func describeFieldError(err validator.FieldError) string {
	key := configKey(err.StructNamespace())
	switch err.Tag() {
	case "required":
		return key + " is required"
	case "required_without":
		return key + " or persona_characteristics is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", key, err.Param(), fmt.Sprint(err.Value()))
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", key, fmt.Sprint(err.Value()))
	default:
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", key, err.Tag(), err.Param(), err.Value())
	}
}

// configKey maps a struct namespace such as Settings.Retry.MaxAttempts back
// to its config key.
func configKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		if mapped, ok := settingsKeys[part]; ok {
			parts[i] = mapped
		}
	}
	return strings.Join(parts, ".")
}

var settingsKeys = map[string]string{
	"InputFile":              "input_file",
	"OutputFile":             "output_file",
	"Samples":                "samples",
	"BatchSize":              "batch_size",
	"Backend":                "backend",
	"Model":                  "model",
	"BaseURL":                "base_url",
	"ExecPath":               "exec_path",
	"Timeout":                "timeout",
	"SystemPrompt":           "system_prompt",
	"PersonaCharacteristics": "persona_characteristics",
	"SystemPromptTemplate":   "system_prompt_template",
	"Strictness":             "strictness",
	"Retry":                  "retry",
	"MaxAttempts":            "max_attempts",
	"Interval":               "interval",
	"Memory":                 "memory",
	"Enabled":                "enabled",
	"Size":                   "size",
	"RateLimit":              "rate_limit",
	"RequestsPerMinute":      "requests_per_minute",
	"Breaker":                "breaker",
	"FailureThreshold":       "failure_threshold",
	"Cooldown":               "cooldown",
	"Logging":                "logging",
	"Level":                  "level",
	"Format":                 "format",
	"File":                   "file",
	"Metrics":                "metrics",
	"Textfile":               "textfile",
	"Notify":                 "notify",
	"Webhook":                "webhook",
}

// LoadCredentials loads envFile (default ".env") into the environment without
// overriding variables that are already set, then returns OPENAI_API_KEY.
// A missing env file is not an error.
func LoadCredentials(envFile string) (string, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if fileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			return "", fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY")), nil
}

// GetConfig returns a config value as a string with env overrides applied.
func GetConfig(key string) (string, bool) {
	if key == "" || currentConfig == nil {
		return "", false
	}

	if !currentConfig.IsSet(key) {
		return "", false
	}

	return valueToString(currentConfig.Get(key)), true
}

// ErrUnknownKey is returned when setting a key prefsim does not read.
var ErrUnknownKey = errors.New("unknown config key")

// KnownKeys returns every config key with a built-in default, sorted.
func KnownKeys() []string {
	v := viper.New()
	SetDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// CheckValue reports whether value can be stored under key: the key must be
// known and the value must decode into its setting type.
func CheckValue(key, value string) error {
	known := false
	for _, candidate := range KnownKeys() {
		if candidate == key {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	v := viper.New()
	SetDefaults(v)
	v.Set(key, value)
	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, key, err)
	}
	return nil
}

// SetConfig writes a configuration value to the global config file.
func SetConfig(key, value string) error {
	if key == "" {
		return errors.New("config key is required")
	}
	if err := CheckValue(key, value); err != nil {
		return err
	}

	globalPath := globalConfigPath()
	if globalPath == "" {
		return errors.New("global config path is not available")
	}

	if err := os.MkdirAll(filepath.Dir(globalPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(globalPath)
	if fileExists(globalPath) {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read global config: %w", err)
		}
	}

	v.Set(key, value)
	if err := v.WriteConfigAs(globalPath); err != nil {
		return fmt.Errorf("write global config: %w", err)
	}

	if currentConfig != nil {
		currentConfig.Set(key, value)
	}

	return nil
}

// ListConfig returns a flattened view of the current configuration.
func ListConfig() (map[string]string, error) {
	if currentConfig == nil {
		return nil, errors.New("config not loaded")
	}

	flattened := map[string]string{}
	for _, key := range currentConfig.AllKeys() {
		flattened[key] = valueToString(currentConfig.Get(key))
	}
	return flattened, nil
}

func defaultConfigPath() string {
	if path, ok := os.LookupEnv("PREFSIM_DEFAULT_CONFIG"); ok && path != "" {
		return path
	}

	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "config", "default.yaml"))
	}
	if dir := configDir(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "default.yaml"))
	}

	for _, candidate := range candidates {
		if fileExists(candidate) {
			return candidate
		}
	}

	return ""
}

func globalConfigPath() string {
	if path, ok := os.LookupEnv("PREFSIM_GLOBAL_CONFIG"); ok && path != "" {
		return path
	}

	configDir := configDir()
	if configDir == "" {
		return ""
	}

	return filepath.Join(configDir, "config.yaml")
}

func projectConfigPath(projectDir string) string {
	if projectDir == "" {
		return ""
	}

	info, err := os.Stat(projectDir)
	if err != nil || !info.IsDir() {
		return ""
	}

	name := os.Getenv("PREFSIM_PROJECT_CONFIG_NAME")
	if name == "" {
		name = "config.yaml"
	}

	return filepath.Join(projectDir, name)
}

func configDir() string {
	if path, ok := os.LookupEnv("PREFSIM_CONFIG_DIR"); ok && path != "" {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "prefsim")
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if !fileExists(path) {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}

	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}

	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func valueToString(value interface{}) string {
	switch typed := value.(type) {
	case []string:
		return strings.Join(typed, ",")
	case []interface{}:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(value)
	}
}
