// Package config manages the runtime configuration singleton.
//
// Configuration lives in config.json under the share directory
// (~/.agentcore by default), is loaded once at startup, read by value
// through GetConfig, mutated only through validating Update functions, and
// persisted atomically (temp file + rename). Environment variables
// AGENTCORE_MODEL_NAME, AGENTCORE_BASE_URL, and AGENTCORE_API_KEY override
// the file for one-off runs without editing it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"agentcore/pkg/logx"
)

const (
	configFileName = "config.json"
	shareDirName   = ".agentcore"
)

// Environment override variables. Flags beat env, env beats file.
const (
	EnvShareDir   = "AGENTCORE_SHARE_DIR"
	EnvModelName  = "AGENTCORE_MODEL_NAME"
	EnvBaseURL    = "AGENTCORE_BASE_URL"
	EnvAPIKey     = "AGENTCORE_API_KEY"
	EnvPassphrase = "AGENTCORE_PASSPHRASE"
)

// Known provider types, matching pkg/llm/provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// ModelConfig names a model and the provider entry that serves it.
type ModelConfig struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	MaxContextWindow int    `json:"max_context_window"`
}

// ProviderConfig holds the connection settings for one provider entry.
// APIKey may be plaintext or an encrypted blob (see secrets.go).
type ProviderConfig struct {
	Type    string `json:"type"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

// LoopConfig bounds the engine's step loop.
type LoopConfig struct {
	MaxStepsPerRun    int `json:"max_steps_per_run"`
	MaxRetriesPerStep int `json:"max_retries_per_step"`
	MaxSubagentDepth  int `json:"max_subagent_depth"`
}

// ApprovalConfig holds the approval-gate defaults.
type ApprovalConfig struct {
	YOLO bool `json:"yolo"`
}

// CompactionConfig tunes when and how the context is compacted.
type CompactionConfig struct {
	ThresholdRatio float64 `json:"threshold_ratio"`
	ProtectedTail  int     `json:"protected_tail"`
}

// Config is the complete configuration file shape.
type Config struct {
	DefaultModel string                    `json:"default_model"`
	Models       map[string]ModelConfig    `json:"models"`
	Providers    map[string]ProviderConfig `json:"providers"`
	Loop         LoopConfig                `json:"loop"`
	Approval     ApprovalConfig            `json:"approval"`
	Compaction   CompactionConfig          `json:"compaction"`
}

//nolint:gochecknoglobals // Intentional singleton: one config per process
var (
	mu       sync.RWMutex
	config   *Config
	shareDir string
	logger   *logx.Logger
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// DefaultShareDir returns AGENTCORE_SHARE_DIR if set, else ~/.agentcore.
func DefaultShareDir() (string, error) {
	if dir := os.Getenv(EnvShareDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, shareDirName), nil
}

// ShareDir returns the share directory the config was loaded from.
func ShareDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return shareDir
}

// LoadConfig loads config.json from dir into the singleton. A missing file
// creates a default config and saves it; an unparseable file is a fatal
// error so user edits are never overwritten.
func LoadConfig(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	shareDir = dir
	path := filepath.Join(dir, configFileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		getLogger().Info("config file not found, creating defaults at %s", path)
		config = defaultConfig()
		if err := saveLocked(); err != nil {
			return fmt.Errorf("failed to save initial config: %w", err)
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	loaded := &Config{}
	if err := json.Unmarshal(data, loaded); err != nil {
		return fmt.Errorf("config file exists but cannot be parsed (refusing to overwrite it): %w", err)
	}

	applyDefaults(loaded)
	if err := validate(loaded); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	config = loaded
	return nil
}

// GetConfig returns the current config BY VALUE. All mutation goes through
// the Update functions so the singleton can never be changed from outside.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *config, nil
}

// SetConfigForTesting installs cfg as the singleton without touching disk.
// Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
	if cfg == nil {
		shareDir = ""
	}
}

// SetShareDirForTesting points the singleton at a throwaway directory so
// Update functions can persist during tests.
func SetShareDirForTesting(dir string) {
	mu.Lock()
	defer mu.Unlock()
	shareDir = dir
}

// UpdateDefaultModel switches the default model and persists.
func UpdateDefaultModel(name string) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	if _, ok := config.Models[name]; !ok {
		return fmt.Errorf("unknown model '%s'", name)
	}
	config.DefaultModel = name
	return saveLocked()
}

// UpdateApproval sets the yolo default and persists.
func UpdateApproval(yolo bool) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	config.Approval.YOLO = yolo
	return saveLocked()
}

// UpdateProviderKey stores an API key (plaintext or encrypted blob) for a
// provider entry and persists.
func UpdateProviderKey(name, key string) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	pc, ok := config.Providers[name]
	if !ok {
		return fmt.Errorf("unknown provider '%s'", name)
	}
	pc.APIKey = key
	config.Providers[name] = pc
	return saveLocked()
}

// EffectiveModelName resolves the model to run with: explicit flag first,
// then AGENTCORE_MODEL_NAME, then the configured default.
func EffectiveModelName(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(EnvModelName); env != "" {
		return env, nil
	}
	cfg, err := GetConfig()
	if err != nil {
		return "", err
	}
	if cfg.DefaultModel == "" {
		return "", fmt.Errorf("no model selected: set default_model or pass --model")
	}
	return cfg.DefaultModel, nil
}

// ResolveModel looks up a named model entry.
func ResolveModel(name string) (ModelConfig, error) {
	cfg, err := GetConfig()
	if err != nil {
		return ModelConfig{}, err
	}
	mc, ok := cfg.Models[name]
	if !ok {
		return ModelConfig{}, fmt.Errorf("unknown model '%s' (known: %s)", name, modelNames(&cfg))
	}
	return mc, nil
}

// ResolveProvider looks up a provider entry with the AGENTCORE_BASE_URL
// override applied.
func ResolveProvider(name string) (ProviderConfig, error) {
	cfg, err := GetConfig()
	if err != nil {
		return ProviderConfig{}, err
	}
	pc, ok := cfg.Providers[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("unknown provider '%s'", name)
	}
	if base := os.Getenv(EnvBaseURL); base != "" {
		pc.BaseURL = base
	}
	return pc, nil
}

// ResolveAPIKey returns the usable API key for a provider entry:
// AGENTCORE_API_KEY wins, then the stored key, transparently decrypted when
// it is an encrypted blob.
func ResolveAPIKey(name string) (string, error) {
	if env := os.Getenv(EnvAPIKey); env != "" {
		return env, nil
	}

	pc, err := ResolveProvider(name)
	if err != nil {
		return "", err
	}
	if pc.APIKey == "" {
		return "", nil
	}
	if !IsEncryptedKey(pc.APIKey) {
		return pc.APIKey, nil
	}

	passphrase := os.Getenv(EnvPassphrase)
	if passphrase == "" {
		return "", fmt.Errorf("provider '%s' has an encrypted API key: set %s to decrypt", name, EnvPassphrase)
	}
	key, err := DecryptAPIKey(pc.APIKey, passphrase)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt API key for provider '%s': %w", name, err)
	}
	return key, nil
}

// saveLocked persists the singleton atomically. Callers hold mu.
func saveLocked() error {
	if shareDir == "" {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	if err := os.MkdirAll(shareDir, 0o755); err != nil {
		return fmt.Errorf("failed to create share directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(shareDir, configFileName)
	tmp, err := os.CreateTemp(shareDir, configFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// defaultConfig is the starting config for a fresh install: one entry per
// provider type, keys left for the user (or environment) to supply.
func defaultConfig() *Config {
	cfg := &Config{
		DefaultModel: "claude-sonnet-4-5",
		Models: map[string]ModelConfig{
			"claude-sonnet-4-5": {Provider: "anthropic", Model: "claude-sonnet-4-5", MaxContextWindow: 200000},
			"gpt-4o":            {Provider: "openai", Model: "gpt-4o", MaxContextWindow: 128000},
			"gemini-2.5-flash":  {Provider: "google", Model: "gemini-2.5-flash", MaxContextWindow: 1048576},
			"qwen3":             {Provider: "ollama", Model: "qwen3", MaxContextWindow: 32768},
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {Type: ProviderAnthropic},
			"openai":    {Type: ProviderOpenAI},
			"google":    {Type: ProviderGoogle},
			"ollama":    {Type: ProviderOllama, BaseURL: "http://localhost:11434"},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values so old config files keep working.
func applyDefaults(cfg *Config) {
	if cfg.Loop.MaxStepsPerRun == 0 {
		cfg.Loop.MaxStepsPerRun = 100
	}
	if cfg.Loop.MaxRetriesPerStep == 0 {
		cfg.Loop.MaxRetriesPerStep = 3
	}
	if cfg.Loop.MaxSubagentDepth == 0 {
		cfg.Loop.MaxSubagentDepth = 3
	}
	if cfg.Compaction.ThresholdRatio == 0 {
		cfg.Compaction.ThresholdRatio = 0.8
	}
	if cfg.Compaction.ProtectedTail == 0 {
		cfg.Compaction.ProtectedTail = 2
	}
	if cfg.Models == nil {
		cfg.Models = map[string]ModelConfig{}
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
}

func validate(cfg *Config) error {
	if cfg.DefaultModel != "" {
		if _, ok := cfg.Models[cfg.DefaultModel]; !ok {
			return fmt.Errorf("default_model '%s' is not defined in models", cfg.DefaultModel)
		}
	}
	for name, mc := range cfg.Models {
		if mc.Model == "" {
			return fmt.Errorf("model '%s' has no model id", name)
		}
		if mc.Provider == "" {
			return fmt.Errorf("model '%s' has no provider", name)
		}
		if _, ok := cfg.Providers[mc.Provider]; !ok {
			return fmt.Errorf("model '%s' references unknown provider '%s'", name, mc.Provider)
		}
		if mc.MaxContextWindow < 0 {
			return fmt.Errorf("model '%s' has negative max_context_window", name)
		}
	}
	for name, pc := range cfg.Providers {
		switch pc.Type {
		case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
		default:
			return fmt.Errorf("provider '%s' has unknown type '%s'", name, pc.Type)
		}
	}
	if cfg.Loop.MaxStepsPerRun <= 0 {
		return fmt.Errorf("loop.max_steps_per_run must be positive")
	}
	if cfg.Loop.MaxRetriesPerStep <= 0 {
		return fmt.Errorf("loop.max_retries_per_step must be positive")
	}
	if cfg.Loop.MaxSubagentDepth <= 0 {
		return fmt.Errorf("loop.max_subagent_depth must be positive")
	}
	if cfg.Compaction.ThresholdRatio <= 0 || cfg.Compaction.ThresholdRatio > 1 {
		return fmt.Errorf("compaction.threshold_ratio must be in (0, 1]")
	}
	if cfg.Compaction.ProtectedTail < 0 {
		return fmt.Errorf("compaction.protected_tail cannot be negative")
	}
	return nil
}

func modelNames(cfg *Config) string {
	names := ""
	for name := range cfg.Models {
		if names != "" {
			names += ", "
		}
		names += name
	}
	return names
}
