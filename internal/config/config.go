// Package config provides configuration loading and structs for the civicmatch server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Vector      VectorConfig      `yaml:"vector"`
	Inference   InferenceConfig   `yaml:"inference"`
	Translation TranslationConfig `yaml:"translation"`
	Watch       WatchConfig       `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the dataset, the persisted index artifacts, and the audit database.
type StorageConfig struct {
	DatasetPath     string `yaml:"dataset_path"`
	IndexPath       string `yaml:"index_path"`
	MetadataPath    string `yaml:"metadata_path"`
	FingerprintPath string `yaml:"fingerprint_path"`
	DatabasePath    string `yaml:"database_path"`
}

// EmbeddingConfig holds embedder settings. Provider is "onnx" or "lexical".
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// VectorConfig selects the similarity index implementation ("memory" or "faiss").
type VectorConfig struct {
	IndexType string `yaml:"index_type"`
}

// InferenceConfig holds retrieval and response shaping settings.
type InferenceConfig struct {
	TopK                   int      `yaml:"top_k"`
	LowConfidenceThreshold float64  `yaml:"low_confidence_threshold"`
	ProfileSampleSize      int      `yaml:"profile_sample_size"`
	BaseLanguage           string   `yaml:"base_language"`
	SupportedLanguages     []string `yaml:"supported_languages"`
	LocalizeConcurrency    int      `yaml:"localize_concurrency"`
}

// TranslationConfig configures the translation service. Provider is "none" or "libretranslate".
type TranslationConfig struct {
	Provider    string `yaml:"provider"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// APIKey returns the translation API key from the configured environment variable, or "".
func (t *TranslationConfig) APIKey() string {
	if t.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(t.APIKeyEnv)
}

// WatchConfig holds dataset watch settings.
type WatchConfig struct {
	Enabled    *bool `yaml:"enabled"`
	DebounceMs int   `yaml:"debounce_ms"`
}

// EnabledOrDefault returns whether to watch the dataset; defaults to true when unset.
func (w *WatchConfig) EnabledOrDefault() bool {
	if w.Enabled != nil {
		return *w.Enabled
	}
	return true
}

// Load reads and parses the config file at path, loads a sibling .env file if present,
// expands paths, and applies defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := LoadEnv(configDir); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)

	cfg.Storage.DatasetPath = expandPath(cfg.Storage.DatasetPath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.MetadataPath = expandPath(cfg.Storage.MetadataPath, configDir)
	cfg.Storage.FingerprintPath = expandPath(cfg.Storage.FingerprintPath, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)

	return &cfg, nil
}

// LoadEnv loads dir/.env into the process environment. Variables that are already set win.
// A missing .env file is not an error.
func LoadEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
