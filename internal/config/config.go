package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	LibraryRoot    string        `yaml:"library_root"`
	ExtraRoots     []string      `yaml:"extra_roots"`
	DBPath         string        `yaml:"db_path"`
	ThumbDir       string        `yaml:"thumb_dir"`
	ThumbSize      int           `yaml:"thumb_size"`
	Host           string        `yaml:"host"`
	Port           string        `yaml:"port"`
	RescanInterval time.Duration `yaml:"rescan_interval"`

	EmbeddingEnabled bool   `yaml:"embedding_enabled"`
	EmbeddingBaseURL string `yaml:"embedding_base_url"`
	EmbeddingModel   string `yaml:"embedding_model"`
	// EmbeddingVectorSize of 0 accepts whatever dimension the model
	// returns.
	EmbeddingVectorSize int `yaml:"embedding_vector_size"`
	EmbeddingBatchSize  int `yaml:"embedding_batch_size"`

	AutoTagEnabled     bool    `yaml:"auto_tag_enabled"`
	TaggerBaseURL      string  `yaml:"tagger_base_url"`
	AutoTagModel       string  `yaml:"auto_tag_model"`
	GeneralThreshold   float64 `yaml:"general_threshold"`
	CharacterThreshold float64 `yaml:"character_threshold"`
	// MergeStrategy is "missing" or "augment".
	MergeStrategy    string `yaml:"merge_strategy"`
	AutoTagBatchSize int    `yaml:"auto_tag_batch_size"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load builds the configuration in three layers: defaults, then an
// optional YAML file (IMAGEDEX_CONFIG or ./imagedex.yaml), then
// environment variables. A .env file in the working directory or a
// parent is loaded first so env always wins.
func Load() (*Config, error) {
	_ = godotenv.Load()
	if wd, err := os.Getwd(); err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	cfg := defaults()

	yamlPath := getEnv("IMAGEDEX_CONFIG", "imagedex.yaml")
	if err := loadYAML(cfg, yamlPath, os.Getenv("IMAGEDEX_CONFIG") != ""); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.LibraryRoot == "" {
		return nil, fmt.Errorf("LIBRARY_ROOT is required")
	}
	if cfg.MergeStrategy != "missing" && cfg.MergeStrategy != "augment" {
		return nil, fmt.Errorf("MERGE_STRATEGY must be missing or augment, got %q", cfg.MergeStrategy)
	}

	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		DBPath:              "./data/imagedex.db",
		ThumbDir:            "./data/thumbs",
		ThumbSize:           512,
		Host:                "127.0.0.1",
		Port:                "9000",
		RescanInterval:      5 * time.Minute,
		EmbeddingEnabled:    true,
		EmbeddingBaseURL:    "http://localhost:8081",
		EmbeddingModel:      "clip-vit-b-32",
		EmbeddingBatchSize:  8,
		AutoTagEnabled:      true,
		TaggerBaseURL:       "http://localhost:8082",
		AutoTagModel:        "wd-v1-4-tagger",
		GeneralThreshold:    0.35,
		CharacterThreshold:  0.85,
		MergeStrategy:       "missing",
		AutoTagBatchSize:    4,
		LogLevel:            "info",
		LogFormat:           "text",
		EmbeddingVectorSize: 0,
	}
}

// loadYAML overlays the YAML file onto cfg. A missing file is only an
// error when the path was set explicitly.
func loadYAML(cfg *Config, path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg fields from environment variables.
func applyEnv(cfg *Config) error {
	setStr(&cfg.LibraryRoot, "LIBRARY_ROOT")
	if v := os.Getenv("EXTRA_ROOTS"); v != "" {
		cfg.ExtraRoots = splitList(v)
	}
	setStr(&cfg.DBPath, "DB_PATH")
	setStr(&cfg.ThumbDir, "THUMB_DIR")
	setStr(&cfg.Host, "API_HOST")
	setStr(&cfg.Port, "API_PORT")
	setStr(&cfg.EmbeddingBaseURL, "EMBEDDING_BASE_URL")
	setStr(&cfg.EmbeddingModel, "EMBEDDING_MODEL")
	setStr(&cfg.TaggerBaseURL, "TAGGER_BASE_URL")
	setStr(&cfg.AutoTagModel, "AUTO_TAG_MODEL")
	setStr(&cfg.MergeStrategy, "MERGE_STRATEGY")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setStr(&cfg.LogFormat, "LOG_FORMAT")

	intVars := []struct {
		dst *int
		key string
	}{
		{&cfg.ThumbSize, "THUMB_SIZE"},
		{&cfg.EmbeddingVectorSize, "EMBEDDING_VECTOR_SIZE"},
		{&cfg.EmbeddingBatchSize, "EMBEDDING_BATCH_SIZE"},
		{&cfg.AutoTagBatchSize, "AUTO_TAG_BATCH_SIZE"},
	}
	for _, v := range intVars {
		raw := os.Getenv(v.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s must be a valid integer: %w", v.key, err)
		}
		*v.dst = n
	}

	floatVars := []struct {
		dst *float64
		key string
	}{
		{&cfg.GeneralThreshold, "GENERAL_THRESHOLD"},
		{&cfg.CharacterThreshold, "CHARACTER_THRESHOLD"},
	}
	for _, v := range floatVars {
		raw := os.Getenv(v.key)
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s must be a valid number: %w", v.key, err)
		}
		*v.dst = f
	}

	boolVars := []struct {
		dst *bool
		key string
	}{
		{&cfg.EmbeddingEnabled, "EMBEDDING_ENABLED"},
		{&cfg.AutoTagEnabled, "AUTO_TAG_ENABLED"},
	}
	for _, v := range boolVars {
		raw := os.Getenv(v.key)
		if raw == "" {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s must be a boolean: %w", v.key, err)
		}
		*v.dst = b
	}

	if raw := os.Getenv("RESCAN_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("RESCAN_INTERVAL must be a duration like 5m: %w", err)
		}
		cfg.RescanInterval = d
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
