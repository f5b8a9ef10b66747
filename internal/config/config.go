// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir            string `json:"data_dir"`
	LibraryDir         string `json:"library_dir"`
	LogLevel           string `json:"log_level"`
	MaxConcurrentCooks int    `json:"max_concurrent_cooks"`
	MaxConcurrentJobs  int    `json:"max_concurrent_jobs"`
	MaxParallelItems   int    `json:"max_parallel_items"`
	Bake               struct {
		Folder       string `json:"folder"`
		PathTemplate string `json:"path_template"`
	} `json:"bake"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
	Engine struct {
		LatencyMS int `json:"latency_ms"`
	} `json:"engine"`
	Notify struct {
		Default string `json:"default"`
	} `json:"notify"`
}

// DefaultPath is ~/.assetlink/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".assetlink", "config.json")
}

// Default returns the configuration written on first run.
func Default() *Config {
	home := filepath.Join(os.Getenv("HOME"), ".assetlink")
	cfg := &Config{
		DataDir:            home,
		LibraryDir:         filepath.Join(home, "assets"),
		LogLevel:           "info",
		MaxConcurrentCooks: 2,
		MaxConcurrentJobs:  2,
		MaxParallelItems:   4,
	}
	cfg.Bake.Folder = filepath.Join(home, "bake")
	cfg.HTTP.Listen = "127.0.0.1:8420"
	cfg.Notify.Default = "log:"
	return cfg
}

// Load reads the config at path, writing defaults if it does not exist.
// A .env file next to the config (or in the working directory) is loaded
// first; environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	loadDotEnv(path)

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// loadDotEnv loads .env files without overriding variables that are
// already set. Missing files are not an error.
func loadDotEnv(path string) {
	for _, f := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ASSETLINK_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ASSETLINK_LIBRARY_DIR"); v != "" {
		cfg.LibraryDir = v
	}
	if v := os.Getenv("ASSETLINK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into its nested JSON map form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every key of cfg flattened to dot form, secrets
// masked when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readFlat(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Flatten(mustMap(Default())), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return Flatten(m), nil
}

func mustMap(cfg *Config) map[string]any {
	m, _ := ToMap(cfg)
	return m
}

// GetValue reads one dot-separated key straight from the file at path.
func GetValue(path, key string) (any, error) {
	flat, err := readFlat(path)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores one dot-separated key in the file at path. The raw
// string is stored as a bool or number when it parses as one.
func SetValue(path, key, raw string) error {
	if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return fmt.Errorf("invalid config key: %q", key)
	}
	flat, err := readFlat(path)
	if err != nil {
		return err
	}
	flat[key] = parseValue(raw)

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func parseValue(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return float64(n)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
