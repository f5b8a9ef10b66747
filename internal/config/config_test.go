package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ASSETLINK_DATA_DIR", "ASSETLINK_LIBRARY_DIR", "ASSETLINK_LOG_LEVEL", "TELEGRAM_BOT_TOKEN"} {
		t.Setenv(k, "")
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxConcurrentCooks != 2 || cfg.LogLevel != "info" || cfg.Notify.Default != "log:" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected defaults written: %v", err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := Default()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.MaxConcurrentJobs = 6
	original.Bake.PathTemplate = "{bake}/{asset}/{part}"
	original.HTTP.Enabled = true
	original.Telegram.Token = "bot-token-456"
	original.Engine.LatencyMS = 25

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *loaded != *original {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, original)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not exist after successful save")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	t.Setenv("ASSETLINK_DATA_DIR", "/env/data")
	t.Setenv("ASSETLINK_LIBRARY_DIR", "/env/assets")
	t.Setenv("ASSETLINK_LOG_LEVEL", "warn")
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/env/data" || cfg.LibraryDir != "/env/assets" || cfg.LogLevel != "warn" || cfg.Telegram.Token != "env-token" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}

	// Overrides are not persisted.
	v, err := GetValue(path, "log_level")
	if err != nil || v != "info" {
		t.Errorf("expected file value info, got %v %v", v, err)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("ASSETLINK_LOG_LEVEL")
	path := tempConfigPath(t)
	env := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(env, []byte("ASSETLINK_LOG_LEVEL=debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("ASSETLINK_LOG_LEVEL") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected .env log level debug, got %s", cfg.LogLevel)
	}
}

func TestToMap(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	if m["log_level"] != "debug" {
		t.Errorf("expected log_level=debug, got %v", m["log_level"])
	}
	// JSON numbers are float64
	if m["max_concurrent_jobs"] != float64(2) {
		t.Errorf("expected max_concurrent_jobs=2, got %v", m["max_concurrent_jobs"])
	}
	if _, ok := m["bake"].(map[string]any); !ok {
		t.Errorf("expected bake to be a map, got %T", m["bake"])
	}
}

func TestListValues(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = "123456:secret-token"

	flat, err := ListValues(cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	if flat["telegram.token"] != "123456:secret-token" || flat["http.listen"] != "127.0.0.1:8420" {
		t.Errorf("unexpected values %v", flat)
	}

	masked, err := ListValues(cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	if masked["telegram.token"] != "***oken" {
		t.Errorf("expected masked token, got %v", masked["telegram.token"])
	}
}

func TestGetValue(t *testing.T) {
	path := tempConfigPath(t)
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	v, err := GetValue(path, "max_concurrent_cooks")
	if err != nil || v != float64(2) {
		t.Errorf("expected 2, got %v %v", v, err)
	}
	if _, err := GetValue(path, "nonexistent.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSetValue(t *testing.T) {
	path := tempConfigPath(t)
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		key, raw string
		want     any
	}{
		{"log_level", "debug", "debug"},
		{"max_concurrent_cooks", "16", float64(16)},
		{"http.enabled", "true", true},
		{"bake.folder", "/srv/bake", "/srv/bake"},
	}
	for _, c := range cases {
		if err := SetValue(path, c.key, c.raw); err != nil {
			t.Fatalf("SetValue(%s) failed: %v", c.key, err)
		}
		v, err := GetValue(path, c.key)
		if err != nil || v != c.want {
			t.Errorf("%s: expected %v, got %v %v", c.key, c.want, v, err)
		}
	}

	// Other keys survive and the file still loads.
	if v, _ := GetValue(path, "http.listen"); v != "127.0.0.1:8420" {
		t.Errorf("expected http.listen preserved, got %v", v)
	}
	data, _ := os.ReadFile(path)
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConcurrentCooks != 16 || !cfg.HTTP.Enabled {
		t.Errorf("unexpected saved config %+v", cfg)
	}

	if err := SetValue(path, "bake.", "x"); err == nil {
		t.Error("expected error for malformed key")
	}
}
