package main

import (
	"os"
	"path/filepath"
	"testing"

	nervis "github.com/ferro-labs/ner-visualizer"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(envMap(nil))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Listen != nervis.DefaultListen {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Storage.ModelsFile != nervis.DefaultModelsFile {
		t.Errorf("models file = %q", cfg.Storage.ModelsFile)
	}
	if len(cfg.Models) != 0 {
		t.Errorf("expected no models, got %d", len(cfg.Models))
	}
}

func TestLoadConfig_FileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nervis.yaml")
	data := []byte(`
server:
  listen: ":9000"
cache:
  capacity_per_model: 8
models:
  - url: http://ner.local/ner
    button_name: Local
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(envMap(map[string]string{
		"NERVIS_CONFIG":      path,
		"PORT":               "7000",
		"CORS_ORIGINS":       "http://a,http://b",
		"NERVIS_ADMIN_TOKEN": "tok",
		"LOG_LEVEL":          "debug",
	}))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Listen != ":7000" {
		t.Errorf("listen = %q, want :7000", cfg.Server.Listen)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.AdminToken != "tok" || cfg.Logging.Level != "debug" {
		t.Errorf("overrides not applied: %+v", cfg.Server)
	}
	if cfg.Cache.CapacityPerModel != 8 || len(cfg.Models) != 1 {
		t.Errorf("file values lost: %+v", cfg)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	if _, err := loadConfig(envMap(map[string]string{"NERVIS_CONFIG": "/nonexistent.json"})); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := loadConfig(envMap(map[string]string{"LOG_LEVEL": "loud"})); err == nil {
		t.Error("expected error for unknown log level")
	}
}
