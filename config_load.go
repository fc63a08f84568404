package nervis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultListen           = ":5012"
	DefaultCapacityPerModel = 256
	DefaultRequestTimeout   = 30 * time.Second
	DefaultModelsFile       = "model_config.json"
)

var (
	schemaOnce     sync.Once
	compiledConfig *jsonschema.Schema
	compiledModels *jsonschema.Schema
	schemaErr      error
)

func schemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledConfig, schemaErr = jsonschema.CompileString("nervis-config.json", configSchema)
		if schemaErr != nil {
			return
		}
		compiledModels, schemaErr = jsonschema.CompileString("nervis-models.json", modelsSchema)
	})
	return compiledConfig, compiledModels, schemaErr
}

// LoadConfig reads and parses a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml). ${VAR} references
// are expanded from the environment before parsing. The document is
// checked against the config schema and defaults are applied; call
// ValidateConfig for the semantic checks.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var (
		cfg Config
		doc any
	)
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	schema, _, err := schemas()
	if err != nil {
		return nil, fmt.Errorf("compiling config schema: %w", err)
	}
	if doc != nil {
		if err := validateDocument(schema, doc); err != nil {
			return nil, err
		}
	}

	ApplyDefaults(&cfg)
	if cfg.Storage.Driver == "" && !filepath.IsAbs(cfg.Storage.ModelsFile) {
		cfg.Storage.ModelsFile = filepath.Join(filepath.Dir(path), cfg.Storage.ModelsFile)
	}
	return &cfg, nil
}

// ParseModels decodes a JSON model list, as sent by the model editor,
// checks it against the schema, applies defaults and validates it.
func ParseModels(data []byte) ([]ModelConfig, error) {
	_, schema, err := schemas()
	if err != nil {
		return nil, fmt.Errorf("compiling models schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigurationError{Field: "models", Msg: "invalid JSON: " + err.Error()}
	}
	if err := validateDocument(schema, doc); err != nil {
		return nil, err
	}

	var models []ModelConfig
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, &ConfigurationError{Field: "models", Msg: err.Error()}
	}
	for i := range models {
		applyModelDefaults(&models[i])
	}
	if err := ValidateModels(models); err != nil {
		return nil, err
	}
	return models, nil
}

// validateDocument normalises doc through JSON so YAML-decoded values
// have the types the schema validator expects.
func validateDocument(schema *jsonschema.Schema, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return &ConfigurationError{Msg: "document cannot be represented as JSON: " + err.Error()}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalised any
	if err := dec.Decode(&normalised); err != nil {
		return &ConfigurationError{Msg: err.Error()}
	}
	if err := schema.Validate(normalised); err != nil {
		return &ConfigurationError{Msg: "schema: " + err.Error()}
	}
	return nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Cache.CapacityPerModel == 0 {
		cfg.Cache.CapacityPerModel = DefaultCapacityPerModel
	}
	if cfg.Cache.RequestTimeout == "" {
		cfg.Cache.RequestTimeout = DefaultRequestTimeout.String()
	}
	if cfg.Storage.Driver == "" && cfg.Storage.ModelsFile == "" {
		cfg.Storage.ModelsFile = DefaultModelsFile
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	for i := range cfg.Models {
		applyModelDefaults(&cfg.Models[i])
	}
}

func applyModelDefaults(m *ModelConfig) {
	m.URL = strings.TrimSpace(m.URL)
	if m.Kind == "" {
		m.Kind = KindHTTP
	}
	if m.ButtonName == "" {
		m.ButtonName = m.URL
	}
}

// ValidateConfig validates a Config for correctness.
func ValidateConfig(cfg Config) error {
	if cfg.Cache.CapacityPerModel <= 0 {
		return configErrorf("cache.capacity_per_model", "must be positive, got %d", cfg.Cache.CapacityPerModel)
	}
	if cfg.Cache.RequestTimeout != "" {
		if err := positiveDuration(cfg.Cache.RequestTimeout); err != nil {
			return configErrorf("cache.request_timeout", "%v", err)
		}
	}
	if rl := cfg.Server.RateLimit; rl != nil {
		if rl.RequestsPerSecond <= 0 {
			return configErrorf("server.rate_limit.requests_per_second", "must be positive")
		}
		if rl.Burst < 0 {
			return configErrorf("server.rate_limit.burst", "must not be negative")
		}
	}

	switch cfg.Storage.Driver {
	case "", "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return configErrorf("storage.dsn", "required for postgres")
		}
	default:
		return configErrorf("storage.driver", "unknown driver %q", cfg.Storage.Driver)
	}
	if cfg.Storage.RequestLog && cfg.Storage.Driver == "" {
		return configErrorf("storage.request_log", "requires storage.driver")
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return configErrorf("logging.level", "unknown level %q", cfg.Logging.Level)
	}

	for i, pc := range cfg.Plugins {
		field := fmt.Sprintf("plugins[%d]", i)
		if strings.TrimSpace(pc.Name) == "" {
			return configErrorf(field+".name", "is required")
		}
		switch pc.Stage {
		case "before_request", "after_request", "on_error":
		case "":
			if pc.Enabled {
				return configErrorf(field+".stage", "required for enabled plugins")
			}
		default:
			return configErrorf(field+".stage", "unknown stage %q", pc.Stage)
		}
	}

	return ValidateModels(cfg.Models)
}

// ValidateModels checks a model list: every entry must be complete and
// identities must be unique.
func ValidateModels(models []ModelConfig) error {
	seen := make(map[string]int, len(models))
	for i, m := range models {
		field := fmt.Sprintf("models[%d]", i)
		if strings.TrimSpace(m.URL) == "" {
			return configErrorf(field+".url", "is required")
		}
		switch m.Kind {
		case "", KindHTTP:
		case KindOpenAI:
			if m.Model == "" {
				return configErrorf(field+".model", "required for openai endpoints")
			}
		case KindBedrock:
			if m.Model == "" {
				return configErrorf(field+".model", "required for bedrock endpoints")
			}
		default:
			return configErrorf(field+".kind", "unknown kind %q", m.Kind)
		}
		if m.OAuth2 != nil && m.Kind != "" && m.Kind != KindHTTP {
			return configErrorf(field+".oauth2", "only supported for http endpoints")
		}
		if m.Timeout != "" {
			if err := positiveDuration(m.Timeout); err != nil {
				return configErrorf(field+".timeout", "%v", err)
			}
		}
		if cb := m.CircuitBreaker; cb != nil {
			if cb.FailureThreshold < 0 || cb.SuccessThreshold < 0 {
				return configErrorf(field+".circuit_breaker", "thresholds must not be negative")
			}
			if cb.Timeout != "" {
				if err := positiveDuration(cb.Timeout); err != nil {
					return configErrorf(field+".circuit_breaker.timeout", "%v", err)
				}
			}
		}

		id := m.Identity()
		if j, dup := seen[id]; dup {
			return configErrorf(field, "duplicates models[%d] (%s)", j, id)
		}
		seen[id] = i
	}
	return nil
}

func positiveDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive, got %s", s)
	}
	return nil
}
