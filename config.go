package nervis

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the configuration for the NER visualizer.
type Config struct {
	// Server configures the HTTP listener and its guards.
	Server ServerConfig `json:"server" yaml:"server"`
	// Cache sizes the per-model response caches.
	Cache CacheConfig `json:"cache" yaml:"cache"`
	// Models is the ordered list of NER endpoints offered to users.
	Models []ModelConfig `json:"models" yaml:"models"`
	// Storage configures optional persistence (model list, request log).
	Storage StorageConfig `json:"storage,omitempty" yaml:"storage,omitempty"`
	// Logging configures the process logger.
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
	// Plugins configuration (optional).
	Plugins []PluginConfig `json:"plugins,omitempty" yaml:"plugins,omitempty"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Listen      string           `json:"listen" yaml:"listen"`
	CORSOrigins []string         `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
	AdminToken  string           `json:"admin_token,omitempty" yaml:"admin_token,omitempty"`
	RateLimit   *RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// RateLimitConfig is a per-client token bucket on submissions.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             float64 `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// CacheConfig sizes the response caches.
type CacheConfig struct {
	// CapacityPerModel is the LRU capacity of every model cache.
	CapacityPerModel int `json:"capacity_per_model" yaml:"capacity_per_model"`
	// RequestTimeout bounds one endpoint call, as a Go duration string.
	RequestTimeout string `json:"request_timeout" yaml:"request_timeout"`
}

// Timeout returns RequestTimeout parsed, or DefaultRequestTimeout.
func (c CacheConfig) Timeout() time.Duration {
	if d, err := time.ParseDuration(c.RequestTimeout); err == nil && d > 0 {
		return d
	}
	return DefaultRequestTimeout
}

// StorageConfig selects where the model list and request log live.
type StorageConfig struct {
	// Driver is "", "sqlite" or "postgres". Empty keeps the model list in
	// ModelsFile and disables the request log.
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	// RequestLog records every dispatch when a driver is set.
	RequestLog bool `json:"request_log,omitempty" yaml:"request_log,omitempty"`
	// ModelsFile holds the saved model list when no driver is set.
	ModelsFile string `json:"models_file,omitempty" yaml:"models_file,omitempty"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// PluginConfig holds plugin configuration.
type PluginConfig struct {
	Name    string                 `json:"name" yaml:"name"`
	Stage   string                 `json:"stage" yaml:"stage"`
	Enabled bool                   `json:"enabled" yaml:"enabled"`
	Config  map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// Endpoint kinds.
const (
	KindHTTP    = "http"
	KindOpenAI  = "openai"
	KindBedrock = "bedrock"
)

// ModelConfig describes one NER endpoint.
type ModelConfig struct {
	// URL is the endpoint address. For openai it is the API base URL.
	URL string `json:"url" yaml:"url"`
	// ButtonName is the display name. Defaults to URL.
	ButtonName string `json:"button_name,omitempty" yaml:"button_name,omitempty"`
	// Kind is "http" (default), "openai" or "bedrock".
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`
	// Model is the model id for openai and bedrock endpoints.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// APIKey authenticates openai endpoints. For bedrock it may hold
	// "ACCESS_KEY_ID:SECRET_ACCESS_KEY".
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// Region is the AWS region for bedrock endpoints.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
	// OAuth2 enables client-credentials auth for http endpoints.
	OAuth2 *OAuth2Config `json:"oauth2,omitempty" yaml:"oauth2,omitempty"`
	// CircuitBreaker stops calling an endpoint that keeps failing.
	CircuitBreaker *CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
	// Timeout overrides the cache-wide request timeout for this endpoint.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OAuth2Config holds client-credentials settings.
type OAuth2Config struct {
	TokenURL     string   `json:"token_url" yaml:"token_url"`
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// CircuitBreakerConfig holds breaker thresholds. Zero values use the
// breaker defaults.
type CircuitBreakerConfig struct {
	FailureThreshold int    `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	SuccessThreshold int    `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
	Timeout          string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Identity returns the cache identity of the endpoint. Two configs with the
// same identity share a cache.
func (m ModelConfig) Identity() string {
	url := strings.TrimSpace(m.URL)
	if m.Kind == KindOpenAI {
		return url + "#" + m.Model
	}
	return url
}

// DisplayName returns ButtonName, falling back to URL.
func (m ModelConfig) DisplayName() string {
	if m.ButtonName != "" {
		return m.ButtonName
	}
	if m.URL != "" {
		return m.URL
	}
	return "Model"
}

// ConfigurationError reports an invalid configuration value.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Msg
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Msg)
}

func configErrorf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
