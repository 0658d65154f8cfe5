package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "onboardforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("ONBOARD_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) error {
	setString(&cfg.Server.Port, "ONBOARD_PORT")
	setString(&cfg.Server.CORSOrigin, "ONBOARD_CORS_ORIGIN")
	setDuration(&cfg.Server.RequestTimeout, "ONBOARD_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "ONBOARD_SHUTDOWN_TIMEOUT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ONBOARD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ONBOARD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ONBOARD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ONBOARD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ONBOARD_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "ONBOARD_NATS_STREAM")
	setString(&cfg.NATS.Consumer, "ONBOARD_NATS_CONSUMER")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "ONBOARD_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "ONBOARD_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "ONBOARD_CACHE_L2_TTL")
	setDuration(&cfg.Cache.TemplateTTL, "ONBOARD_CACHE_TEMPLATE_TTL")

	setString(&cfg.Logging.Level, "ONBOARD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ONBOARD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ONBOARD_LOG_ASYNC")
	setInt(&cfg.Logging.AsyncBuffer, "ONBOARD_LOG_ASYNC_BUFFER")

	setInt(&cfg.Breaker.MaxFailures, "ONBOARD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ONBOARD_BREAKER_TIMEOUT")

	// Orchestrator
	setInt(&cfg.Orchestrator.MaxParallel, "ONBOARD_ORCH_MAX_PARALLEL")
	setInt(&cfg.Orchestrator.MaxAgentCalls, "ONBOARD_ORCH_MAX_AGENT_CALLS")
	setDuration(&cfg.Orchestrator.AgentTimeout, "ONBOARD_ORCH_AGENT_TIMEOUT")
	setDuration(&cfg.Orchestrator.PauseTTL, "ONBOARD_ORCH_PAUSE_TTL")
	setBool(&cfg.Orchestrator.AutoStart, "ONBOARD_ORCH_AUTO_START")

	setDuration(&cfg.Stream.HeartbeatInterval, "ONBOARD_STREAM_HEARTBEAT")
	setInt(&cfg.Stream.BufferSize, "ONBOARD_STREAM_BUFFER")

	setString(&cfg.Store.Backend, "ONBOARD_STORE_BACKEND")
	setUint(&cfg.Store.RetryAttempts, "ONBOARD_STORE_RETRY_ATTEMPTS")
	setDuration(&cfg.Store.RetryInitial, "ONBOARD_STORE_RETRY_INITIAL")

	// Auth
	setBool(&cfg.Auth.Enabled, "ONBOARD_AUTH_ENABLED")
	if v := os.Getenv("ONBOARD_AUTH_API_KEYS"); v != "" {
		keys, err := parseAPIKeys(v)
		if err != nil {
			return err
		}
		cfg.Auth.APIKeys = keys
	}

	setBool(&cfg.OTEL.Enabled, "ONBOARD_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "ONBOARD_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "ONBOARD_OTEL_SAMPLE_RATE")

	setString(&cfg.Templates.Dir, "ONBOARD_TEMPLATES_DIR")
	setBool(&cfg.MCP.Enabled, "ONBOARD_MCP_ENABLED")

	setString(&cfg.Notify.SlackWebhookURL, "ONBOARD_SLACK_WEBHOOK_URL")
	setString(&cfg.Notify.DiscordWebhookURL, "ONBOARD_DISCORD_WEBHOOK_URL")
	if v := os.Getenv("ONBOARD_NOTIFY_EVENTS"); v != "" {
		cfg.Notify.Events = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseAPIKeys reads "tenant=bcrypthash,tenant=bcrypthash".
func parseAPIKeys(v string) ([]APIKey, error) {
	var keys []APIKey
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tenant, hash, ok := strings.Cut(pair, "=")
		if !ok || tenant == "" || hash == "" {
			return nil, fmt.Errorf("ONBOARD_AUTH_API_KEYS: malformed entry %q", pair)
		}
		keys = append(keys, APIKey{TenantID: tenant, Hash: hash})
	}
	return keys, nil
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Backend {
	case "memory":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres store")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("store.backend must be memory or postgres, got %q", cfg.Store.Backend)
	}
	if cfg.Store.RetryAttempts < 1 {
		return errors.New("store.retry_attempts must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Orchestrator.MaxParallel < 1 {
		return errors.New("orchestrator.max_parallel must be >= 1")
	}
	if cfg.Orchestrator.MaxAgentCalls < 0 {
		return errors.New("orchestrator.max_agent_calls must be >= 0")
	}
	if cfg.Orchestrator.AgentTimeout <= 0 {
		return errors.New("orchestrator.agent_timeout must be > 0")
	}
	if cfg.Orchestrator.PauseTTL <= 0 {
		return errors.New("orchestrator.pause_ttl must be > 0")
	}
	if cfg.Stream.HeartbeatInterval <= 0 {
		return errors.New("stream.heartbeat_interval must be > 0")
	}
	if cfg.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		return errors.New("auth.api_keys must not be empty when auth is enabled")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint(dst *uint, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint(n)
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
