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
const DefaultConfigFile = "sensebridge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
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
func loadEnv(cfg *Config) {
	setString(&cfg.Workspace.Root, "SENSEBRIDGE_WORKSPACE")
	setString(&cfg.Workspace.Language, "SENSEBRIDGE_LANGUAGE")
	setList(&cfg.Workspace.Ignore, "SENSEBRIDGE_IGNORE")

	// LSP
	setList(&cfg.LSP.Command, "SENSEBRIDGE_LSP_COMMAND")
	setDuration(&cfg.LSP.StartTimeout, "SENSEBRIDGE_LSP_START_TIMEOUT")
	setDuration(&cfg.LSP.RequestTimeout, "SENSEBRIDGE_LSP_REQUEST_TIMEOUT")
	setDuration(&cfg.LSP.ShutdownTimeout, "SENSEBRIDGE_LSP_SHUTDOWN_TIMEOUT")
	setDuration(&cfg.LSP.ReadyTimeout, "SENSEBRIDGE_LSP_READY_TIMEOUT")
	setInt(&cfg.LSP.MaxDiagnostics, "SENSEBRIDGE_LSP_MAX_DIAGNOSTICS")

	// Index
	setInt64(&cfg.Index.CacheMaxCost, "SENSEBRIDGE_INDEX_CACHE_MAX_COST")
	setDuration(&cfg.Index.CacheTTL, "SENSEBRIDGE_INDEX_CACHE_TTL")

	// Resolver
	setFloat64(&cfg.Resolver.NameWeight, "SENSEBRIDGE_RESOLVER_NAME_WEIGHT")
	setFloat64(&cfg.Resolver.KindWeight, "SENSEBRIDGE_RESOLVER_KIND_WEIGHT")
	setFloat64(&cfg.Resolver.ContainerWeight, "SENSEBRIDGE_RESOLVER_CONTAINER_WEIGHT")
	setFloat64(&cfg.Resolver.MinConfidence, "SENSEBRIDGE_RESOLVER_MIN_CONFIDENCE")
	setInt(&cfg.Resolver.Concurrency, "SENSEBRIDGE_RESOLVER_CONCURRENCY")

	// Finder
	setInt(&cfg.Finder.TopK, "SENSEBRIDGE_FINDER_TOP_K")

	setInt(&cfg.Breaker.MaxFailures, "SENSEBRIDGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SENSEBRIDGE_BREAKER_TIMEOUT")

	setBool(&cfg.Watcher.Enabled, "SENSEBRIDGE_WATCH")
	setDuration(&cfg.Watcher.Debounce, "SENSEBRIDGE_WATCH_DEBOUNCE")

	setString(&cfg.Transcript.Dir, "SENSEBRIDGE_TRANSCRIPT_DIR")
	setString(&cfg.Transcript.NATSSubject, "SENSEBRIDGE_TRANSCRIPT_SUBJECT")
	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.HTTP.Addr, "SENSEBRIDGE_HTTP_ADDR")
	setString(&cfg.HTTP.APIKey, "SENSEBRIDGE_API_KEY")

	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	setString(&cfg.Logging.Level, "SENSEBRIDGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SENSEBRIDGE_LOG_SERVICE")
	setString(&cfg.Logging.Format, "SENSEBRIDGE_LOG_FORMAT")
	setBool(&cfg.Logging.Async, "SENSEBRIDGE_LOG_ASYNC")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Workspace.Root == "" {
		return errors.New("workspace.root is required")
	}
	if cfg.Workspace.Language == "" && len(cfg.LSP.Command) == 0 {
		return errors.New("workspace.language or lsp.command is required")
	}
	if cfg.LSP.StartTimeout <= 0 || cfg.LSP.RequestTimeout <= 0 {
		return errors.New("lsp timeouts must be > 0")
	}
	if cfg.Index.MaxRecompute < 1 {
		return errors.New("index.max_recompute must be >= 1")
	}
	if cfg.Index.CacheMaxCost < 1 {
		return errors.New("index.cache_max_cost must be >= 1")
	}
	if cfg.Finder.TopK < 1 {
		return errors.New("finder.top_k must be >= 1")
	}
	if cfg.Resolver.Concurrency < 1 {
		return errors.New("resolver.concurrency must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Transcript.NATSSubject != "" && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when transcript.nats_subject is set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList splits a comma separated value.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
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
