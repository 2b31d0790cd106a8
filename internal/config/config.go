// Package config provides hierarchical configuration loading for sensebridge.
// Precedence: defaults < YAML file < environment variables < CLI flags.
package config

import "time"

// Config holds all runtime configuration for the bridge.
type Config struct {
	Workspace  Workspace  `yaml:"workspace"`
	LSP        LSP        `yaml:"lsp"`
	Index      Index      `yaml:"index"`
	Resolver   Resolver   `yaml:"resolver"`
	Finder     Finder     `yaml:"finder"`
	Breaker    Breaker    `yaml:"breaker"`
	Watcher    Watcher    `yaml:"watcher"`
	Transcript Transcript `yaml:"transcript"`
	NATS       NATS       `yaml:"nats"`
	HTTP       HTTP       `yaml:"http"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	Logging    Logging    `yaml:"logging"`
}

// Workspace describes the single repository the bridge serves.
type Workspace struct {
	Root     string   `yaml:"root"`
	Language string   `yaml:"language"` // "rust" | "go" | "python" | "typescript"
	Ignore   []string `yaml:"ignore"`   // doublestar patterns, relative to Root
}

// LSP holds language server session configuration.
type LSP struct {
	Command            []string      `yaml:"command"`             // overrides the language default when set
	StartTimeout       time.Duration `yaml:"start_timeout"`       // spawn + initialize handshake
	RequestTimeout     time.Duration `yaml:"request_timeout"`     // per request
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`    // shutdown/exit grace period before kill
	ReadyTimeout       time.Duration `yaml:"ready_timeout"`       // upper bound for the $/progress readiness wait
	MaxDiagnostics     int           `yaml:"max_diagnostics"`     // per URI, 0 = unlimited
	NotificationBuffer int           `yaml:"notification_buffer"` // per subscriber queue size
}

// Index holds semantic index cache configuration.
type Index struct {
	CacheMaxCost int64         `yaml:"cache_max_cost"` // total symbols kept across cached documents
	CacheTTL     time.Duration `yaml:"cache_ttl"`      // 0 = no expiry
	MaxRecompute int           `yaml:"max_recompute"`  // attempts when the document changes mid-build
}

// Resolver holds scoring weights for loose reference resolution.
type Resolver struct {
	NameWeight      float64 `yaml:"name_weight"`
	KindWeight      float64 `yaml:"kind_weight"`
	ContainerWeight float64 `yaml:"container_weight"`
	ModifierWeight  float64 `yaml:"modifier_weight"`
	MinConfidence   float64 `yaml:"min_confidence"` // below this the top candidate is not auto-selected
	MaxFiles        int     `yaml:"max_files"`      // documents examined for a file glob hint
	Concurrency     int     `yaml:"concurrency"`    // documents indexed in parallel
}

// Finder holds workspace search configuration.
type Finder struct {
	TopK          int     `yaml:"top_k"`
	TypePriority  float64 `yaml:"type_priority"`  // type, function, method, module
	FieldPriority float64 `yaml:"field_priority"` // field, variable, constant
	OtherPriority float64 `yaml:"other_priority"`
}

// Breaker holds circuit breaker configuration for detail sub-requests.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Watcher holds file system watcher configuration.
type Watcher struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// Transcript holds IO interception configuration.
type Transcript struct {
	Dir         string `yaml:"dir"`          // empty = no transcript files
	NATSSubject string `yaml:"nats_subject"` // empty = no broker publishing
}

// NATS holds NATS connection configuration.
type NATS struct {
	URL string `yaml:"url"`
}

// HTTP holds the optional HTTP surface configuration.
type HTTP struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"`
}

// Telemetry holds OpenTelemetry configuration.
type Telemetry struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"` // empty = no OTLP export
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Format  string `yaml:"format"` // "json" | "text"
	Async   bool   `yaml:"async"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Workspace: Workspace{
			Root:     ".",
			Language: "rust",
			Ignore:   []string{"**/.git/**", "**/target/**", "**/node_modules/**", "**/vendor/**"},
		},
		LSP: LSP{
			StartTimeout:       30 * time.Second,
			RequestTimeout:     10 * time.Second,
			ShutdownTimeout:    5 * time.Second,
			ReadyTimeout:       2 * time.Minute,
			MaxDiagnostics:     100,
			NotificationBuffer: 256,
		},
		Index: Index{
			CacheMaxCost: 200_000,
			MaxRecompute: 3,
		},
		Resolver: Resolver{
			NameWeight:      10,
			KindWeight:      3,
			ContainerWeight: 5,
			ModifierWeight:  0.01,
			MinConfidence:   20,
			MaxFiles:        64,
			Concurrency:     4,
		},
		Finder: Finder{
			TopK:          20,
			TypePriority:  1.0,
			FieldPriority: 0.6,
			OtherPriority: 0.3,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Watcher: Watcher{
			Enabled:  true,
			Debounce: 200 * time.Millisecond,
		},
		Telemetry: Telemetry{
			ServiceName: "sensebridge",
		},
		Logging: Logging{
			Level:   "info",
			Service: "sensebridge",
			Format:  "json",
		},
	}
}
