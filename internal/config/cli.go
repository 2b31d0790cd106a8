package config

import "fmt"

// CLIFlags holds command line overrides. Nil fields were not given on the
// command line and leave the loaded value untouched.
type CLIFlags struct {
	ConfigPath    *string
	Workspace     *string
	Language      *string
	LogLevel      *string
	HTTPAddr      *string
	TranscriptDir *string
	Watch         *bool
}

// LoadWithCLI loads configuration with the full hierarchy
// defaults < YAML < ENV < CLI and returns the YAML path that was consulted.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil && *flags.ConfigPath != "" {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, f CLIFlags) {
	if f.Workspace != nil {
		cfg.Workspace.Root = *f.Workspace
	}
	if f.Language != nil {
		cfg.Workspace.Language = *f.Language
	}
	if f.LogLevel != nil {
		cfg.Logging.Level = *f.LogLevel
	}
	if f.HTTPAddr != nil {
		cfg.HTTP.Addr = *f.HTTPAddr
	}
	if f.TranscriptDir != nil {
		cfg.Transcript.Dir = *f.TranscriptDir
	}
	if f.Watch != nil {
		cfg.Watcher.Enabled = *f.Watch
	}
}
