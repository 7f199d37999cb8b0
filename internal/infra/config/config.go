package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Engine   EngineConfig   `yaml:"engine"`
	Memory   MemoryConfig   `yaml:"memory"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	MCP      MCPConfig      `yaml:"mcp"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig holds outbound HTTP client settings shared by the provider
// adapters and the MCP client.
type HTTPConfig struct {
	ConnTimeout         time.Duration `yaml:"conn_timeout"`
	RespTimeout         time.Duration `yaml:"resp_timeout"`
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
}

// EngineConfig holds chat engine limits.
type EngineConfig struct {
	// MaxToolIterations bounds the tool-calling loop per turn.
	MaxToolIterations int `yaml:"max_tool_iterations"`
}

// MemoryConfig holds the scoring inputs of the memory service. StopWords and
// StopCharacters extend the built-in token separators; SynonymGroups lists
// sets of mutually equivalent words.
type MemoryConfig struct {
	StopWords      []string   `yaml:"stop_words"`
	StopCharacters []string   `yaml:"stop_characters"`
	SynonymGroups  [][]string `yaml:"synonym_groups"`
}

// BreakerConfig holds circuit breaker settings for provider exchanges.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// MCPConfig holds MCP client settings.
type MCPConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
	// RequestsPerSecond limits outgoing RPC calls per server; 0 = unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// Default returns a configuration with usable defaults.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "chatcore.db"},
		HTTP: HTTPConfig{
			ConnTimeout:         30 * time.Second,
			RespTimeout:         120 * time.Second,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
		},
		Engine: EngineConfig{MaxToolIterations: 4},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
		MCP:    MCPConfig{CallTimeout: 30 * time.Second},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Enabled: false, Exporter: "noop"},
	}
}

// Load reads and validates a YAML configuration file. Missing fields keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted away.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	switch c.Logger.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logger.level %q is not valid", c.Logger.Level)
	}
	switch c.Logger.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logger.format %q is not valid", c.Logger.Format)
	}
	if c.Engine.MaxToolIterations < 0 {
		return fmt.Errorf("engine.max_tool_iterations must not be negative")
	}
	if c.MCP.RequestsPerSecond < 0 {
		return fmt.Errorf("mcp.requests_per_second must not be negative")
	}
	for i, group := range c.Memory.SynonymGroups {
		if len(group) < 2 {
			return fmt.Errorf("memory.synonym_groups[%d] needs at least two words", i)
		}
	}
	return nil
}
