package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/doctree"
	"github.com/dgallion1/rtfbridge/internal/engine"
	"github.com/dgallion1/rtfbridge/internal/pool"
	"github.com/dgallion1/rtfbridge/internal/rtf"
	"github.com/dgallion1/rtfbridge/internal/validate"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string `yaml:"port" toml:"port"`
	LogLevel string `yaml:"log_level" toml:"log_level"`

	// Auth
	APIKey string `yaml:"api_key" toml:"api_key"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes" toml:"max_upload_bytes"`

	// Conversion
	Limits  LimitsConfig `yaml:"limits" toml:"limits"`
	Policy  PolicyConfig `yaml:"policy" toml:"policy"`
	Mode    string       `yaml:"mode" toml:"mode"`
	Recover bool         `yaml:"recover" toml:"recover"`

	Pools  PoolConfig   `yaml:"pools" toml:"pools"`
	Engine EngineConfig `yaml:"engine" toml:"engine"`

	// Job state
	JobTTL time.Duration `yaml:"job_ttl" toml:"job_ttl"`

	Cache CacheConfig `yaml:"cache" toml:"cache"`

	// PDF
	PDFFallbackPdftotext bool `yaml:"pdf_fallback_pdftotext" toml:"pdf_fallback_pdftotext"`
}

type LimitsConfig struct {
	MaxInputBytes int64 `yaml:"max_input_bytes" toml:"max_input_bytes"`
	MaxTextBytes  int64 `yaml:"max_text_bytes" toml:"max_text_bytes"`
	MaxDepth      int   `yaml:"max_depth" toml:"max_depth"`
	MaxNodes      int64 `yaml:"max_nodes" toml:"max_nodes"`
	MaxTableRows  int   `yaml:"max_table_rows" toml:"max_table_rows"`
	MaxTableCols  int   `yaml:"max_table_cols" toml:"max_table_cols"`
}

// PolicyConfig adjusts the default control-word whitelist and denylist.
type PolicyConfig struct {
	Allow []string `yaml:"allow" toml:"allow"`
	Deny  []string `yaml:"deny" toml:"deny"`
}

type PoolConfig struct {
	Strings      int `yaml:"strings" toml:"strings"`
	SmallStrings int `yaml:"small_strings" toml:"small_strings"`
	Buffers      int `yaml:"buffers" toml:"buffers"`
	Tokens       int `yaml:"tokens" toml:"tokens"`
	Nodes        int `yaml:"nodes" toml:"nodes"`
}

type EngineConfig struct {
	MinThreads            int           `yaml:"min_threads" toml:"min_threads"`
	MaxThreads            int           `yaml:"max_threads" toml:"max_threads"`
	Capacity              int           `yaml:"capacity" toml:"capacity"`
	IdleTimeout           time.Duration `yaml:"idle_timeout" toml:"idle_timeout"`
	BackpressureThreshold float64       `yaml:"backpressure_threshold" toml:"backpressure_threshold"`
	SamplingInterval      time.Duration `yaml:"sampling_interval" toml:"sampling_interval"`
}

// CacheConfig selects the result cache. A RedisURL wins over the in-memory
// LRU.
type CacheConfig struct {
	Disabled      bool          `yaml:"disabled" toml:"disabled"`
	RedisURL      string        `yaml:"redis_url" toml:"redis_url"`
	Prefix        string        `yaml:"prefix" toml:"prefix"`
	TTL           time.Duration `yaml:"ttl" toml:"ttl"`
	MemoryEntries int           `yaml:"memory_entries" toml:"memory_entries"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	l := doctree.DefaultLimits()
	p := pool.DefaultSizes()
	e := engine.DefaultConfig()
	return Config{
		Port:           "8090",
		LogLevel:       "info",
		MaxUploadBytes: 52428800, // 50MB
		Limits: LimitsConfig{
			MaxInputBytes: l.MaxInputBytes,
			MaxTextBytes:  l.MaxTextBytes,
			MaxDepth:      l.MaxDepth,
			MaxNodes:      l.MaxNodes,
			MaxTableRows:  l.MaxTableRows,
			MaxTableCols:  l.MaxTableCols,
		},
		Mode:    "lenient",
		Recover: true,
		Pools: PoolConfig{
			Strings:      p.Strings,
			SmallStrings: p.SmallStrings,
			Buffers:      p.Buffers,
			Tokens:       p.Tokens,
			Nodes:        p.Nodes,
		},
		Engine: EngineConfig{
			MinThreads:            e.MinThreads,
			MaxThreads:            e.MaxThreads,
			Capacity:              e.Capacity,
			IdleTimeout:           e.IdleTimeout,
			BackpressureThreshold: e.BackpressureThreshold,
			SamplingInterval:      e.SamplingInterval,
		},
		JobTTL: 1 * time.Hour,
		Cache: CacheConfig{
			Prefix:        "rtfbridge:result:",
			TTL:           1 * time.Hour,
			MemoryEntries: 1024,
		},
		PDFFallbackPdftotext: true,
	}
}

// Load builds the configuration from defaults, then the file named by
// RTFBRIDGE_CONFIG if set, then individual environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("RTFBRIDGE_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.overlayEnv()
	cfg.fill()
	return cfg, nil
}

// overlayFile decodes a .yaml, .yml or .toml file over c. Keys missing
// from the file keep their current values.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config file type: %q", filepath.Ext(path))
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.Port = envOr("PORT", c.Port)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.APIKey = envOr("RTFBRIDGE_API_KEY", c.APIKey)
	c.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)

	c.Limits.MaxInputBytes = envInt64("MAX_INPUT_BYTES", c.Limits.MaxInputBytes)
	c.Limits.MaxTextBytes = envInt64("MAX_TEXT_BYTES", c.Limits.MaxTextBytes)
	c.Limits.MaxDepth = envInt("MAX_DEPTH", c.Limits.MaxDepth)
	c.Limits.MaxNodes = envInt64("MAX_NODES", c.Limits.MaxNodes)
	c.Limits.MaxTableRows = envInt("MAX_TABLE_ROWS", c.Limits.MaxTableRows)
	c.Limits.MaxTableCols = envInt("MAX_TABLE_COLS", c.Limits.MaxTableCols)

	c.Policy.Allow = envList("CONTROL_WORD_ALLOW", c.Policy.Allow)
	c.Policy.Deny = envList("CONTROL_WORD_DENY", c.Policy.Deny)
	c.Mode = envOr("VALIDATION_MODE", c.Mode)
	c.Recover = envBool("RECOVER", c.Recover)

	c.Pools.Strings = envInt("POOL_STRINGS", c.Pools.Strings)
	c.Pools.SmallStrings = envInt("POOL_SMALL_STRINGS", c.Pools.SmallStrings)
	c.Pools.Buffers = envInt("POOL_BUFFERS", c.Pools.Buffers)
	c.Pools.Tokens = envInt("POOL_TOKENS", c.Pools.Tokens)
	c.Pools.Nodes = envInt("POOL_NODES", c.Pools.Nodes)

	c.Engine.MinThreads = envInt("ENGINE_MIN_THREADS", c.Engine.MinThreads)
	c.Engine.MaxThreads = envInt("ENGINE_MAX_THREADS", c.Engine.MaxThreads)
	c.Engine.Capacity = envInt("ENGINE_CAPACITY", c.Engine.Capacity)
	c.Engine.IdleTimeout = envDuration("ENGINE_IDLE_TIMEOUT", c.Engine.IdleTimeout)
	c.Engine.BackpressureThreshold = envFloat("BACKPRESSURE_THRESHOLD", c.Engine.BackpressureThreshold)
	c.Engine.SamplingInterval = envDuration("SAMPLING_INTERVAL", c.Engine.SamplingInterval)

	c.JobTTL = envDuration("JOB_TTL", c.JobTTL)

	c.Cache.Disabled = envBool("CACHE_DISABLED", c.Cache.Disabled)
	c.Cache.RedisURL = envOr("REDIS_URL", c.Cache.RedisURL)
	c.Cache.Prefix = envOr("CACHE_PREFIX", c.Cache.Prefix)
	c.Cache.TTL = envDuration("CACHE_TTL", c.Cache.TTL)
	c.Cache.MemoryEntries = envInt("CACHE_MEMORY_ENTRIES", c.Cache.MemoryEntries)

	c.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", c.PDFFallbackPdftotext)
}

// fill replaces non-positive sizes with defaults.
func (c *Config) fill() {
	d := Defaults()
	if c.Port == "" {
		c.Port = d.Port
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
	if c.JobTTL <= 0 {
		c.JobTTL = d.JobTTL
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = d.Cache.TTL
	}
	if c.Cache.MemoryEntries <= 0 {
		c.Cache.MemoryEntries = d.Cache.MemoryEntries
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = d.Cache.Prefix
	}
	// Limits, pools and engine sizes are normalized by their own packages.
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("RTFBRIDGE_API_KEY is required")
	}
	switch strings.ToLower(c.Mode) {
	case "lenient", "strict":
	default:
		return fmt.Errorf("mode must be lenient or strict, got %q", c.Mode)
	}
	if t := c.Engine.BackpressureThreshold; t < 0 || t > 1 {
		return fmt.Errorf("backpressure threshold must be within [0, 1], got %v", t)
	}
	if c.Engine.MaxThreads > 0 && c.Engine.MinThreads > c.Engine.MaxThreads {
		return fmt.Errorf("engine min threads (%d) exceeds max threads (%d)", c.Engine.MinThreads, c.Engine.MaxThreads)
	}
	if c.Limits.MaxInputBytes > c.MaxUploadBytes {
		return fmt.Errorf("max input bytes (%d) exceeds max upload bytes (%d)", c.Limits.MaxInputBytes, c.MaxUploadBytes)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return nil
}

// SlogLevel returns the configured log level, falling back to info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ConvertOptions returns the options for the process-wide converter.
func (c Config) ConvertOptions() convert.Options {
	return convert.Options{
		Limits:  c.DocLimits(),
		Policy:  rtf.DefaultPolicy().With(c.Policy.Allow, c.Policy.Deny),
		Mode:    validate.ParseMode(c.Mode),
		Recover: c.Recover,
	}
}

func (c Config) DocLimits() doctree.Limits {
	return doctree.Limits{
		MaxInputBytes: c.Limits.MaxInputBytes,
		MaxTextBytes:  c.Limits.MaxTextBytes,
		MaxDepth:      c.Limits.MaxDepth,
		MaxNodes:      c.Limits.MaxNodes,
		MaxTableRows:  c.Limits.MaxTableRows,
		MaxTableCols:  c.Limits.MaxTableCols,
	}.Normalize()
}

func (c Config) PoolSizes() pool.Sizes {
	return pool.Sizes{
		Strings:      c.Pools.Strings,
		SmallStrings: c.Pools.SmallStrings,
		Buffers:      c.Pools.Buffers,
		Tokens:       c.Pools.Tokens,
		Nodes:        c.Pools.Nodes,
	}
}

func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		MinThreads:            c.Engine.MinThreads,
		MaxThreads:            c.Engine.MaxThreads,
		Capacity:              c.Engine.Capacity,
		IdleTimeout:           c.Engine.IdleTimeout,
		BackpressureThreshold: c.Engine.BackpressureThreshold,
		SamplingInterval:      c.Engine.SamplingInterval,
	}.Normalize()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList reads a comma-separated list; empty entries are dropped.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
