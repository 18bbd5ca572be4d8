// Package config loads the gateway's single YAML/JSON/TOML configuration
// file through viper, following the teacher's serv/config.go layering:
// one struct per concern, composed with mapstructure's squash tag, env
// vars overriding file values under a fixed prefix, and sane defaults set
// before any file is read.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Config is the top-level, fully-decoded configuration for one gateway
// process.
type Config struct {
	Admission  Admission  `mapstructure:"admission" jsonschema:"title=Admission"`
	Connection Connection `mapstructure:"connection" jsonschema:"title=Connection"`
	Store      Store      `mapstructure:"store" jsonschema:"title=Store"`
	Facade     Facade     `mapstructure:"facade" jsonschema:"title=Facade"`
	Catalog    Catalog    `mapstructure:"catalog" jsonschema:"title=Catalog"`
	Log        Log        `mapstructure:"log" jsonschema:"title=Logging"`

	configPath string
	viper      *viper.Viper
}

// Admission bounds the row cap every executed statement is subject to
// (spec.md §4.3).
type Admission struct {
	// MaxRowLimit is injected as the LIMIT on any statement missing one,
	// and the ceiling any explicit LIMIT above it is rewritten down to.
	MaxRowLimit int `mapstructure:"max_row_limit" jsonschema:"title=Max Row Limit,default=1000"`
}

// Connection bounds one backend connection's pool (spec.md §5, applied
// per-connection rather than process-global as the teacher does it).
type Connection struct {
	PoolSize       int           `mapstructure:"pool_size" jsonschema:"title=Pool Size,default=10"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" jsonschema:"title=Acquire Timeout,default=5s"`
}

// Store locates the embedded sqlite file backing domains, connections,
// metadata cache, saved queries and query history (spec.md §4.7).
type Store struct {
	Path string `mapstructure:"path" jsonschema:"title=Store Path,default=gateway.db"`
}

// Facade bounds request execution (spec.md §4.8/§5).
type Facade struct {
	MaxTimeout time.Duration `mapstructure:"max_timeout" jsonschema:"title=Max Request Timeout,default=30s"`
}

// Catalog holds the catalog section's settings. cmd/gwctl uses CacheSize
// as the entry count of the dialect translation cache; TTL is decoded but
// not read anywhere. There is no in-process catalog cache on top of the
// persisted copy in internal/store.
type Catalog struct {
	CacheSize int           `mapstructure:"cache_size" jsonschema:"title=Catalog Cache Size,default=256"`
	TTL       time.Duration `mapstructure:"ttl" jsonschema:"title=Catalog TTL,default=5m"`
}

// Log configures the process-wide zap logger built from this config in
// cmd/gwctl.
type Log struct {
	Level  string `mapstructure:"level" jsonschema:"title=Log Level,enum=debug,enum=info,enum=warn,enum=error,default=info"`
	Format string `mapstructure:"format" jsonschema:"title=Log Format,enum=json,enum=console,default=console"`
}

// envPrefix mirrors the teacher's GJ_/SJ_ dual-prefix pattern, trimmed to
// this project's own single prefix.
const envPrefix = "GW_"

// ReadInConfig reads configFile (any viper-supported format) from the
// real filesystem, applying defaults and GW_-prefixed environment
// overrides.
func ReadInConfig(configFile string) (*Config, error) {
	return readInConfig(configFile, nil)
}

// ReadInConfigFS is ReadInConfig against an arbitrary afero.Fs, used by
// tests to avoid touching the real filesystem.
func ReadInConfigFS(configFile string, fs afero.Fs) (*Config, error) {
	return readInConfig(configFile, fs)
}

func readInConfig(configFile string, fs afero.Fs) (*Config, error) {
	cp := filepath.Dir(configFile)
	vi := newViper(cp, filepath.Base(configFile))
	if fs != nil {
		vi.SetFs(fs)
	}

	if err := vi.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{viper: vi, configPath: cp}
	if err := vi.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config built entirely from defaults, for callers
// (tests, `gwctl` with no --config flag) that don't need a file on disk.
func Default() *Config {
	vi := newViperWithDefaults()
	cfg := &Config{viper: vi}
	_ = vi.Unmarshal(cfg)
	return cfg
}

func newViperWithDefaults() *viper.Viper {
	vi := viper.New()

	vi.SetDefault("admission.max_row_limit", 1000)

	vi.SetDefault("connection.pool_size", 10)
	vi.SetDefault("connection.acquire_timeout", 5*time.Second)

	vi.SetDefault("store.path", "gateway.db")

	vi.SetDefault("facade.max_timeout", 30*time.Second)

	vi.SetDefault("catalog.cache_size", 256)
	vi.SetDefault("catalog.ttl", 5*time.Minute)

	vi.SetDefault("log.level", "info")
	vi.SetDefault("log.format", "console")

	vi.SetEnvPrefix(strings.TrimSuffix(envPrefix, "_"))
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vi.AutomaticEnv()
	for _, key := range envKeys {
		_ = vi.BindEnv(key) //nolint:errcheck
	}

	return vi
}

// envKeys lists every leaf config key that may be overridden by a
// GW_-prefixed environment variable (e.g. admission.max_row_limit ->
// GW_ADMISSION_MAX_ROW_LIMIT), mirroring the teacher's per-key BindEnv
// calls in newViperWithDefaults rather than a blanket env-var scan.
var envKeys = []string{
	"admission.max_row_limit",
	"connection.pool_size",
	"connection.acquire_timeout",
	"store.path",
	"facade.max_timeout",
	"catalog.cache_size",
	"catalog.ttl",
	"log.level",
	"log.format",
}

func newViper(configPath, configFile string) *viper.Viper {
	vi := newViperWithDefaults()
	vi.SetConfigName(strings.TrimSuffix(configFile, filepath.Ext(configFile)))
	if configPath == "" {
		vi.AddConfigPath(".")
	} else {
		vi.AddConfigPath(configPath)
	}
	return vi
}

// AbsolutePath resolves p against the directory the config file was
// loaded from, matching the teacher's Config.AbsolutePath.
func (c *Config) AbsolutePath(p string) string {
	if filepath.IsAbs(p) || c.configPath == "" {
		return p
	}
	return filepath.Join(c.configPath, p)
}
