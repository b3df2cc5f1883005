// Package config centralises runtime configuration for twapd services.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where twapd operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// EventbusConfig sets per-subscriber buffer sizing for the in-memory buses.
type EventbusConfig struct {
	BufferSize int `yaml:"bufferSize"`
}

// RelayConfig tunes the trigger relay's queue and throughput ceiling.
type RelayConfig struct {
	QueueDepth   int     `yaml:"queueDepth"`
	MaxPerSecond float64 `yaml:"maxPerSecond"`
}

// EngineConfig aggregates execution-engine tunables.
type EngineConfig struct {
	Eventbus   EventbusConfig
	Relay      RelayConfig
	TickPeriod time.Duration
}

// JournalConfig configures the durable event journal. An empty DSN selects
// the in-memory store.
type JournalConfig struct {
	PostgresDSN     string
	MigrationsPath  string
	ReplayInterval  time.Duration
	ReplayBatchSize int
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// MintConfig seeds a token balance at startup.
type MintConfig struct {
	Account string `yaml:"account"`
	Asset   string `yaml:"asset"`
	Amount  uint64 `yaml:"amount"`
}

// RateConfig seeds a venue exchange rate. Rate is scaled by the venue's
// fixed-point factor, so 10000 is par.
type RateConfig struct {
	AssetIn  string `yaml:"assetIn"`
	AssetOut string `yaml:"assetOut"`
	Rate     uint64 `yaml:"rate"`
}

// LiquidityConfig seeds venue pool liquidity from a provider account.
type LiquidityConfig struct {
	Provider string `yaml:"provider"`
	Asset    string `yaml:"asset"`
	Amount   uint64 `yaml:"amount"`
}

// OrderConfig declares an order to create and trigger at startup.
type OrderConfig struct {
	Owner         string `yaml:"owner"`
	AssetIn       string `yaml:"assetIn"`
	AssetOut      string `yaml:"assetOut"`
	TotalAmount   uint64 `yaml:"totalAmount"`
	MaxExecutions uint32 `yaml:"maxExecutions"`
	// Interval selects the tick stream: 0 fires every tick, 1 every 10th,
	// up to 4 for every 10000th.
	Interval int `yaml:"interval"`
}

// BootstrapConfig seeds the in-memory world at startup.
type BootstrapConfig struct {
	Mints     []MintConfig      `yaml:"mints"`
	Rates     []RateConfig      `yaml:"rates"`
	Liquidity []LiquidityConfig `yaml:"liquidity"`
	Orders    []OrderConfig     `yaml:"orders"`
}

// AppConfig is the unified twapd configuration combining all concerns.
type AppConfig struct {
	Environment Environment
	Engine      EngineConfig
	Journal     JournalConfig
	Telemetry   TelemetryConfig
	Bootstrap   BootstrapConfig
}

// appConfigYAML is the YAML representation that maps to AppConfig. Durations
// travel as strings and are parsed during the merge.
type appConfigYAML struct {
	Environment string `yaml:"environment"`
	Engine      struct {
		Eventbus   EventbusConfig `yaml:"eventbus"`
		Relay      RelayConfig    `yaml:"relay"`
		TickPeriod string         `yaml:"tickPeriod"`
	} `yaml:"engine"`
	Journal struct {
		PostgresDSN     string `yaml:"postgresDsn"`
		MigrationsPath  string `yaml:"migrationsPath"`
		ReplayInterval  string `yaml:"replayInterval"`
		ReplayBatchSize int    `yaml:"replayBatchSize"`
	} `yaml:"journal"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// Load builds the configuration with precedence: defaults, then YAML, then
// environment variables.
func Load(configPath string) (AppConfig, error) {
	cfg := Default()

	if err := cfg.loadYAML(configPath); err != nil && !isConfigNotFoundError(err) {
		return AppConfig{}, fmt.Errorf("load yaml config: %w", err)
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns the default twapd configuration.
func Default() AppConfig {
	return AppConfig{
		Environment: EnvProd,
		Engine: EngineConfig{
			Eventbus:   EventbusConfig{BufferSize: 256},
			Relay:      RelayConfig{QueueDepth: 128, MaxPerSecond: 0},
			TickPeriod: time.Second,
		},
		Journal: JournalConfig{
			PostgresDSN:     "",
			MigrationsPath:  "db/migrations",
			ReplayInterval:  5 * time.Second,
			ReplayBatchSize: 128,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "",
			ServiceName:   "twapd",
			OTLPInsecure:  false,
			EnableMetrics: true,
		},
	}
}

func isConfigNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return os.IsNotExist(err) || strings.Contains(err.Error(), "open app config")
}

func (c *AppConfig) loadYAML(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = os.Getenv("TWAPD_CONFIG")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = "config/app.yaml"
	}

	reader, closer, err := openConfigFile(path)
	if err != nil {
		return err
	}
	defer closer()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var yamlCfg appConfigYAML
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	if yamlCfg.Environment != "" {
		c.Environment = Environment(strings.ToLower(strings.TrimSpace(yamlCfg.Environment)))
	}

	if yamlCfg.Engine.Eventbus.BufferSize != 0 {
		c.Engine.Eventbus = yamlCfg.Engine.Eventbus
	}
	if yamlCfg.Engine.Relay.QueueDepth != 0 || yamlCfg.Engine.Relay.MaxPerSecond != 0 {
		c.Engine.Relay = yamlCfg.Engine.Relay
	}
	if err := mergeDuration(&c.Engine.TickPeriod, yamlCfg.Engine.TickPeriod, "engine.tickPeriod"); err != nil {
		return err
	}

	if v := strings.TrimSpace(yamlCfg.Journal.PostgresDSN); v != "" {
		c.Journal.PostgresDSN = v
	}
	if v := strings.TrimSpace(yamlCfg.Journal.MigrationsPath); v != "" {
		c.Journal.MigrationsPath = v
	}
	if err := mergeDuration(&c.Journal.ReplayInterval, yamlCfg.Journal.ReplayInterval, "journal.replayInterval"); err != nil {
		return err
	}
	if yamlCfg.Journal.ReplayBatchSize != 0 {
		c.Journal.ReplayBatchSize = yamlCfg.Journal.ReplayBatchSize
	}

	if v := strings.TrimSpace(yamlCfg.Telemetry.OTLPEndpoint); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(yamlCfg.Telemetry.ServiceName); v != "" {
		c.Telemetry.ServiceName = v
	}
	c.Telemetry.OTLPInsecure = yamlCfg.Telemetry.OTLPInsecure
	c.Telemetry.EnableMetrics = yamlCfg.Telemetry.EnableMetrics

	c.Bootstrap = yamlCfg.Bootstrap
	return nil
}

func mergeDuration(dst *time.Duration, raw, field string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	*dst = dur
	return nil
}

func (c *AppConfig) loadEnv() {
	if env := strings.TrimSpace(os.Getenv("TWAPD_ENV")); env != "" {
		c.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("TWAPD_POSTGRES_DSN")); v != "" {
		c.Journal.PostgresDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		c.Telemetry.ServiceName = v
	}
}

// Validate checks the final configuration and fills derivable defaults.
func (c *AppConfig) Validate() error {
	if c.Environment != EnvDev && c.Environment != EnvStaging && c.Environment != EnvProd {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if c.Engine.Eventbus.BufferSize <= 0 {
		return fmt.Errorf("eventbus bufferSize must be >0")
	}
	if c.Engine.Relay.QueueDepth <= 0 {
		return fmt.Errorf("relay queueDepth must be >0")
	}
	if c.Engine.Relay.MaxPerSecond < 0 {
		return fmt.Errorf("relay maxPerSecond must be >=0")
	}
	if c.Engine.TickPeriod <= 0 {
		return fmt.Errorf("engine tickPeriod must be >0")
	}

	if c.Journal.ReplayInterval <= 0 {
		c.Journal.ReplayInterval = 5 * time.Second
	}
	if c.Journal.ReplayBatchSize <= 0 {
		c.Journal.ReplayBatchSize = 128
	}
	if c.Journal.PostgresDSN != "" && strings.TrimSpace(c.Journal.MigrationsPath) == "" {
		return fmt.Errorf("journal migrationsPath required when postgresDsn is set")
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "twapd"
	}

	for i, order := range c.Bootstrap.Orders {
		if order.TotalAmount == 0 || order.MaxExecutions == 0 {
			return fmt.Errorf("bootstrap order %d: amount and executions must be positive", i)
		}
		if order.TotalAmount%uint64(order.MaxExecutions) != 0 {
			return fmt.Errorf("bootstrap order %d: total must divide evenly across executions", i)
		}
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	var (
		candidates []string
		seen       = make(map[string]struct{})
	)
	addCandidate := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			return
		}
		candidate = filepath.Clean(candidate)
		if _, ok := seen[candidate]; ok {
			return
		}
		seen[candidate] = struct{}{}
		candidates = append(candidates, candidate)
	}
	addCandidate(path)
	for _, fallback := range []string{
		"config/app.yaml",
		"config/app.example.yaml",
	} {
		addCandidate(fallback)
	}

	var lastErr error
	for _, candidate := range candidates {
		file, err := os.Open(candidate) // #nosec G304 -- configuration paths are controlled by operators.
		if err == nil {
			return file, func() { _ = file.Close() }, nil
		}
		if !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("open app config: %w", err)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = os.ErrNotExist
	}
	return nil, nil, fmt.Errorf("open app config: %w", lastErr)
}
