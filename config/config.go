// Package config assembles agentcore's runtime Config through the
// three-layer priority gomind's core/config.go uses: compiled-in
// defaults, then environment variables, then functional options
// (highest priority). Every environment variable is tried under the
// AGENTCORE_ prefix first, falling back to ROBOPPI_ (spec.md §6), the
// same two-prefix fallback chain core/config.go uses for GOMIND_X vs.
// bare X (e.g. GOMIND_REDIS_URL falling back to REDIS_URL).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/agentcore/agentcore/backpressure"
	"github.com/agentcore/agentcore/breaker"
	"github.com/agentcore/agentcore/budget"
	"github.com/agentcore/agentcore/ferrors"
	"github.com/agentcore/agentcore/watchdog"
)

// IPCConfig configures the JSON-Lines transport (spec.md §6).
type IPCConfig struct {
	SocketPath          string
	SocketHost          string
	SocketPort          int
	Keepalive           bool
	KeepaliveIntervalMs int64
}

// BudgetConfig configures the ExecutionBudget (spec.md §4.1).
type BudgetConfig struct {
	MaxConcurrency int
	MaxRPS         int
	MaxCostBudget  *float64
}

// BreakerConfig configures every per-provider CircuitBreaker (spec.md §4.2).
type BreakerConfig struct {
	FailureThreshold    int
	ResetTimeoutMs      int64
	HalfOpenMaxAttempts int
}

// BackpressureConfig configures the BackpressureController (spec.md §4.3).
type BackpressureConfig struct {
	RejectThreshold  float64
	DeferThreshold   float64
	DegradeThreshold float64
	NormalPermits    int
	NormalQueue      int
	NormalLatencyMs  float64
}

// TelemetryConfig configures the telemetry package's tracer/meter setup
// and the optional Redis sink (SPEC_FULL.md §3).
type TelemetryConfig struct {
	Enabled     bool
	Exporter    string // "otlp" | "stdout" | "none"
	Endpoint    string
	ServiceName string
	RedisURL    string // empty disables telemetry/redissink
}

// LoggingConfig configures the logging package's SimpleLogger.
type LoggingConfig struct {
	Level  string
	Output string // "stdout" | "stderr"
}

// Config is agentcore's immutable, fully-assembled runtime configuration.
type Config struct {
	Component    string
	IPC          IPCConfig
	Budget       BudgetConfig
	Breaker      BreakerConfig
	Backpressure BackpressureConfig
	Watchdog     map[string]watchdog.Thresholds
	Telemetry    TelemetryConfig
	Logging      LoggingConfig
	StorePath    string // bbolt run-index path for `workflow` runs and `workflow status`; the workflow and daemon commands fail when it is empty
}

// DefaultConfig returns the compiled-in defaults, layer 1 of the
// three-layer priority.
func DefaultConfig() *Config {
	return &Config{
		Component: "agentcore",
		IPC: IPCConfig{
			KeepaliveIntervalMs: 30000,
		},
		Budget: BudgetConfig{
			MaxConcurrency: 8,
			MaxRPS:         50,
		},
		Breaker: BreakerConfig{
			FailureThreshold:    5,
			ResetTimeoutMs:      30000,
			HalfOpenMaxAttempts: 1,
		},
		Backpressure: BackpressureConfig{
			RejectThreshold:  1.0,
			DeferThreshold:   0.8,
			DegradeThreshold: 0.5,
			NormalPermits:    100,
			NormalQueue:      1000,
			NormalLatencyMs:  10000,
		},
		Watchdog: watchdog.DefaultThresholds(),
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
		},
		StorePath: "agentcore-runs.db",
	}
}

// lookupEnv tries AGENTCORE_<name> then ROBOPPI_<name>, mirroring
// core/config.go's GOMIND_X / bare-X fallback chain with agentcore's
// own two recognized prefixes (spec.md §6).
func lookupEnv(name string) (string, bool) {
	if v, ok := os.LookupEnv("AGENTCORE_" + name); ok && v != "" {
		return v, true
	}
	if v, ok := os.LookupEnv("ROBOPPI_" + name); ok && v != "" {
		return v, true
	}
	return "", false
}

// LoadFromEnv overlays environment variables onto the receiver, layer 2
// of the three-layer priority. Only variables that are actually set
// override the current value.
func (c *Config) LoadFromEnv() error {
	if v, ok := lookupEnv("COMPONENT"); ok {
		c.Component = v
	}
	if v, ok := lookupEnv("IPC_SOCKET_PATH"); ok {
		c.IPC.SocketPath = v
	}
	if v, ok := lookupEnv("IPC_SOCKET_HOST"); ok {
		c.IPC.SocketHost = v
	}
	if v, ok := lookupEnv("IPC_SOCKET_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return ferrors.New("config.LoadFromEnv", "validation", fmt.Errorf("%w: IPC_SOCKET_PORT=%q", ferrors.ErrInvalidConfiguration, v))
		}
		c.IPC.SocketPort = port
	}
	if v, ok := lookupEnv("KEEPALIVE"); ok {
		c.IPC.Keepalive = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := lookupEnv("KEEPALIVE_INTERVAL"); ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ferrors.New("config.LoadFromEnv", "validation", fmt.Errorf("%w: KEEPALIVE_INTERVAL=%q", ferrors.ErrInvalidConfiguration, v))
		}
		c.IPC.KeepaliveIntervalMs = ms
	}

	if v, ok := lookupEnv("MAX_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ferrors.New("config.LoadFromEnv", "validation", fmt.Errorf("%w: MAX_CONCURRENCY=%q", ferrors.ErrInvalidConfiguration, v))
		}
		c.Budget.MaxConcurrency = n
	}
	if v, ok := lookupEnv("MAX_RPS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ferrors.New("config.LoadFromEnv", "validation", fmt.Errorf("%w: MAX_RPS=%q", ferrors.ErrInvalidConfiguration, v))
		}
		c.Budget.MaxRPS = n
	}

	if v, ok := lookupEnv("TELEMETRY_ENABLED"); ok {
		c.Telemetry.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v, ok := lookupEnv("TELEMETRY_ENDPOINT"); ok {
		c.Telemetry.Endpoint = v
	} else if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v, ok := lookupEnv("TELEMETRY_EXPORTER"); ok {
		c.Telemetry.Exporter = v
	}
	if v, ok := lookupEnv("TELEMETRY_SERVICE_NAME"); ok {
		c.Telemetry.ServiceName = v
	} else if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
	if v, ok := lookupEnv("REDIS_URL"); ok {
		c.Telemetry.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Telemetry.RedisURL = v
	}

	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := lookupEnv("LOG_OUTPUT"); ok {
		c.Logging.Output = v
	}
	if v, ok := lookupEnv("STORE_PATH"); ok {
		c.StorePath = v
	}

	return nil
}

// Option mutates a Config, applied after defaults and environment —
// layer 3, the highest priority.
type Option func(*Config) error

func WithComponent(name string) Option {
	return func(c *Config) error { c.Component = name; return nil }
}

func WithIPCSocketPath(path string) Option {
	return func(c *Config) error { c.IPC.SocketPath = path; return nil }
}

func WithIPCTCP(host string, port int) Option {
	return func(c *Config) error { c.IPC.SocketHost = host; c.IPC.SocketPort = port; return nil }
}

func WithBudget(maxConcurrency, maxRPS int) Option {
	return func(c *Config) error {
		c.Budget.MaxConcurrency = maxConcurrency
		c.Budget.MaxRPS = maxRPS
		return nil
	}
}

func WithCostBudget(max float64) Option {
	return func(c *Config) error { c.Budget.MaxCostBudget = &max; return nil }
}

func WithBreaker(failureThreshold int, resetTimeoutMs int64) Option {
	return func(c *Config) error {
		c.Breaker.FailureThreshold = failureThreshold
		c.Breaker.ResetTimeoutMs = resetTimeoutMs
		return nil
	}
}

func WithTelemetry(enabled bool, exporter, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		c.Telemetry.Exporter = exporter
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

func WithRedisURL(url string) Option {
	return func(c *Config) error { c.Telemetry.RedisURL = url; return nil }
}

func WithLogLevel(level string) Option {
	return func(c *Config) error { c.Logging.Level = level; return nil }
}

func WithStorePath(path string) Option {
	return func(c *Config) error { c.StorePath = path; return nil }
}

// New assembles a Config through all three layers and validates the
// result.
func New(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the minimal invariants a Config must satisfy before
// it can be used to construct the runtime's subsystems.
func (c *Config) Validate() error {
	if c.Budget.MaxConcurrency <= 0 {
		return ferrors.New("config.Validate", "validation", fmt.Errorf("%w: budget.maxConcurrency must be positive", ferrors.ErrInvalidConfiguration))
	}
	if c.Breaker.FailureThreshold <= 0 {
		return ferrors.New("config.Validate", "validation", fmt.Errorf("%w: breaker.failureThreshold must be positive", ferrors.ErrInvalidConfiguration))
	}
	if c.IPC.SocketHost != "" && c.IPC.SocketPort <= 0 {
		return ferrors.New("config.Validate", "validation", fmt.Errorf("%w: ipc.socketPort required when ipc.socketHost is set", ferrors.ErrInvalidConfiguration))
	}
	return nil
}

// ToBudgetConfig converts to budget.Config.
func (c *Config) ToBudgetConfig() budget.Config {
	return budget.Config{
		MaxConcurrency: c.Budget.MaxConcurrency,
		MaxRPS:         c.Budget.MaxRPS,
		MaxCostBudget:  c.Budget.MaxCostBudget,
	}
}

// ToBreakerConfigFor converts to a breaker.Config for the named provider.
func (c *Config) ToBreakerConfigFor(provider string) breaker.Config {
	return breaker.Config{
		Name:                provider,
		FailureThreshold:    c.Breaker.FailureThreshold,
		ResetTimeoutMs:      c.Breaker.ResetTimeoutMs,
		HalfOpenMaxAttempts: c.Breaker.HalfOpenMaxAttempts,
	}
}

// ToBackpressureThresholds converts to backpressure.Thresholds.
func (c *Config) ToBackpressureThresholds() backpressure.Thresholds {
	return backpressure.Thresholds{
		RejectThreshold:  c.Backpressure.RejectThreshold,
		DeferThreshold:   c.Backpressure.DeferThreshold,
		DegradeThreshold: c.Backpressure.DegradeThreshold,
		NormalPermits:    c.Backpressure.NormalPermits,
		NormalQueue:      c.Backpressure.NormalQueue,
		NormalLatency:    c.Backpressure.NormalLatencyMs,
	}
}

// ToWatchdogThresholds returns the configured per-metric thresholds.
func (c *Config) ToWatchdogThresholds() map[string]watchdog.Thresholds {
	return c.Watchdog
}
