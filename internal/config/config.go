// Package config loads the orchestrator's runtime configuration in three
// layers — compiled defaults, environment variables, then functional
// options — the same precedence order the teacher's core.Config uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/flowcore/agentrt/internal/errs"
)

// Config holds every environment-tunable knob named in the specification
// plus the resource ceilings from the concurrency model.
type Config struct {
	// LLMAPIKey authenticates outbound calls from the Designer/Optimizer to
	// the LLM provider. Required; New fails without it.
	LLMAPIKey string

	// StoreRoot is the directory holding one JSON document per workflow
	// template, named <id>.json.
	StoreRoot string

	// PermissionDefaultTTL is how long a permission request stays pending
	// before the background sweep expires it, absent an explicit override.
	PermissionDefaultTTL time.Duration

	// SessionDeadline is the soft per-session deadline (§5) after which the
	// session unwinds with SessionCancelled.
	SessionDeadline time.Duration

	// LogLevel gates SimpleLogger output.
	LogLevel string

	// LogJSON selects JSON-lines vs. plain text log formatting.
	LogJSON bool

	// WorkerPoolSize bounds concurrent capability invocations process-wide
	// (§5: "default 64").
	WorkerPoolSize int

	// PermissionHardCap records the ceiling on how long a permission
	// awaitable may block (§5: "hard upper bound of 10 minutes"). No
	// component reads it; the Permission Manager applies its own fixed
	// 10-minute cap.
	PermissionHardCap time.Duration

	// MaxConcurrentLLMCallsPerSession records the per-session ceiling on
	// outstanding Designer/Optimizer LLM calls (§5: "1"). No component
	// reads it.
	MaxConcurrentLLMCallsPerSession int

	// RedisAddr, if non-empty, puts a Redis read cache in front of the
	// filesystem Workflow Store (see store.NewWithRedisCache). The
	// filesystem stays the source of truth, and the Permission Manager does
	// not use Redis.
	RedisAddr string
}

// Option mutates a Config during New, applied after environment
// variables so callers can override what the process environment set.
type Option func(*Config) error

// New builds a Config from compiled defaults, then environment variables,
// then opts, validating required fields last.
func New(opts ...Option) (*Config, error) {
	cfg := defaults()
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		StoreRoot:                       "./workflows",
		PermissionDefaultTTL:            5 * time.Minute,
		SessionDeadline:                 15 * time.Minute,
		LogLevel:                        "info",
		LogJSON:                         false,
		WorkerPoolSize:                  64,
		PermissionHardCap:               10 * time.Minute,
		MaxConcurrentLLMCallsPerSession: 1,
	}
}

func (c *Config) loadEnv() error {
	c.LLMAPIKey = os.Getenv("LLM_API_KEY")
	if v := os.Getenv("STORE_ROOT"); v != "" {
		c.StoreRoot = v
	}
	if v := os.Getenv("PERMISSION_DEFAULT_TTL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return errs.New("config.loadEnv", errs.KindInvalidDescriptor, "", "PERMISSION_DEFAULT_TTL_SECONDS must be an integer", err)
		}
		c.PermissionDefaultTTL = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("SESSION_DEADLINE_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return errs.New("config.loadEnv", errs.KindInvalidDescriptor, "", "SESSION_DEADLINE_SECONDS must be an integer", err)
		}
		c.SessionDeadline = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.LLMAPIKey == "" {
		return errs.New("config.validate", errs.KindInvalidDescriptor, "", "LLM_API_KEY is required", fmt.Errorf("missing configuration"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errs.New("config.validate", errs.KindInvalidDescriptor, "", "LOG_LEVEL must be one of debug|info|warn|error", fmt.Errorf("invalid configuration"))
	}
	return nil
}

// WithLLMAPIKey overrides the LLM API key, bypassing the environment.
func WithLLMAPIKey(key string) Option {
	return func(c *Config) error { c.LLMAPIKey = key; return nil }
}

// WithStoreRoot overrides the workflow store directory.
func WithStoreRoot(path string) Option {
	return func(c *Config) error { c.StoreRoot = path; return nil }
}

// WithWorkerPoolSize overrides the process-wide capability worker pool size.
func WithWorkerPoolSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return errs.New("config.WithWorkerPoolSize", errs.KindInvalidDescriptor, "", "worker pool size must be positive", fmt.Errorf("invalid configuration"))
		}
		c.WorkerPoolSize = n
		return nil
	}
}

// WithRedisAddr sets the Redis instance used as the Workflow Store's read cache.
func WithRedisAddr(addr string) Option {
	return func(c *Config) error { c.RedisAddr = addr; return nil }
}
