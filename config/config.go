// Package config loads dispatcher and bus settings from YAML with
// environment overrides. Configuration is optional: zero values fall back
// to the library defaults, so a missing file or empty section is valid.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/hookweave/hookweave/events"
	"github.com/hookweave/hookweave/events/store/inmem"
	"github.com/hookweave/hookweave/events/store/redis"
	"github.com/hookweave/hookweave/events/store/sqlite"
	"github.com/hookweave/hookweave/hooks"
)

type (
	// Config is the top-level configuration document.
	Config struct {
		Dispatcher DispatcherConfig `yaml:"dispatcher"`
		Bus        BusConfig        `yaml:"bus"`
	}

	// DispatcherConfig tunes the hook dispatcher.
	DispatcherConfig struct {
		// Strategy is one of "sequential", "parallel", "prioritized",
		// "adaptive". Empty means sequential.
		Strategy string `yaml:"strategy"`
		// HookTimeout bounds each hook execution unless its meta
		// overrides it.
		HookTimeout time.Duration `yaml:"hook_timeout"`
		// CacheCapacity bounds the dispatch result cache; zero disables
		// caching.
		CacheCapacity int `yaml:"cache_capacity"`
	}

	// BusConfig tunes the event bus.
	BusConfig struct {
		// DeliveryTimeout bounds each delivery unless the subscription
		// overrides it.
		DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
		// MaxConcurrent bounds simultaneous deliveries per subscription.
		MaxConcurrent int `yaml:"max_concurrent"`
		// RateLimits sets per-event-type token bucket budgets.
		RateLimits map[string]RateLimitConfig `yaml:"rate_limits"`
		// DefaultRateLimit applies per-type to every unlisted event type.
		DefaultRateLimit *RateLimitConfig `yaml:"default_rate_limit"`
		// Breaker tunes the per-subscription circuit breakers.
		Breaker BreakerConfig `yaml:"breaker"`
		// Store selects and configures the persistence backend.
		Store StoreConfig `yaml:"store"`
	}

	// RateLimitConfig is a token bucket budget.
	RateLimitConfig struct {
		Rate  float64 `yaml:"rate"`
		Burst int     `yaml:"burst"`
	}

	// BreakerConfig mirrors events.BreakerConfig in YAML form.
	BreakerConfig struct {
		Threshold  float64       `yaml:"threshold"`
		Window     int           `yaml:"window"`
		MinSamples int           `yaml:"min_samples"`
		Cooldown   time.Duration `yaml:"cooldown"`
		Disabled   bool          `yaml:"disabled"`
	}

	// StoreConfig selects a persistence backend: "" (none), "inmem",
	// "sqlite", or "redis".
	StoreConfig struct {
		Backend string `yaml:"backend"`
		// Capacity bounds the inmem ring.
		Capacity int `yaml:"capacity"`
		// Path is the sqlite database file.
		Path string `yaml:"path"`
		// Addr is the redis server address.
		Addr string `yaml:"addr"`
		// Stream is the redis stream key.
		Stream string `yaml:"stream"`
	}
)

// Load reads the YAML file at path and applies HOOKWEAVE_* environment
// overrides. A missing file yields the defaults with overrides applied.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays HOOKWEAVE_* variables onto the loaded document.
func (c *Config) applyEnv() error {
	if v := os.Getenv("HOOKWEAVE_STRATEGY"); v != "" {
		c.Dispatcher.Strategy = v
	}
	if v := os.Getenv("HOOKWEAVE_HOOK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse HOOKWEAVE_HOOK_TIMEOUT: %w", err)
		}
		c.Dispatcher.HookTimeout = d
	}
	if v := os.Getenv("HOOKWEAVE_CACHE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse HOOKWEAVE_CACHE_CAPACITY: %w", err)
		}
		c.Dispatcher.CacheCapacity = n
	}
	if v := os.Getenv("HOOKWEAVE_DELIVERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse HOOKWEAVE_DELIVERY_TIMEOUT: %w", err)
		}
		c.Bus.DeliveryTimeout = d
	}
	if v := os.Getenv("HOOKWEAVE_STORE_BACKEND"); v != "" {
		c.Bus.Store.Backend = v
	}
	if v := os.Getenv("HOOKWEAVE_STORE_PATH"); v != "" {
		c.Bus.Store.Path = v
	}
	if v := os.Getenv("HOOKWEAVE_REDIS_ADDR"); v != "" {
		c.Bus.Store.Addr = v
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Dispatcher.Strategy {
	case "", "sequential", "parallel", "prioritized", "adaptive":
	default:
		return fmt.Errorf("config: unknown dispatcher strategy %q", c.Dispatcher.Strategy)
	}
	switch c.Bus.Store.Backend {
	case "", "inmem", "sqlite", "redis":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Bus.Store.Backend)
	}
	if c.Bus.Store.Backend == "sqlite" && c.Bus.Store.Path == "" {
		return fmt.Errorf("config: sqlite store requires a path")
	}
	if c.Bus.Store.Backend == "redis" && c.Bus.Store.Addr == "" {
		return fmt.Errorf("config: redis store requires an addr")
	}
	return nil
}

// DispatchStrategy converts the configured strategy name to a dispatcher
// strategy.
func (c *DispatcherConfig) DispatchStrategy() hooks.Strategy {
	switch c.Strategy {
	case "parallel":
		return hooks.StrategyParallel
	case "prioritized":
		return hooks.StrategyPrioritized
	case "adaptive":
		return hooks.StrategyAdaptive
	default:
		return hooks.StrategySequential
	}
}

// DispatcherOptions converts the section to dispatcher construction options.
func (c *DispatcherConfig) DispatcherOptions() []hooks.Option {
	opts := []hooks.Option{hooks.WithStrategy(c.DispatchStrategy())}
	if c.HookTimeout > 0 {
		opts = append(opts, hooks.WithDefaultHookTimeout(c.HookTimeout))
	}
	if c.CacheCapacity > 0 {
		opts = append(opts, hooks.WithResultCache(c.CacheCapacity))
	}
	return opts
}

// BusOptions converts the section to bus construction options. The store,
// if any, is built here; the caller owns closing the bus, which closes the
// store.
func (c *BusConfig) BusOptions() ([]events.BusOption, error) {
	var opts []events.BusOption
	if c.DeliveryTimeout > 0 || c.MaxConcurrent != 0 {
		timeout := c.DeliveryTimeout
		if timeout == 0 {
			timeout = events.DefaultDeliveryTimeout
		}
		maxConc := c.MaxConcurrent
		if maxConc == 0 {
			maxConc = events.DefaultMaxConcurrent
		}
		opts = append(opts, events.WithDeliveryDefaults(timeout, maxConc))
	}
	for t, l := range c.RateLimits {
		opts = append(opts, events.WithRateLimit(t, events.RateLimit{Rate: l.Rate, Burst: l.Burst}))
	}
	if c.DefaultRateLimit != nil {
		opts = append(opts, events.WithDefaultRateLimit(events.RateLimit{
			Rate:  c.DefaultRateLimit.Rate,
			Burst: c.DefaultRateLimit.Burst,
		}))
	}
	if c.Breaker != (BreakerConfig{}) {
		opts = append(opts, events.WithBreaker(events.BreakerConfig{
			Threshold:  c.Breaker.Threshold,
			Window:     c.Breaker.Window,
			MinSamples: c.Breaker.MinSamples,
			Cooldown:   c.Breaker.Cooldown,
			Disabled:   c.Breaker.Disabled,
		}))
	}
	store, err := c.Store.Build()
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts = append(opts, events.WithStore(store))
	}
	return opts, nil
}

// Build constructs the configured persistence backend, nil when none is
// configured.
func (c *StoreConfig) Build() (events.Store, error) {
	switch c.Backend {
	case "":
		return nil, nil
	case "inmem":
		return inmem.New(c.Capacity), nil
	case "sqlite":
		s, err := sqlite.Open(c.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: c.Addr})
		var opts []redis.Option
		if c.Stream != "" {
			opts = append(opts, redis.WithStream(c.Stream))
		}
		return redis.New(client, opts...), nil
	default:
		return nil, fmt.Errorf("config: unknown store backend %q", c.Backend)
	}
}
