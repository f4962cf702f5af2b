// Package config loads and validates evoswarm configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Tick       TickConfig       `mapstructure:"tick"`
	Fitness    FitnessConfig    `mapstructure:"fitness"`
	Mutation   MutationConfig   `mapstructure:"mutation"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	SeedFile   string           `mapstructure:"seed_file"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// TickConfig drives the orchestration loop
type TickConfig struct {
	Interval            time.Duration `mapstructure:"interval"`              // wall-clock pacing of the tick loop
	EvolutionEvery      int           `mapstructure:"evolution_every"`       // run an evolution cycle every K ticks
	RequestTimeoutTicks int           `mapstructure:"request_timeout_ticks"` // pending correlation deadline
	MaxSequenceDepth    int           `mapstructure:"max_sequence_depth"`
	StepWorkers         int           `mapstructure:"step_workers"` // parallelism for agent stepping within a tick
}

// FitnessConfig holds the fitness function weights
type FitnessConfig struct {
	SuccessWeight float64 `mapstructure:"success_weight"` // w1 * successRate
	LatencyWeight float64 `mapstructure:"latency_weight"` // w2 * (1/avgLatency)
	NoveltyWeight float64 `mapstructure:"novelty_weight"` // w3 * noveltyBonus
	CostWeight    float64 `mapstructure:"cost_weight"`    // w4 * resourceCost
}

// MutationConfig governs the evolution cycle
type MutationConfig struct {
	FitnessPercentile float64 `mapstructure:"fitness_percentile"` // mutate agents below this percentile (0.0-1.0)
	CommitMargin      float64 `mapstructure:"commit_margin"`      // trial must beat baseline by this much
	ShadowInvocations int     `mapstructure:"shadow_invocations"` // trial workload size
	WeightJitter      float64 `mapstructure:"weight_jitter"`      // max perturbation applied to capability weights
}

// PolicyConfig holds reinforcement-learning parameters
type PolicyConfig struct {
	Alpha         float64 `mapstructure:"alpha"`          // learning rate
	Epsilon       float64 `mapstructure:"epsilon"`        // initial exploration probability
	EpsilonDecay  float64 `mapstructure:"epsilon_decay"`  // multiplicative decay per tick
	EpsilonFloor  float64 `mapstructure:"epsilon_floor"`  // exploration never drops below this
	LatencyPenalty float64 `mapstructure:"latency_penalty"` // reward penalty per second of latency
}

// RedisConfig contains Redis settings for the knowledge store
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// NATSConfig contains NATS gateway settings
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// PlannerConfig contains the external planner endpoint settings
type PlannerConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Model    string        `mapstructure:"model"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host           string  `mapstructure:"host"`
	Port           int     `mapstructure:"port"`
	GoalsPerSecond float64 `mapstructure:"goals_per_second"` // rate limit on goal submission
	GoalBurst      int     `mapstructure:"goal_burst"`
}

// MonitoringConfig contains metrics settings
type MonitoringConfig struct {
	MetricsPort int `mapstructure:"metrics_port"`
}

// Load reads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("evoswarm")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/evoswarm")
	}

	v.SetEnvPrefix("EVOSWARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env cover everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "evoswarm")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("tick.interval", "1s")
	v.SetDefault("tick.evolution_every", 10)
	v.SetDefault("tick.request_timeout_ticks", 5)
	v.SetDefault("tick.max_sequence_depth", 3)
	v.SetDefault("tick.step_workers", 4)

	v.SetDefault("fitness.success_weight", 0.5)
	v.SetDefault("fitness.latency_weight", 0.2)
	v.SetDefault("fitness.novelty_weight", 0.1)
	v.SetDefault("fitness.cost_weight", 0.2)

	v.SetDefault("mutation.fitness_percentile", 0.25)
	v.SetDefault("mutation.commit_margin", 0.05)
	v.SetDefault("mutation.shadow_invocations", 10)
	v.SetDefault("mutation.weight_jitter", 0.2)

	v.SetDefault("policy.alpha", 0.1)
	v.SetDefault("policy.epsilon", 0.2)
	v.SetDefault("policy.epsilon_decay", 0.995)
	v.SetDefault("policy.epsilon_floor", 0.02)
	v.SetDefault("policy.latency_penalty", 0.1)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "knowledge:")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.prefix", "evoswarm.")

	v.SetDefault("planner.endpoint", "")
	v.SetDefault("planner.timeout", "30s")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.goals_per_second", 5.0)
	v.SetDefault("api.goal_burst", 10)

	v.SetDefault("monitoring.metrics_port", 9091)

	v.SetDefault("seed_file", "configs/lineages.yaml")
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Tick.EvolutionEvery < 1 {
		return fmt.Errorf("tick.evolution_every must be >= 1, got %d", c.Tick.EvolutionEvery)
	}
	if c.Tick.RequestTimeoutTicks < 1 {
		return fmt.Errorf("tick.request_timeout_ticks must be >= 1, got %d", c.Tick.RequestTimeoutTicks)
	}
	if c.Tick.MaxSequenceDepth < 1 {
		return fmt.Errorf("tick.max_sequence_depth must be >= 1, got %d", c.Tick.MaxSequenceDepth)
	}
	if c.Tick.StepWorkers < 1 {
		return fmt.Errorf("tick.step_workers must be >= 1, got %d", c.Tick.StepWorkers)
	}
	if c.Mutation.FitnessPercentile < 0 || c.Mutation.FitnessPercentile > 1 {
		return fmt.Errorf("mutation.fitness_percentile must be in [0,1], got %f", c.Mutation.FitnessPercentile)
	}
	if c.Mutation.CommitMargin < 0 {
		return fmt.Errorf("mutation.commit_margin must be >= 0, got %f", c.Mutation.CommitMargin)
	}
	if c.Mutation.ShadowInvocations < 1 {
		return fmt.Errorf("mutation.shadow_invocations must be >= 1, got %d", c.Mutation.ShadowInvocations)
	}
	if c.Policy.Alpha <= 0 || c.Policy.Alpha > 1 {
		return fmt.Errorf("policy.alpha must be in (0,1], got %f", c.Policy.Alpha)
	}
	if c.Policy.Epsilon < 0 || c.Policy.Epsilon > 1 {
		return fmt.Errorf("policy.epsilon must be in [0,1], got %f", c.Policy.Epsilon)
	}
	if c.Policy.EpsilonFloor > c.Policy.Epsilon {
		return fmt.Errorf("policy.epsilon_floor (%f) exceeds policy.epsilon (%f)", c.Policy.EpsilonFloor, c.Policy.Epsilon)
	}
	for name, w := range map[string]float64{
		"fitness.success_weight": c.Fitness.SuccessWeight,
		"fitness.latency_weight": c.Fitness.LatencyWeight,
		"fitness.novelty_weight": c.Fitness.NoveltyWeight,
		"fitness.cost_weight":    c.Fitness.CostWeight,
	} {
		if w < 0 {
			return fmt.Errorf("%s must be >= 0, got %f", name, w)
		}
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if c.Monitoring.MetricsPort < 1 || c.Monitoring.MetricsPort > 65535 {
		return fmt.Errorf("monitoring.metrics_port out of range: %d", c.Monitoring.MetricsPort)
	}
	return nil
}
