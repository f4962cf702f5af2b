package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "evoswarm", cfg.App.Name)
	assert.Equal(t, time.Second, cfg.Tick.Interval)
	assert.Equal(t, 10, cfg.Tick.EvolutionEvery)
	assert.Equal(t, 5, cfg.Tick.RequestTimeoutTicks)
	assert.Equal(t, 3, cfg.Tick.MaxSequenceDepth)
	assert.Equal(t, 0.25, cfg.Mutation.FitnessPercentile)
	assert.Equal(t, 0.05, cfg.Mutation.CommitMargin)
	assert.Equal(t, 0.1, cfg.Policy.Alpha)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "configs/lineages.yaml", cfg.SeedFile)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evoswarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  name: custom-swarm
  log_level: debug
tick:
  interval: 250ms
  evolution_every: 3
mutation:
  commit_margin: 0.1
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "custom-swarm", cfg.App.Name)
	assert.Equal(t, 250*time.Millisecond, cfg.Tick.Interval)
	assert.Equal(t, 3, cfg.Tick.EvolutionEvery)
	assert.Equal(t, 0.1, cfg.Mutation.CommitMargin)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5, cfg.Tick.RequestTimeoutTicks)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EVOSWARM_TICK_EVOLUTION_EVERY", "7")
	t.Setenv("EVOSWARM_REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Tick.EvolutionEvery)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoadInvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evoswarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tick:\n  evolution_every: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evolution_every")
}

func validConfig() *Config {
	cfg, _ := Load("")
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"zero evolution cadence", func(c *Config) { c.Tick.EvolutionEvery = 0 }, "evolution_every"},
		{"zero timeout", func(c *Config) { c.Tick.RequestTimeoutTicks = 0 }, "request_timeout_ticks"},
		{"zero depth", func(c *Config) { c.Tick.MaxSequenceDepth = 0 }, "max_sequence_depth"},
		{"zero workers", func(c *Config) { c.Tick.StepWorkers = 0 }, "step_workers"},
		{"percentile above one", func(c *Config) { c.Mutation.FitnessPercentile = 1.5 }, "fitness_percentile"},
		{"negative margin", func(c *Config) { c.Mutation.CommitMargin = -0.1 }, "commit_margin"},
		{"zero shadow invocations", func(c *Config) { c.Mutation.ShadowInvocations = 0 }, "shadow_invocations"},
		{"alpha above one", func(c *Config) { c.Policy.Alpha = 1.5 }, "alpha"},
		{"epsilon above one", func(c *Config) { c.Policy.Epsilon = 1.5 }, "epsilon"},
		{"floor above epsilon", func(c *Config) {
			c.Policy.Epsilon = 0.1
			c.Policy.EpsilonFloor = 0.5
		}, "epsilon_floor"},
		{"negative fitness weight", func(c *Config) { c.Fitness.CostWeight = -1 }, "cost_weight"},
		{"bad api port", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"bad metrics port", func(c *Config) { c.Monitoring.MetricsPort = 70000 }, "metrics_port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
