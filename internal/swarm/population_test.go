package swarm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lineages.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSeeds(t *testing.T) {
	path := writeSeedFile(t, `
lineages:
  - lineage: comms
    goal_types: [EchoRequest]
    config:
      capabilities: [EchoRequest, WeatherInquiry]
      weights:
        EchoRequest: 1.0
      alpha: 0.2
      epsilon: 0.1
  - lineage: numerics
    config:
      capabilities: [MathsAdd]
`)

	sf, err := LoadSeeds(path)
	require.NoError(t, err)
	require.Len(t, sf.Lineages, 2)
	assert.Equal(t, "comms", sf.Lineages[0].Lineage)
	assert.Equal(t, []string{"EchoRequest", "WeatherInquiry"}, sf.Lineages[0].Config.Capabilities)
	assert.Equal(t, 0.2, sf.Lineages[0].Config.Alpha)
}

func TestLoadSeedsValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "empty file",
			content: "lineages: []",
			wantErr: "no lineages",
		},
		{
			name: "empty lineage name",
			content: `
lineages:
  - lineage: ""
    config:
      capabilities: [EchoRequest]
`,
			wantErr: "empty name",
		},
		{
			name: "duplicate lineage",
			content: `
lineages:
  - lineage: comms
    config:
      capabilities: [EchoRequest]
  - lineage: comms
    config:
      capabilities: [EchoRequest]
`,
			wantErr: "duplicate lineage",
		},
		{
			name: "no capabilities",
			content: `
lineages:
  - lineage: comms
    config:
      capabilities: []
`,
			wantErr: "no capabilities",
		},
		{
			name:    "malformed yaml",
			content: "lineages: [",
			wantErr: "failed to parse",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSeeds(writeSeedFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSeedsMissingFile(t *testing.T) {
	_, err := LoadSeeds(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestAgentConfigCloneIsDeep(t *testing.T) {
	orig := AgentConfig{
		Capabilities: []string{"EchoRequest"},
		Weights:      map[string]float64{"EchoRequest": 1.0},
		Alpha:        0.2,
		Epsilon:      0.1,
	}

	clone := orig.Clone()
	assert.True(t, orig.Equal(clone))

	clone.Capabilities[0] = "MathsAdd"
	clone.Weights["EchoRequest"] = 5.0
	assert.Equal(t, "EchoRequest", orig.Capabilities[0])
	assert.Equal(t, 1.0, orig.Weights["EchoRequest"])
	assert.False(t, orig.Equal(clone))
}

func TestAgentConfigEqual(t *testing.T) {
	base := AgentConfig{
		Capabilities: []string{"EchoRequest"},
		Weights:      map[string]float64{"EchoRequest": 1.0},
		Alpha:        0.2,
		Epsilon:      0.1,
	}

	assert.True(t, base.Equal(base.Clone()))

	tweaked := base.Clone()
	tweaked.Alpha = 0.3
	assert.False(t, base.Equal(tweaked))

	tweaked = base.Clone()
	tweaked.Weights["EchoRequest"] = 2.0
	assert.False(t, base.Equal(tweaked))

	tweaked = base.Clone()
	tweaked.Capabilities = append(tweaked.Capabilities, "MathsAdd")
	assert.False(t, base.Equal(tweaked))
}

func TestPopulationLifecycle(t *testing.T) {
	seed := LineageSeed{Lineage: "comms", Config: AgentConfig{Capabilities: []string{"EchoRequest"}}}
	pop := NewPopulation([]LineageSeed{seed})

	got, ok := pop.Seed("comms")
	require.True(t, ok)
	assert.Equal(t, seed.Lineage, got.Lineage)
	_, ok = pop.Seed("nope")
	assert.False(t, ok)

	active := NewAgentRecord("comms", 0, seed.Config.Clone(), nil, StatusActive)
	pop.Add(active)
	assert.Equal(t, active, pop.Active("comms"))
	assert.Nil(t, pop.Trial("comms"))
	assert.False(t, pop.AllRetired("comms"))
	assert.Equal(t, 1, pop.NextGeneration("comms"))

	trial := NewAgentRecord("comms", 1, seed.Config.Clone(), nil, StatusTrial)
	pop.Add(trial)
	assert.Equal(t, trial, pop.Trial("comms"))

	// Commit: parent retires, trial goes active.
	pop.SetStatus(active, StatusRetired)
	pop.SetStatus(trial, StatusActive)
	assert.Equal(t, trial, pop.Active("comms"))
	assert.Equal(t, 2, pop.NextGeneration("comms"))

	pop.SetStatus(trial, StatusRetired)
	assert.True(t, pop.AllRetired("comms"))
}

func TestPopulationRemove(t *testing.T) {
	pop := NewPopulation([]LineageSeed{{Lineage: "comms"}})
	a := NewAgentRecord("comms", 0, AgentConfig{}, nil, StatusTrial)
	pop.Add(a)

	require.Equal(t, a, pop.Get(a.ID))
	pop.Remove(a)
	assert.Nil(t, pop.Get(a.ID))
	assert.Nil(t, pop.Trial("comms"))
}

func TestPopulationSnapshotOrder(t *testing.T) {
	pop := NewPopulation([]LineageSeed{{Lineage: "zeta"}, {Lineage: "alpha"}})
	pop.Add(NewAgentRecord("zeta", 0, AgentConfig{}, nil, StatusActive))
	pop.Add(NewAgentRecord("alpha", 0, AgentConfig{}, nil, StatusActive))

	snap := pop.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "alpha", snap[0].LineageID)
	assert.Equal(t, "zeta", snap[1].LineageID)
	assert.Equal(t, []string{"alpha", "zeta"}, pop.Lineages())
}
