package swarm

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// AgentKind separates evolving task agents from static skill wrappers.
type AgentKind string

const (
	KindTask  AgentKind = "task"
	KindSkill AgentKind = "skill"
)

// AgentStatus is the lifecycle position of an agent within its lineage.
// Only the meta agent writes status.
type AgentStatus string

const (
	StatusActive  AgentStatus = "active"
	StatusTrial   AgentStatus = "trial"
	StatusRetired AgentStatus = "retired"
)

// AgentConfig is the heritable configuration of a task agent: its
// capability set, per-capability selection weights, and learning
// parameters. It is both the mutation target and the YAML seed template
// format, so a re-seeded lineage starts from exactly what the file says.
type AgentConfig struct {
	Capabilities []string           `yaml:"capabilities"`
	Weights      map[string]float64 `yaml:"weights"`
	Alpha        float64            `yaml:"alpha"`
	Epsilon      float64            `yaml:"epsilon"`
}

// Clone returns a deep copy.
func (c AgentConfig) Clone() AgentConfig {
	out := AgentConfig{
		Capabilities: append([]string(nil), c.Capabilities...),
		Weights:      make(map[string]float64, len(c.Weights)),
		Alpha:        c.Alpha,
		Epsilon:      c.Epsilon,
	}
	for k, v := range c.Weights {
		out.Weights[k] = v
	}
	return out
}

// Equal reports whether two configs are identical, including weights.
func (c AgentConfig) Equal(other AgentConfig) bool {
	if c.Alpha != other.Alpha || c.Epsilon != other.Epsilon {
		return false
	}
	if len(c.Capabilities) != len(other.Capabilities) {
		return false
	}
	for i, name := range c.Capabilities {
		if other.Capabilities[i] != name {
			return false
		}
	}
	if len(c.Weights) != len(other.Weights) {
		return false
	}
	for k, v := range c.Weights {
		if other.Weights[k] != v {
			return false
		}
	}
	return true
}

// LineageSeed is one lineage's template in the seed file.
type LineageSeed struct {
	Lineage   string      `yaml:"lineage"`
	GoalTypes []string    `yaml:"goal_types"`
	Config    AgentConfig `yaml:"config"`
}

// SeedFile is the on-disk lineage template collection.
type SeedFile struct {
	Lineages []LineageSeed `yaml:"lineages"`
}

// LoadSeeds reads and validates a lineage seed file.
func LoadSeeds(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var sf SeedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(sf.Lineages) == 0 {
		return nil, fmt.Errorf("seed file %s defines no lineages", path)
	}
	seen := make(map[string]bool)
	for _, seed := range sf.Lineages {
		if seed.Lineage == "" {
			return nil, fmt.Errorf("seed file %s: lineage with empty name", path)
		}
		if seen[seed.Lineage] {
			return nil, fmt.Errorf("seed file %s: duplicate lineage %q", path, seed.Lineage)
		}
		seen[seed.Lineage] = true
		if len(seed.Config.Capabilities) == 0 {
			return nil, fmt.Errorf("seed file %s: lineage %q has no capabilities", path, seed.Lineage)
		}
	}
	return &sf, nil
}

// Agent is one population member's record. Behavior lives in TaskAgent;
// this record carries identity, genome, and lifecycle state.
type Agent struct {
	ID         uuid.UUID
	BusID      string
	LineageID  string
	Kind       AgentKind
	Generation int
	Config     AgentConfig
	Policy     *Policy
	Fitness    float64
	Status     AgentStatus
	LastTick   uint64
}

// NewAgentRecord creates a task agent record for a lineage generation.
func NewAgentRecord(lineageID string, generation int, cfg AgentConfig, policy *Policy, status AgentStatus) *Agent {
	id := uuid.New()
	return &Agent{
		ID:         id,
		BusID:      fmt.Sprintf("%s-g%d-%s", lineageID, generation, id.String()[:8]),
		LineageID:  lineageID,
		Kind:       KindTask,
		Generation: generation,
		Config:     cfg,
		Policy:     policy,
		Status:     status,
	}
}

// Population is the arena of all task agent records, grouped by lineage.
// The meta agent is the sole writer; the mutex exists for API snapshot
// reads racing the tick loop.
type Population struct {
	mu       sync.RWMutex
	lineages map[string][]*Agent
	seeds    map[string]LineageSeed
}

// NewPopulation creates an empty arena keyed by the given seeds.
func NewPopulation(seeds []LineageSeed) *Population {
	p := &Population{
		lineages: make(map[string][]*Agent),
		seeds:    make(map[string]LineageSeed),
	}
	for _, s := range seeds {
		p.seeds[s.Lineage] = s
		p.lineages[s.Lineage] = nil
	}
	return p
}

// Seed returns the template for a lineage.
func (p *Population) Seed(lineageID string) (LineageSeed, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.seeds[lineageID]
	return s, ok
}

// Add appends an agent to its lineage.
func (p *Population) Add(a *Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lineages[a.LineageID] = append(p.lineages[a.LineageID], a)
}

// Active returns the lineage's single Active agent, or nil.
func (p *Population) Active(lineageID string) *Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, a := range p.lineages[lineageID] {
		if a.Status == StatusActive {
			return a
		}
	}
	return nil
}

// Trial returns the lineage's Trial agent, or nil.
func (p *Population) Trial(lineageID string) *Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, a := range p.lineages[lineageID] {
		if a.Status == StatusTrial {
			return a
		}
	}
	return nil
}

// ActiveAgents returns every Active agent across lineages, in lineage order.
func (p *Population) ActiveAgents() []*Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Agent
	for _, lineage := range p.sortedLineagesLocked() {
		for _, a := range p.lineages[lineage] {
			if a.Status == StatusActive {
				out = append(out, a)
			}
		}
	}
	return out
}

// Touch stamps the last tick an agent was stepped. Snapshot reads the stamp
// from API goroutines, so the write goes through the arena lock.
func (p *Population) Touch(a *Agent, tick uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a.LastTick = tick
}

// SetFitness updates an agent's cached fitness score.
func (p *Population) SetFitness(a *Agent, fitness float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a.Fitness = fitness
}

// SetStatus transitions an agent's lifecycle state.
func (p *Population) SetStatus(a *Agent, status AgentStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a.Status = status
}

// Remove deletes an agent record from its lineage. Used to discard
// rolled-back trials.
func (p *Population) Remove(a *Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	agents := p.lineages[a.LineageID]
	for i, cand := range agents {
		if cand.ID == a.ID {
			p.lineages[a.LineageID] = append(agents[:i], agents[i+1:]...)
			return
		}
	}
}

// AllRetired reports whether a lineage has no Active or Trial member.
func (p *Population) AllRetired(lineageID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, a := range p.lineages[lineageID] {
		if a.Status != StatusRetired {
			return false
		}
	}
	return true
}

// Lineages returns all lineage ids, sorted.
func (p *Population) Lineages() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sortedLineagesLocked()
}

func (p *Population) sortedLineagesLocked() []string {
	out := make([]string, 0, len(p.lineages))
	for name := range p.lineages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Get looks an agent up by id.
func (p *Population) Get(id uuid.UUID) *Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, agents := range p.lineages {
		for _, a := range agents {
			if a.ID == id {
				return a
			}
		}
	}
	return nil
}

// NextGeneration returns one past the highest generation in a lineage.
func (p *Population) NextGeneration(lineageID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	next := 0
	for _, a := range p.lineages[lineageID] {
		if a.Generation >= next {
			next = a.Generation + 1
		}
	}
	return next
}

// AgentSnapshot is the read-only view handed to the API layer.
type AgentSnapshot struct {
	AgentID    string  `json:"agent_id"`
	BusID      string  `json:"bus_id"`
	LineageID  string  `json:"lineage_id"`
	Kind       string  `json:"kind"`
	Generation int     `json:"generation"`
	Status     string  `json:"status"`
	Fitness    float64 `json:"fitness"`
	LastTick   uint64  `json:"last_tick"`
}

// Snapshot returns a point-in-time copy of every agent record.
func (p *Population) Snapshot() []AgentSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []AgentSnapshot
	for _, lineage := range p.sortedLineagesLocked() {
		for _, a := range p.lineages[lineage] {
			out = append(out, AgentSnapshot{
				AgentID:    a.ID.String(),
				BusID:      a.BusID,
				LineageID:  a.LineageID,
				Kind:       string(a.Kind),
				Generation: a.Generation,
				Status:     string(a.Status),
				Fitness:    a.Fitness,
				LastTick:   a.LastTick,
			})
		}
	}
	return out
}
