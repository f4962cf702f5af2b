package swarm

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evoswarm/evoswarm/internal/config"
)

// MutationKind names the configuration dimension a mutation perturbs.
type MutationKind string

const (
	MutateWeights      MutationKind = "weight_jitter"
	MutatePolicyParams MutationKind = "policy_params"
	MutateCapAdd       MutationKind = "cap_add"
	MutateCapDrop      MutationKind = "cap_drop"
	MutateCapRecombine MutationKind = "cap_recombine"
)

// Decision is the terminal verdict on a mutation candidate.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionCommit   Decision = "commit"
	DecisionRollback Decision = "rollback"
)

// Delta describes the single change a candidate applies to its parent.
type Delta struct {
	Kind       MutationKind
	Capability string // for cap_add / cap_drop / cap_recombine
}

// MutationCandidate records one trial from proposal to verdict.
type MutationCandidate struct {
	ID              uuid.UUID
	LineageID       string
	ParentID        uuid.UUID
	TrialID         uuid.UUID
	Delta           Delta
	BaselineFitness float64
	TrialFitness    float64
	Decision        Decision
}

// MutationEngine proposes single-dimension perturbations of agent configs
// and judges trial outcomes against the commit margin. Trial execution
// itself is driven by the meta agent; the engine owns proposal, verdict,
// and the candidate history.
type MutationEngine struct {
	cfg      config.MutationConfig
	registry *Registry
	rng      *rand.Rand
	log      zerolog.Logger

	mu      sync.Mutex
	history []*MutationCandidate
}

// NewMutationEngine creates an engine with a deterministic seed.
func NewMutationEngine(cfg config.MutationConfig, registry *Registry, seed int64, log zerolog.Logger) *MutationEngine {
	return &MutationEngine{
		cfg:      cfg,
		registry: registry,
		rng:      rand.New(rand.NewSource(seed)),
		log:      log.With().Str("component", "mutation").Logger(),
	}
}

// LowPerformers returns the agents in the bottom fitness percentile,
// lowest first. With any agents at all, at least one is returned.
func (e *MutationEngine) LowPerformers(agents []*Agent) []*Agent {
	if len(agents) == 0 {
		return nil
	}
	sorted := append([]*Agent(nil), agents...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Fitness != sorted[j].Fitness {
			return sorted[i].Fitness < sorted[j].Fitness
		}
		return sorted[i].BusID < sorted[j].BusID
	})
	n := int(math.Ceil(e.cfg.FitnessPercentile * float64(len(sorted))))
	if n < 1 {
		n = 1
	}
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// Propose builds a mutated copy of the parent's config. Donors are the
// other lineages' active configs, used by capability recombination. The
// parent config is never touched.
func (e *MutationEngine) Propose(parent *Agent, donors []AgentConfig) (AgentConfig, Delta) {
	cfg := parent.Config.Clone()
	if cfg.Weights == nil {
		cfg.Weights = make(map[string]float64)
	}
	for _, name := range cfg.Capabilities {
		if _, ok := cfg.Weights[name]; !ok {
			cfg.Weights[name] = 1.0
		}
	}

	kinds := []MutationKind{MutateWeights, MutatePolicyParams, MutateCapAdd, MutateCapDrop, MutateCapRecombine}
	kind := kinds[e.rng.Intn(len(kinds))]

	switch kind {
	case MutateWeights:
		return e.jitterWeights(cfg), Delta{Kind: MutateWeights}

	case MutatePolicyParams:
		j := e.cfg.WeightJitter
		cfg.Alpha = clamp(cfg.Alpha*(1+e.uniform(-j, j)), 0.001, 1)
		cfg.Epsilon = clamp(cfg.Epsilon*(1+e.uniform(-j, j)), 0, 1)
		return cfg, Delta{Kind: MutatePolicyParams}

	case MutateCapAdd:
		if name, ok := e.pickAddition(cfg, e.registry.Names()); ok {
			cfg.Capabilities = append(cfg.Capabilities, name)
			cfg.Weights[name] = 1.0
			return cfg, Delta{Kind: MutateCapAdd, Capability: name}
		}

	case MutateCapDrop:
		if len(cfg.Capabilities) > 1 {
			i := e.rng.Intn(len(cfg.Capabilities))
			dropped := cfg.Capabilities[i]
			cfg.Capabilities = append(cfg.Capabilities[:i], cfg.Capabilities[i+1:]...)
			delete(cfg.Weights, dropped)
			return cfg, Delta{Kind: MutateCapDrop, Capability: dropped}
		}

	case MutateCapRecombine:
		var pool []string
		for _, donor := range donors {
			pool = append(pool, donor.Capabilities...)
		}
		if name, ok := e.pickAddition(cfg, pool); ok {
			cfg.Capabilities = append(cfg.Capabilities, name)
			cfg.Weights[name] = 1.0
			return cfg, Delta{Kind: MutateCapRecombine, Capability: name}
		}
	}

	// The chosen dimension had nothing to change; fall back to jitter so
	// every proposal produces a real delta.
	return e.jitterWeights(cfg), Delta{Kind: MutateWeights}
}

func (e *MutationEngine) jitterWeights(cfg AgentConfig) AgentConfig {
	j := e.cfg.WeightJitter
	for name, w := range cfg.Weights {
		cfg.Weights[name] = math.Max(0.01, w*(1+e.uniform(-j, j)))
	}
	return cfg
}

func (e *MutationEngine) pickAddition(cfg AgentConfig, pool []string) (string, bool) {
	have := make(map[string]bool, len(cfg.Capabilities))
	for _, name := range cfg.Capabilities {
		have[name] = true
	}
	var candidates []string
	for _, name := range pool {
		if !have[name] && !contains(candidates, name) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	return candidates[e.rng.Intn(len(candidates))], true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (e *MutationEngine) uniform(lo, hi float64) float64 {
	return lo + e.rng.Float64()*(hi-lo)
}

// ShadowInvocations returns the configured trial workload size.
func (e *MutationEngine) ShadowInvocations() int {
	return e.cfg.ShadowInvocations
}

// Decide settles a candidate: commit iff the trial beat the baseline by
// more than the margin. The candidate joins the engine's history either way.
func (e *MutationEngine) Decide(cand *MutationCandidate) Decision {
	if cand.TrialFitness > cand.BaselineFitness+e.cfg.CommitMargin {
		cand.Decision = DecisionCommit
	} else {
		cand.Decision = DecisionRollback
	}

	e.mu.Lock()
	e.history = append(e.history, cand)
	e.mu.Unlock()

	e.log.Info().
		Str("lineage", cand.LineageID).
		Str("kind", string(cand.Delta.Kind)).
		Float64("baseline", cand.BaselineFitness).
		Float64("trial", cand.TrialFitness).
		Str("decision", string(cand.Decision)).
		Msg("mutation decided")
	return cand.Decision
}

// History returns a copy of all decided candidates.
func (e *MutationEngine) History() []*MutationCandidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*MutationCandidate(nil), e.history...)
}
