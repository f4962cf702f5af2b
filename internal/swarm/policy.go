package swarm

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/evoswarm/evoswarm/internal/config"
)

// StateFeature is the discretized state a task agent selects capabilities
// in: the goal's type tag, whether the agent's rolling failure rate is
// elevated, and whether the knowledge store had nothing relevant.
type StateFeature struct {
	GoalType        string
	HighFailureRate bool
	KnowledgeGap    bool
}

func (s StateFeature) key() string {
	return fmt.Sprintf("%s|fail=%t|gap=%t", s.GoalType, s.HighFailureRate, s.KnowledgeGap)
}

// Policy is a tabular value function over (state, capability) pairs with
// epsilon-greedy selection. Updates are incremental:
// value += alpha * (reward - value). Epsilon decays per tick to a floor so
// exploration never fully stops.
type Policy struct {
	mu sync.Mutex

	alpha          float64
	epsilon        float64
	decay          float64
	floor          float64
	latencyPenalty float64

	values map[string]float64 // state key + "|" + capability -> learned value
	rng    *rand.Rand
}

// NewPolicy creates a policy from config with a deterministic seed.
func NewPolicy(cfg config.PolicyConfig, seed int64) *Policy {
	return &Policy{
		alpha:          cfg.Alpha,
		epsilon:        cfg.Epsilon,
		decay:          cfg.EpsilonDecay,
		floor:          cfg.EpsilonFloor,
		latencyPenalty: cfg.LatencyPenalty,
		values:         make(map[string]float64),
		rng:            rand.New(rand.NewSource(seed)),
	}
}

func actionKey(state StateFeature, capability string) string {
	return state.key() + "|" + capability
}

// Select picks a capability for the state: with probability epsilon a
// uniform random candidate, otherwise the highest-valued one. Ties resolve
// to the lexicographically first candidate so selection is reproducible.
func (p *Policy) Select(state StateFeature, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rng.Float64() < p.epsilon {
		return sorted[p.rng.Intn(len(sorted))]
	}

	best := sorted[0]
	bestValue := p.values[actionKey(state, best)]
	for _, c := range sorted[1:] {
		if v := p.values[actionKey(state, c)]; v > bestValue {
			best, bestValue = c, v
		}
	}
	return best
}

// Observe folds one invocation outcome into the value table. Reward is +1
// for success, -1 for failure, minus a latency penalty in either case.
func (p *Policy) Observe(state StateFeature, capability string, result CapabilityResult) {
	reward := -1.0
	if result.Success {
		reward = 1.0
	}
	reward -= p.latencyPenalty * result.Latency.Seconds()

	p.mu.Lock()
	defer p.mu.Unlock()
	k := actionKey(state, capability)
	v := p.values[k]
	p.values[k] = v + p.alpha*(reward-v)
}

// DecayEpsilon applies one tick of multiplicative decay, bounded below.
func (p *Policy) DecayEpsilon() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epsilon *= p.decay
	if p.epsilon < p.floor {
		p.epsilon = p.floor
	}
}

// Epsilon returns the current exploration probability.
func (p *Policy) Epsilon() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epsilon
}

// Alpha returns the learning rate.
func (p *Policy) Alpha() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alpha
}

// SetParams overwrites the learning parameters. Used by mutation trials;
// values outside sane ranges are clamped.
func (p *Policy) SetParams(alpha, epsilon float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alpha = clamp(alpha, 0.001, 1)
	p.epsilon = clamp(epsilon, p.floor, 1)
}

// Values returns a copy of the value table. For snapshots and tests.
func (p *Policy) Values() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy with an independently seeded rng. The copy's
// table and parameters are identical to the original at clone time, which
// is what makes rollback restoration exact.
func (p *Policy) Clone(seed int64) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()

	values := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		values[k] = v
	}
	return &Policy{
		alpha:          p.alpha,
		epsilon:        p.epsilon,
		decay:          p.decay,
		floor:          p.floor,
		latencyPenalty: p.latencyPenalty,
		values:         values,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
