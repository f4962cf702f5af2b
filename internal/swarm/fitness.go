package swarm

import (
	"time"

	"github.com/evoswarm/evoswarm/internal/config"
)

// minAvgLatency floors the latency term so sub-millisecond averages do not
// dominate the score through the 1/avgLatency inverse.
const minAvgLatency = time.Millisecond

// NoveltyFunc scores how novel an agent's capability set is relative to the
// rest of the population, in [0,1]. The default scores everything 0.
type NoveltyFunc func(agentID string, capabilities []string) float64

// FitnessEngine computes the scalar fitness of an agent from its tracked
// stats:
//
//	w1*successRate + w2*(1/avgLatencySeconds) + w3*novelty - w4*avgCost
type FitnessEngine struct {
	weights config.FitnessConfig
	novelty NoveltyFunc
}

// PopulationNovelty scores an agent by the fraction of its capabilities no
// other Active agent carries. A lineage exploring untouched capabilities
// earns the full bonus; a clone of the crowd earns none.
func PopulationNovelty(pop *Population) NoveltyFunc {
	return func(agentID string, capabilities []string) float64 {
		if len(capabilities) == 0 {
			return 0
		}
		held := make(map[string]bool)
		for _, other := range pop.ActiveAgents() {
			if other.BusID == agentID {
				continue
			}
			for _, name := range other.Config.Capabilities {
				held[name] = true
			}
		}
		unique := 0
		for _, name := range capabilities {
			if !held[name] {
				unique++
			}
		}
		return float64(unique) / float64(len(capabilities))
	}
}

// NewFitnessEngine creates an engine with the given weights. A nil novelty
// function scores every agent 0 novelty.
func NewFitnessEngine(weights config.FitnessConfig, novelty NoveltyFunc) *FitnessEngine {
	if novelty == nil {
		novelty = func(string, []string) float64 { return 0 }
	}
	return &FitnessEngine{weights: weights, novelty: novelty}
}

// Score computes the fitness of one agent. Agents with no recorded
// invocations score 0 so fresh seeds neither dominate nor sink a lineage.
func (e *FitnessEngine) Score(agentID string, capabilities []string, stats AgentStats) float64 {
	if stats.Attempts == 0 {
		return 0
	}

	avg := stats.AvgLatency()
	if avg < minAvgLatency {
		avg = minAvgLatency
	}

	return e.weights.SuccessWeight*stats.SuccessRate() +
		e.weights.LatencyWeight*(1.0/avg.Seconds()) +
		e.weights.NoveltyWeight*e.novelty(agentID, capabilities) -
		e.weights.CostWeight*stats.AvgCost()
}
