package swarm

import (
	"sync"
	"time"
)

// failureWindow is the number of recent invocations considered when
// computing the rolling failure rate fed into policy state features.
const failureWindow = 20

// CapabilityStats accumulates outcomes for one capability of one agent.
type CapabilityStats struct {
	Attempts     int
	Successes    int
	TotalLatency time.Duration
	TotalCost    float64
}

// SuccessRate returns successes/attempts, 0 for an untried capability.
func (s CapabilityStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// AvgLatency returns the mean invocation latency.
func (s CapabilityStats) AvgLatency() time.Duration {
	if s.Attempts == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Attempts)
}

// AgentStats is the aggregate across all capabilities of one agent.
type AgentStats struct {
	Attempts     int
	Successes    int
	TotalLatency time.Duration
	TotalCost    float64
	ByCapability map[string]CapabilityStats
}

// SuccessRate returns the agent-wide success ratio.
func (s AgentStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// AvgLatency returns the agent-wide mean latency.
func (s AgentStats) AvgLatency() time.Duration {
	if s.Attempts == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Attempts)
}

// AvgCost returns the mean declared capability cost per invocation.
func (s AgentStats) AvgCost() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return s.TotalCost / float64(s.Attempts)
}

type agentRecord struct {
	stats  AgentStats
	recent []bool // ring of recent outcomes, head at recentAt
	at     int
	filled int
}

// Tracker accumulates per-agent per-capability invocation outcomes. It is
// the single source the fitness engine scores from; trial evaluations use
// a separate Tracker instance so shadow runs never pollute live stats.
type Tracker struct {
	mu     sync.RWMutex
	agents map[string]*agentRecord
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{agents: make(map[string]*agentRecord)}
}

// Record ingests one invocation outcome for an agent. Cost is the declared
// cost of the invoked capability.
func (t *Tracker) Record(agentID string, result CapabilityResult, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.agents[agentID]
	if !ok {
		rec = &agentRecord{
			stats:  AgentStats{ByCapability: make(map[string]CapabilityStats)},
			recent: make([]bool, failureWindow),
		}
		t.agents[agentID] = rec
	}

	rec.stats.Attempts++
	rec.stats.TotalLatency += result.Latency
	rec.stats.TotalCost += cost
	if result.Success {
		rec.stats.Successes++
	}

	cs := rec.stats.ByCapability[result.Capability]
	cs.Attempts++
	cs.TotalLatency += result.Latency
	cs.TotalCost += cost
	if result.Success {
		cs.Successes++
	}
	rec.stats.ByCapability[result.Capability] = cs

	rec.recent[rec.at] = result.Success
	rec.at = (rec.at + 1) % len(rec.recent)
	if rec.filled < len(rec.recent) {
		rec.filled++
	}
}

// Stats returns a copy of an agent's aggregate stats.
func (t *Tracker) Stats(agentID string) AgentStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.agents[agentID]
	if !ok {
		return AgentStats{ByCapability: map[string]CapabilityStats{}}
	}
	out := rec.stats
	out.ByCapability = make(map[string]CapabilityStats, len(rec.stats.ByCapability))
	for k, v := range rec.stats.ByCapability {
		out.ByCapability[k] = v
	}
	return out
}

// RecentFailureRate returns the failure ratio over the rolling window.
// Agents with no recorded invocations report 0.
func (t *Tracker) RecentFailureRate(agentID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.agents[agentID]
	if !ok || rec.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < rec.filled; i++ {
		if !rec.recent[i] {
			failures++
		}
	}
	return float64(failures) / float64(rec.filled)
}

// Forget drops all stats for an agent. Called when an agent is retired and
// its lineage slot is re-seeded.
func (t *Tracker) Forget(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.agents, agentID)
}
