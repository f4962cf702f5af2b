// Package swarm implements the orchestration core: a tick-driven meta agent
// coordinating a population of evolving task agents and static skill agents
// over a deterministic in-process bus.
package swarm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/evoswarm/evoswarm/internal/config"
)

// maxRetainedResults bounds the completed-goal buffer the API polls from.
const maxRetainedResults = 1024

// EventKind names the lifecycle events the meta agent emits.
type EventKind string

const (
	EventTick     EventKind = "tick"
	EventMutation EventKind = "mutation"
	EventReseed   EventKind = "reseed"
)

// Event is one lifecycle notification, consumed by the gateway and the
// websocket stream.
type Event struct {
	Kind     EventKind      `json:"kind"`
	Tick     uint64         `json:"tick"`
	Lineage  string         `json:"lineage,omitempty"`
	Decision string         `json:"decision,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// EventFunc receives meta agent events. Must not block.
type EventFunc func(Event)

// MetaStatus is the coarse system view served by the API.
type MetaStatus struct {
	Tick         uint64 `json:"tick"`
	Paused       bool   `json:"paused"`
	ActiveAgents int    `json:"active_agents"`
	TrialAgents  int    `json:"trial_agents"`
	Lineages     int    `json:"lineages"`
	PendingGoals int    `json:"pending_goals"`
}

// LineageSummary aggregates one lineage for the API.
type LineageSummary struct {
	Lineage     string  `json:"lineage"`
	Active      int     `json:"active"`
	Trial       int     `json:"trial"`
	Retired     int     `json:"retired"`
	BestFitness float64 `json:"best_fitness"`
	Generation  int     `json:"generation"`
}

// Meta is the orchestrator: sole owner of the population arena and the tick
// counter. Everything agents do happens inside its Tick; external callers
// only enqueue goals and read snapshots.
type Meta struct {
	cfg      *config.Config
	bus      *Bus
	registry *Registry
	exec     *Executor
	tracker  *Tracker
	fitness  *FitnessEngine
	mutation *MutationEngine
	pop      *Population

	knowledge KnowledgeSource
	events    EventFunc
	metrics   *MetaMetrics
	log       zerolog.Logger

	mu          sync.Mutex
	tick        uint64
	taskAgents  map[string]*TaskAgent // busID -> behavior
	skillAgents map[string]*SkillAgent
	results     map[uuid.UUID]GoalResult
	resultOrder []uuid.UUID

	paused   atomic.Bool
	seedSeq  atomic.Int64 // policy/rng seed sequence
	baseSeed int64

	// completedMu is a leaf lock: agents report completions while holding
	// their own mutex, so the buffer must not share m.mu.
	completedMu sync.Mutex
	completed   []GoalResult
}

// NewMeta assembles the orchestration core. Seeds is the lineage template
// set; seed makes policy and mutation randomness reproducible. events may
// be nil.
func NewMeta(cfg *config.Config, seeds []LineageSeed, knowledge KnowledgeSource,
	events EventFunc, seed int64, log zerolog.Logger) *Meta {

	m := &Meta{
		cfg:         cfg,
		registry:    NewRegistry(),
		tracker:     NewTracker(),
		pop:         NewPopulation(seeds),
		knowledge:   knowledge,
		events:      events,
		metrics:     getOrCreateMetaMetrics(),
		log:         log.With().Str("component", "meta").Logger(),
		taskAgents:  make(map[string]*TaskAgent),
		skillAgents: make(map[string]*SkillAgent),
		results:     make(map[uuid.UUID]GoalResult),
		baseSeed:    seed,
	}
	m.bus = NewBus(log)
	m.exec = NewExecutor(m.registry, m.bus, uint64(cfg.Tick.RequestTimeoutTicks), log)
	m.fitness = NewFitnessEngine(cfg.Fitness, PopulationNovelty(m.pop))
	m.mutation = NewMutationEngine(cfg.Mutation, m.registry, m.nextSeed(), log)
	return m
}

func (m *Meta) nextSeed() int64 {
	return m.baseSeed + m.seedSeq.Add(1)
}

// Registry exposes the capability catalog for wiring at startup.
func (m *Meta) Registry() *Registry { return m.registry }

// Bus exposes the communication bus for wiring at startup.
func (m *Meta) Bus() *Bus { return m.bus }

// AddSkillAgent wraps a tool as a skill agent and registers its
// capabilities. Must be called before SeedPopulation.
func (m *Meta) AddSkillAgent(id string, sa *SkillAgent, caps []*Capability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cap := range caps {
		cap.SkillAgentID = id
		if err := m.registry.Register(cap); err != nil {
			return fmt.Errorf("failed to register capability %s: %w", cap.Name, err)
		}
	}
	m.skillAgents[id] = sa
	return nil
}

// SeedPopulation spawns generation zero of every lineage from its template.
func (m *Meta) SeedPopulation() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lineage := range m.pop.Lineages() {
		seed, _ := m.pop.Seed(lineage)
		for _, name := range seed.Config.Capabilities {
			if !m.registry.Has(name) {
				return fmt.Errorf("lineage %s seeds unknown capability %s", lineage, name)
			}
		}
		m.spawnLocked(lineage, 0, seed.Config.Clone(), nil)
	}
	return nil
}

// spawnLocked creates an Active agent record plus behavior for a lineage.
// When parentPolicy is non-nil the new agent inherits its value table.
func (m *Meta) spawnLocked(lineage string, generation int, cfg AgentConfig, parentPolicy *Policy) *Agent {
	policyCfg := m.cfg.Policy
	if cfg.Alpha > 0 {
		policyCfg.Alpha = cfg.Alpha
	}
	if cfg.Epsilon > 0 {
		policyCfg.Epsilon = cfg.Epsilon
	}

	var policy *Policy
	if parentPolicy != nil {
		policy = parentPolicy.Clone(m.nextSeed())
		policy.SetParams(policyCfg.Alpha, policyCfg.Epsilon)
	} else {
		policy = NewPolicy(policyCfg, m.nextSeed())
	}

	rec := NewAgentRecord(lineage, generation, cfg, policy, StatusActive)
	m.pop.Add(rec)
	agent := NewTaskAgent(rec, m.bus, m.exec, m.registry, m.tracker, m.knowledge,
		m.goalCompleted, m.cfg.Tick.MaxSequenceDepth, m.log)
	m.taskAgents[rec.BusID] = agent

	m.log.Info().Str("lineage", lineage).Int("generation", generation).
		Str("agent", rec.BusID).Strs("capabilities", cfg.Capabilities).
		Msg("agent spawned")
	return rec
}

// goalCompleted is the ResultFunc handed to every task agent. Tick phases
// run agents concurrently, so the buffer append is guarded.
func (m *Meta) goalCompleted(res GoalResult) {
	m.completedMu.Lock()
	m.completed = append(m.completed, res)
	m.completedMu.Unlock()
}

// ParseGoal splits "Type:Arg" goal text. The arg may be empty.
func ParseGoal(raw string) (Goal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Goal{}, fmt.Errorf("empty goal text")
	}
	goalType, arg := raw, ""
	if i := strings.Index(raw, ":"); i >= 0 {
		goalType, arg = raw[:i], raw[i+1:]
	}
	if goalType == "" {
		return Goal{}, fmt.Errorf("goal %q has no type", raw)
	}
	return Goal{RequestID: uuid.New(), Type: goalType, Arg: arg, Raw: raw}, nil
}

// SubmitGoal routes goal text to an Active task agent. The goal type
// matches either a capability the agent holds or a goal tag its lineage
// declares; tag-routed goals leave capability selection to the agent's
// policy. No covering agent means the request is terminal: the returned
// error wraps ErrNoAgentForRequest and a failed GoalResult is recorded
// under the returned id.
func (m *Meta) SubmitGoal(raw string) (uuid.UUID, error) {
	goal, err := ParseGoal(raw)
	if err != nil {
		return uuid.Nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var best *TaskAgent
	var bestRec *Agent
	var bestDirect bool
	for _, rec := range m.pop.ActiveAgents() {
		direct := contains(rec.Config.Capabilities, goal.Type)
		if !direct && !m.lineageServesTag(rec.LineageID, goal.Type) {
			continue
		}
		agent := m.taskAgents[rec.BusID]
		if agent == nil {
			continue
		}
		if best == nil || agent.QueueLen() < best.QueueLen() {
			best, bestRec, bestDirect = agent, rec, direct
		}
	}
	if best == nil {
		m.recordResultLocked(GoalResult{
			RequestID: goal.RequestID,
			Kind:      FailureNoAgentForRequest,
			Detail:    fmt.Sprintf("no active agent serves goal type %q", goal.Type),
		})
		return goal.RequestID, fmt.Errorf("%w: %s", ErrNoAgentForRequest, goal.Type)
	}

	if bestDirect {
		goal.Candidates = []string{goal.Type}
	} else {
		goal.Candidates = append([]string(nil), bestRec.Config.Capabilities...)
	}
	best.Enqueue(goal)
	m.log.Debug().Str("goal", goal.Type).Str("agent", bestRec.BusID).Msg("goal routed")
	return goal.RequestID, nil
}

// lineageServesTag reports whether a lineage's seed declares the goal type
// as one of its goal tags.
func (m *Meta) lineageServesTag(lineage, tag string) bool {
	seed, ok := m.pop.Seed(lineage)
	if !ok {
		return false
	}
	return contains(seed.GoalTypes, tag)
}

// SubmitPlan routes a goal with an explicit multi-step plan to the least
// loaded Active agent covering every step capability.
func (m *Meta) SubmitPlan(raw string, spec *SequenceSpec) (uuid.UUID, error) {
	goal, err := ParseGoal(raw)
	if err != nil {
		return uuid.Nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var best *TaskAgent
	for _, rec := range m.pop.ActiveAgents() {
		if !coversPlan(rec.Config.Capabilities, spec) {
			continue
		}
		agent := m.taskAgents[rec.BusID]
		if agent == nil {
			continue
		}
		if best == nil || agent.QueueLen() < best.QueueLen() {
			best = agent
		}
	}
	if best == nil {
		m.recordResultLocked(GoalResult{
			RequestID: goal.RequestID,
			Kind:      FailureNoAgentForRequest,
			Detail:    "no active agent covers the planned capabilities",
		})
		return goal.RequestID, fmt.Errorf("%w: plan for %s", ErrNoAgentForRequest, goal.Type)
	}

	best.EnqueueSequence(goal, spec)
	return goal.RequestID, nil
}

func coversPlan(capabilities []string, spec *SequenceSpec) bool {
	for _, step := range spec.Steps {
		if step.Sub != nil {
			if !coversPlan(capabilities, step.Sub) {
				return false
			}
			continue
		}
		if !contains(capabilities, step.Capability) {
			return false
		}
	}
	return true
}

// Result returns a completed goal's outcome.
func (m *Meta) Result(id uuid.UUID) (GoalResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[id]
	return res, ok
}

func (m *Meta) recordResultLocked(res GoalResult) {
	m.results[res.RequestID] = res
	m.resultOrder = append(m.resultOrder, res.RequestID)
	for len(m.resultOrder) > maxRetainedResults {
		delete(m.results, m.resultOrder[0])
		m.resultOrder = m.resultOrder[1:]
	}
}

// Tick runs one full orchestration step. Exported so tests and the run
// loop share the exact same path.
func (m *Meta) Tick(ctx context.Context) error {
	start := time.Now()
	m.mu.Lock()
	m.tick++
	tick := m.tick

	delivered := m.bus.Deliver(tick)

	agents := make([]*TaskAgent, 0, len(m.taskAgents))
	for _, rec := range m.pop.ActiveAgents() {
		if a := m.taskAgents[rec.BusID]; a != nil {
			m.pop.Touch(rec, tick)
			agents = append(agents, a)
		}
	}
	skillAgents := make([]*SkillAgent, 0, len(m.skillAgents))
	for _, id := range sortedKeys(m.skillAgents) {
		skillAgents = append(skillAgents, m.skillAgents[id])
	}
	m.mu.Unlock()

	// Phase: step every Active task agent. Agents never touch the
	// population map, so they can run concurrently.
	g, stepCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Tick.StepWorkers)
	for _, agent := range agents {
		agent := agent
		g.Go(func() error {
			agent.Step(stepCtx, tick)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("agent stepping failed: %w", err)
	}

	// Phase: answer skill requests delivered this tick.
	for _, sa := range skillAgents {
		sa.Step(tick)
	}

	// Phase: expire pending correlations that hit their deadline. A
	// response delivered this same tick was already consumed above, so
	// only truly silent requests expire.
	m.mu.Lock()
	for _, inv := range m.exec.ExpireDue(tick) {
		m.metrics.TimeoutsTotal.Inc()
		if agent, ok := m.taskAgents[inv.CallerID]; ok {
			m.mu.Unlock()
			agent.DeliverTimeout(inv.CorrelationID, tick)
			m.mu.Lock()
		}
	}

	// Phase: ingest completions buffered by agents during stepping.
	m.completedMu.Lock()
	finished := m.completed
	m.completed = nil
	m.completedMu.Unlock()
	for _, res := range finished {
		m.recordResultLocked(res)
	}

	// Phase: refresh fitness and decay exploration.
	for _, rec := range m.pop.ActiveAgents() {
		score := m.fitness.Score(rec.BusID, rec.Config.Capabilities, m.tracker.Stats(rec.BusID))
		m.pop.SetFitness(rec, score)
		rec.Policy.DecayEpsilon()
	}

	// Phase: evolution every K ticks.
	if tick%uint64(m.cfg.Tick.EvolutionEvery) == 0 {
		m.evolveLocked(ctx, tick)
	}

	// Phase: extinction scan. A lineage with nothing Active is re-seeded
	// from its template at the next generation.
	for _, lineage := range m.pop.Lineages() {
		if m.pop.Active(lineage) != nil || m.pop.Trial(lineage) != nil {
			continue
		}
		seed, ok := m.pop.Seed(lineage)
		if !ok {
			continue
		}
		gen := m.pop.NextGeneration(lineage)
		m.spawnLocked(lineage, gen, seed.Config.Clone(), nil)
		m.metrics.ReseedsTotal.Inc()
		m.emit(Event{Kind: EventReseed, Tick: tick, Lineage: lineage,
			Detail: map[string]any{"generation": gen}})
	}

	m.updateGaugesLocked()
	m.mu.Unlock()

	m.metrics.TicksTotal.Inc()
	m.metrics.TickDuration.Observe(time.Since(start).Seconds())
	m.metrics.MessagesDelivered.Add(float64(delivered))
	m.emit(Event{Kind: EventTick, Tick: tick,
		Detail: map[string]any{"delivered": delivered, "completed": len(finished)}})
	return nil
}

func sortedKeys[V any](in map[string]V) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// evolveLocked runs one evolution cycle: mutate the bottom percentile, one
// candidate each, evaluated offline against a shadow workload, commit or
// roll back immediately.
func (m *Meta) evolveLocked(ctx context.Context, tick uint64) {
	actives := m.pop.ActiveAgents()
	if len(actives) < 1 {
		return
	}

	for _, parent := range m.mutation.LowPerformers(actives) {
		if agent := m.taskAgents[parent.BusID]; agent != nil && agent.Busy() {
			// Never swap an agent mid-goal; this lineage waits for the
			// next cycle.
			continue
		}

		var donors []AgentConfig
		for _, other := range actives {
			if other.LineageID != parent.LineageID {
				donors = append(donors, other.Config)
			}
		}

		trialCfg, delta := m.mutation.Propose(parent, donors)
		trial := NewAgentRecord(parent.LineageID, parent.Generation+1, trialCfg,
			parent.Policy.Clone(m.nextSeed()), StatusTrial)
		trial.Policy.SetParams(trialCfg.Alpha, trialCfg.Epsilon)
		m.pop.Add(trial)

		cand := &MutationCandidate{
			ID:              uuid.New(),
			LineageID:       parent.LineageID,
			ParentID:        parent.ID,
			TrialID:         trial.ID,
			Delta:           delta,
			BaselineFitness: parent.Fitness,
		}
		cand.TrialFitness = m.shadowFitness(ctx, trial)

		decision := m.mutation.Decide(cand)
		m.metrics.MutationsTotal.WithLabelValues(string(decision)).Inc()

		switch decision {
		case DecisionCommit:
			m.pop.SetStatus(trial, StatusActive)
			m.pop.SetStatus(parent, StatusRetired)
			if agent := m.taskAgents[parent.BusID]; agent != nil {
				agent.Retire()
				delete(m.taskAgents, parent.BusID)
			}
			m.tracker.Forget(parent.BusID)
			behavior := NewTaskAgent(trial, m.bus, m.exec, m.registry, m.tracker,
				m.knowledge, m.goalCompleted, m.cfg.Tick.MaxSequenceDepth, m.log)
			m.taskAgents[trial.BusID] = behavior
		case DecisionRollback:
			m.pop.Remove(trial)
			m.tracker.Forget(trial.BusID)
		}

		m.emit(Event{Kind: EventMutation, Tick: tick, Lineage: parent.LineageID,
			Decision: string(decision), Detail: map[string]any{
				"kind":     string(delta.Kind),
				"baseline": cand.BaselineFitness,
				"trial":    cand.TrialFitness,
			}})
	}
}

// shadowFitness runs the trial's capabilities against their probe
// invocations, off the bus, into a scratch tracker.
func (m *Meta) shadowFitness(ctx context.Context, trial *Agent) float64 {
	scratch := NewTracker()
	caps := append([]string(nil), trial.Config.Capabilities...)
	sort.Strings(caps)
	if len(caps) == 0 {
		return 0
	}

	n := m.mutation.ShadowInvocations()
	for i := 0; i < n; i++ {
		name := caps[i%len(caps)]
		res := m.shadowInvoke(ctx, name)
		cost := 0.0
		if cap, err := m.registry.Resolve(name); err == nil {
			cost = cap.Cost
		}
		scratch.Record(trial.BusID, res, cost)
	}
	return m.fitness.Score(trial.BusID, trial.Config.Capabilities, scratch.Stats(trial.BusID))
}

func (m *Meta) shadowInvoke(ctx context.Context, name string) CapabilityResult {
	cap, err := m.registry.Resolve(name)
	if err != nil {
		return Fail(name, FailureNoAgentForRequest, err.Error())
	}
	if cap.InProcess() {
		return m.exec.CallDirect(ctx, cap, cap.Probe)
	}
	sa, ok := m.skillAgents[cap.SkillAgentID]
	if !ok {
		return Fail(name, FailureUnknownRecipient, "skill agent not registered: "+cap.SkillAgentID)
	}
	if err := cap.Schema.Validate(cap.Probe); err != nil {
		return Fail(name, FailureInvalidParameters, err.Error())
	}
	return sa.ExecuteDirect(CapabilityRequest{
		Capability: cap.Name,
		Command:    cap.Command,
		Args:       argsFromParams(cap, cap.Probe),
	})
}

func (m *Meta) updateGaugesLocked() {
	active, trial := 0, 0
	best := make(map[string]float64)
	for _, snap := range m.pop.Snapshot() {
		switch AgentStatus(snap.Status) {
		case StatusActive:
			active++
		case StatusTrial:
			trial++
		}
		if snap.Fitness > best[snap.LineageID] {
			best[snap.LineageID] = snap.Fitness
		}
	}
	for lineage, fitness := range best {
		m.metrics.LineageBestFitness.WithLabelValues(lineage).Set(fitness)
	}
	m.metrics.ActiveAgents.Set(float64(active))
	m.metrics.TrialAgents.Set(float64(trial))
}

func (m *Meta) emit(evt Event) {
	if m.events != nil {
		m.events(evt)
	}
}

// Pause stops ticking without tearing anything down.
func (m *Meta) Pause() { m.paused.Store(true) }

// Resume restarts ticking.
func (m *Meta) Resume() { m.paused.Store(false) }

// Paused reports whether the loop is paused.
func (m *Meta) Paused() bool { return m.paused.Load() }

// CurrentTick returns the last completed tick number.
func (m *Meta) CurrentTick() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick
}

// Status returns the coarse system view.
func (m *Meta) Status() MetaStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := MetaStatus{
		Tick:     m.tick,
		Paused:   m.paused.Load(),
		Lineages: len(m.pop.Lineages()),
	}
	for _, snap := range m.pop.Snapshot() {
		switch AgentStatus(snap.Status) {
		case StatusActive:
			st.ActiveAgents++
		case StatusTrial:
			st.TrialAgents++
		}
	}
	for _, agent := range m.taskAgents {
		st.PendingGoals += agent.PendingGoals()
	}
	return st
}

// Snapshot returns the population view for the API.
func (m *Meta) Snapshot() []AgentSnapshot {
	return m.pop.Snapshot()
}

// LineageSummaries aggregates per-lineage counts and best fitness.
func (m *Meta) LineageSummaries() []LineageSummary {
	snaps := m.pop.Snapshot()
	byLineage := make(map[string]*LineageSummary)
	for _, snap := range snaps {
		s, ok := byLineage[snap.LineageID]
		if !ok {
			s = &LineageSummary{Lineage: snap.LineageID}
			byLineage[snap.LineageID] = s
		}
		switch AgentStatus(snap.Status) {
		case StatusActive:
			s.Active++
		case StatusTrial:
			s.Trial++
		case StatusRetired:
			s.Retired++
		}
		if snap.Fitness > s.BestFitness {
			s.BestFitness = snap.Fitness
		}
		if snap.Generation > s.Generation {
			s.Generation = snap.Generation
		}
	}
	out := make([]LineageSummary, 0, len(byLineage))
	for _, name := range sortedKeys(byLineage) {
		out = append(out, *byLineage[name])
	}
	return out
}

// MutationHistory returns all decided mutation candidates.
func (m *Meta) MutationHistory() []*MutationCandidate {
	return m.mutation.History()
}

// Run drives the tick loop at the configured interval until the context is
// cancelled. Paused ticks are skipped, not queued.
func (m *Meta) Run(ctx context.Context) error {
	m.log.Info().
		Dur("interval", m.cfg.Tick.Interval).
		Int("evolution_every", m.cfg.Tick.EvolutionEvery).
		Msg("tick loop starting")

	ticker := time.NewTicker(m.cfg.Tick.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Uint64("tick", m.CurrentTick()).Msg("tick loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if m.paused.Load() {
				continue
			}
			if err := m.Tick(ctx); err != nil {
				// The loop survives everything; failures surface in
				// results and metrics instead of crashing the swarm.
				m.log.Error().Err(err).Msg("tick failed")
			}
		}
	}
}
