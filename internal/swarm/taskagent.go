package swarm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TaskState is a task agent's coarse position in its per-goal loop.
type TaskState string

const (
	StateIdle               TaskState = "idle"
	StateAwaitingCapability TaskState = "awaiting_capability"
	StateEvaluating         TaskState = "evaluating"
)

// highFailureThreshold marks the rolling failure rate above which the
// policy state flips its HighFailureRate feature.
const highFailureThreshold = 0.5

// Goal is one routed unit of work. Candidates is the subset of the agent's
// capabilities that can serve the goal type; the policy chooses among them.
type Goal struct {
	RequestID  uuid.UUID
	Type       string
	Arg        string
	Raw        string
	Candidates []string
}

// GoalResult is the terminal outcome of a goal.
type GoalResult struct {
	RequestID     uuid.UUID
	AgentID       string
	LineageID     string
	Success       bool
	Kind          FailureKind
	Detail        string
	Data          map[string]any
	Steps         []CapabilityResult
	CompletedTick uint64
}

// ResultFunc receives goal completions.
type ResultFunc func(GoalResult)

// SequenceSpec is a multi-step plan. Steps run in order; a step may carry a
// nested sub-sequence, bounded by the agent's max depth.
type SequenceSpec struct {
	Steps         []SeqStep
	StopOnFailure bool
	PassOutputs   bool
}

// SeqStep is one sequence step: either a capability invocation or a nested
// sub-sequence.
type SeqStep struct {
	Capability string
	Params     map[string]any
	Sub        *SequenceSpec
}

// KnowledgeSource is the slice of the knowledge store task agents consult.
// Implementations absorb their own errors; a failing store reads as a gap.
type KnowledgeSource interface {
	HasRelevant(ctx context.Context, lineageID, query string) bool
	Remember(ctx context.Context, lineageID, content string)
}

type seqFrame struct {
	spec       *SequenceSpec
	idx        int
	lastOutput map[string]any
}

type execution struct {
	goal     Goal
	state    StateFeature
	stack    []*seqFrame
	steps    []CapabilityResult
	awaiting uuid.UUID
	awaitCap string
	awaitSet bool
}

// TaskAgent is the evolving worker: it pops goals, selects capabilities by
// policy, drives sequences step by step, and reports outcomes. All stepping
// happens inside the tick loop; the agent owns no goroutine. mu guards the
// queue and execution state, which API and gateway goroutines touch through
// Enqueue while the tick loop is stepping.
type TaskAgent struct {
	rec       *Agent
	bus       *Bus
	exec      *Executor
	registry  *Registry
	tracker   *Tracker
	knowledge KnowledgeSource
	results   ResultFunc
	metrics   *MetaMetrics
	log       zerolog.Logger

	maxDepth int

	mu      sync.Mutex
	state   TaskState
	queue   []Goal
	planned []*SequenceSpec // parallel to queue; nil entries mean single-step goals
	cur     *execution
	abort   bool
}

// NewTaskAgent wires a behavior object around an agent record and registers
// it on the bus.
func NewTaskAgent(rec *Agent, bus *Bus, exec *Executor, registry *Registry, tracker *Tracker,
	knowledge KnowledgeSource, results ResultFunc, maxDepth int, log zerolog.Logger) *TaskAgent {
	a := &TaskAgent{
		rec:       rec,
		bus:       bus,
		exec:      exec,
		registry:  registry,
		tracker:   tracker,
		knowledge: knowledge,
		results:   results,
		metrics:   getOrCreateMetaMetrics(),
		log:       log.With().Str("agent", rec.BusID).Str("lineage", rec.LineageID).Logger(),
		maxDepth:  maxDepth,
		state:     StateIdle,
	}
	bus.Register(rec.BusID)
	return a
}

// Record returns the agent's population record.
func (a *TaskAgent) Record() *Agent { return a.rec }

// State returns the agent's current coarse state.
func (a *TaskAgent) State() TaskState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Busy reports whether a goal is in flight or queued.
func (a *TaskAgent) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur != nil || len(a.queue) > 0
}

// QueueLen reports the number of queued goals, excluding any in flight.
func (a *TaskAgent) QueueLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// PendingGoals counts queued plus in-flight goals.
func (a *TaskAgent) PendingGoals() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.queue)
	if a.cur != nil {
		n++
	}
	return n
}

// Enqueue adds a routed goal to the agent's queue. The goal runs as a
// single-step sequence over the policy-selected candidate.
func (a *TaskAgent) Enqueue(goal Goal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, goal)
	a.planned = append(a.planned, nil)
}

// EnqueueSequence queues a goal with an explicit multi-step plan, as
// produced by the planner.
func (a *TaskAgent) EnqueueSequence(goal Goal, spec *SequenceSpec) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, goal)
	a.planned = append(a.planned, spec)
}

// RequestAbort asks the agent to abandon its current goal at the next step
// boundary.
func (a *TaskAgent) RequestAbort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.abort = true
}

// Retire releases every in-flight correlation and unregisters the agent
// from the bus. Called by the meta agent on status transitions.
func (a *TaskAgent) Retire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exec.ReleaseAll(a.rec.BusID)
	a.bus.Unregister(a.rec.BusID)
	a.cur = nil
	a.queue = nil
	a.planned = nil
	a.state = StateIdle
}

// Step advances the agent by one tick: ingest responses, honor aborts, and
// drive the current or next goal as far as it can go without waiting on the
// bus. Returns the number of capability invocations issued.
func (a *TaskAgent) Step(ctx context.Context, tick uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ingestResponses(tick)

	if a.abort {
		a.abort = false
		if a.cur != nil {
			if a.cur.awaitSet {
				a.exec.Release(a.rec.BusID, a.cur.awaiting)
			}
			a.finish(tick, Fail("", FailureAborted, "aborted by external request"))
		}
	}

	invocations := 0
	for {
		if a.cur == nil {
			if !a.nextGoal(ctx, tick) {
				a.state = StateIdle
				return invocations
			}
			if a.cur == nil {
				// Goal settled during setup (no candidate); try the next one.
				continue
			}
		}
		if a.cur.awaitSet {
			a.state = StateAwaitingCapability
			return invocations
		}

		done, issued := a.advance(ctx, tick)
		invocations += issued
		if !done {
			return invocations
		}
	}
}

// ingestResponses drains the inbox and applies any response matching the
// awaited correlation. Stale or unmatched responses are dropped.
func (a *TaskAgent) ingestResponses(tick uint64) {
	for _, msg := range a.bus.Drain(a.rec.BusID) {
		if msg.Kind != MessageKindResponse {
			continue
		}
		resp, ok := msg.Payload.(CapabilityResponse)
		if !ok {
			continue
		}
		if _, ok := a.exec.Complete(a.rec.BusID, msg.CorrelationID, resp.Result); !ok {
			a.log.Debug().Str("correlation", msg.CorrelationID.String()).Msg("dropping stale response")
			continue
		}
		if a.cur != nil && a.cur.awaitSet && a.cur.awaiting == msg.CorrelationID {
			a.cur.awaitSet = false
			a.evaluate(context.Background(), resp.Result, tick)
		}
	}
}

// DeliverTimeout fails the awaited correlation with a Timeout result. The
// tick loop calls this for correlations the executor expired this tick.
func (a *TaskAgent) DeliverTimeout(corr uuid.UUID, tick uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil || !a.cur.awaitSet || a.cur.awaiting != corr {
		return
	}
	a.cur.awaitSet = false
	res := Fail(a.cur.awaitCap, FailureTimeout,
		fmt.Sprintf("no response by deadline tick %d", tick))
	a.evaluate(context.Background(), res, tick)
}

// nextGoal pops the queue and sets up an execution. Returns false when the
// queue is empty.
func (a *TaskAgent) nextGoal(ctx context.Context, tick uint64) bool {
	if len(a.queue) == 0 {
		return false
	}
	goal := a.queue[0]
	a.queue = a.queue[1:]
	var spec *SequenceSpec
	if len(a.planned) > 0 {
		spec = a.planned[0]
		a.planned = a.planned[1:]
	}

	state := StateFeature{
		GoalType:        goal.Type,
		HighFailureRate: a.tracker.RecentFailureRate(a.rec.BusID) > highFailureThreshold,
	}
	if a.knowledge != nil {
		state.KnowledgeGap = !a.knowledge.HasRelevant(ctx, a.rec.LineageID, goal.Raw)
	}

	if spec == nil {
		capability := a.rec.Policy.Select(state, goal.Candidates)
		if capability == "" {
			a.cur = &execution{goal: goal, state: state}
			a.finish(tick, Fail("", FailureNoAgentForRequest, "no candidate capability for goal"))
			return true
		}
		spec = &SequenceSpec{
			Steps:         []SeqStep{{Capability: capability, Params: map[string]any{"query": goal.Arg}}},
			StopOnFailure: true,
		}
	}

	a.cur = &execution{
		goal:  goal,
		state: state,
		stack: []*seqFrame{{spec: spec}},
	}
	a.log.Debug().Str("goal", goal.Type).Int("steps", len(spec.Steps)).Msg("goal started")
	return true
}

// advance runs the current step. Returns done=true when the agent can move
// on within this tick (step settled in-process or sequence ended) and the
// number of invocations issued.
func (a *TaskAgent) advance(ctx context.Context, tick uint64) (bool, int) {
	frame := a.cur.stack[len(a.cur.stack)-1]
	if frame.idx >= len(frame.spec.Steps) {
		a.popFrame(tick)
		return true, 0
	}
	step := frame.spec.Steps[frame.idx]

	if step.Sub != nil {
		if len(a.cur.stack) >= a.maxDepth {
			a.finish(tick, Fail("", FailureDepthExceeded,
				fmt.Sprintf("nested sequence exceeds max depth %d", a.maxDepth)))
			return true, 0
		}
		frame.idx++
		a.cur.stack = append(a.cur.stack, &seqFrame{spec: step.Sub, lastOutput: frame.lastOutput})
		return true, 0
	}

	params := step.Params
	if frame.spec.PassOutputs && len(frame.lastOutput) > 0 {
		merged := make(map[string]any, len(frame.lastOutput)+len(step.Params))
		for k, v := range frame.lastOutput {
			merged[k] = v
		}
		for k, v := range step.Params {
			merged[k] = v
		}
		params = merged
	}

	a.state = StateEvaluating
	outcome := a.exec.Invoke(ctx, a.rec.BusID, step.Capability, params, tick)
	if !outcome.Done {
		a.cur.awaiting = outcome.CorrelationID
		a.cur.awaitCap = step.Capability
		a.cur.awaitSet = true
		a.state = StateAwaitingCapability
		return false, 1
	}
	a.evaluate(ctx, outcome.Result, tick)
	return true, 1
}

// evaluate applies one settled step result: record it, teach the policy,
// then advance or abort the sequence.
func (a *TaskAgent) evaluate(ctx context.Context, result CapabilityResult, tick uint64) {
	a.state = StateEvaluating
	cost := 0.0
	if cap, err := a.registry.Resolve(result.Capability); err == nil {
		cost = cap.Cost
	}
	a.tracker.Record(a.rec.BusID, result, cost)
	a.metrics.InvocationsTotal.WithLabelValues(invocationOutcome(result)).Inc()
	a.metrics.InvocationLatency.Observe(result.Latency.Seconds())
	a.rec.Policy.Observe(a.cur.state, result.Capability, result)
	a.cur.steps = append(a.cur.steps, result)

	frame := a.cur.stack[len(a.cur.stack)-1]
	if !result.Success && frame.spec.StopOnFailure {
		a.finish(tick, result)
		return
	}
	if result.Success {
		frame.lastOutput = result.Data
	}
	frame.idx++
	if frame.idx >= len(frame.spec.Steps) {
		a.popFrame(tick)
	}
}

// popFrame closes the innermost sequence; closing the outermost one
// completes the goal with the last successful output.
func (a *TaskAgent) popFrame(tick uint64) {
	frame := a.cur.stack[len(a.cur.stack)-1]
	a.cur.stack = a.cur.stack[:len(a.cur.stack)-1]
	if len(a.cur.stack) > 0 {
		parent := a.cur.stack[len(a.cur.stack)-1]
		if parent.spec.PassOutputs && len(frame.lastOutput) > 0 {
			parent.lastOutput = frame.lastOutput
		}
		return
	}

	last := CapabilityResult{Success: true, Data: frame.lastOutput}
	if n := len(a.cur.steps); n > 0 {
		last = a.cur.steps[n-1]
	}
	a.finish(tick, last)
}

// finish reports the goal outcome and clears the execution.
func (a *TaskAgent) finish(tick uint64, last CapabilityResult) {
	cur := a.cur
	a.cur = nil
	a.state = StateIdle

	res := GoalResult{
		RequestID:     cur.goal.RequestID,
		AgentID:       a.rec.BusID,
		LineageID:     a.rec.LineageID,
		Success:       last.Success,
		Kind:          last.Kind,
		Detail:        last.Detail,
		Data:          last.Data,
		Steps:         cur.steps,
		CompletedTick: tick,
	}

	if res.Success && a.knowledge != nil && cur.goal.Raw != "" {
		a.knowledge.Remember(context.Background(), a.rec.LineageID,
			fmt.Sprintf("%s -> %v", cur.goal.Raw, last.Data))
	}

	evt := a.log.Debug().Str("goal", cur.goal.Type).Bool("success", res.Success)
	if !res.Success {
		evt = a.log.Info().Str("goal", cur.goal.Type).Bool("success", false).
			Str("kind", string(res.Kind)).Str("detail", res.Detail)
	}
	evt.Msg("goal finished")

	if a.results != nil {
		a.results(res)
	}
}
