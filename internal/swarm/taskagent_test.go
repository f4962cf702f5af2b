package swarm

import (
	"context"
	"errors"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evoswarm/evoswarm/internal/skills"
)

type fakeKnowledge struct {
	relevant   bool
	remembered []string
}

func (k *fakeKnowledge) HasRelevant(ctx context.Context, lineageID, query string) bool {
	return k.relevant
}

func (k *fakeKnowledge) Remember(ctx context.Context, lineageID, content string) {
	k.remembered = append(k.remembered, content)
}

type taskAgentEnv struct {
	bus       *Bus
	registry  *Registry
	exec      *Executor
	tracker   *Tracker
	knowledge *fakeKnowledge
	results   []GoalResult
	agent     *TaskAgent
}

func setupTestTaskAgent(t *testing.T, maxDepth int, caps ...*Capability) *taskAgentEnv {
	t.Helper()
	env := &taskAgentEnv{
		bus:       NewBus(zerolog.Nop()),
		registry:  NewRegistry(),
		tracker:   NewTracker(),
		knowledge: &fakeKnowledge{},
	}
	for _, c := range caps {
		env.registry.MustRegister(c)
	}
	env.exec = NewExecutor(env.registry, env.bus, 3, zerolog.Nop())

	var names []string
	for _, c := range caps {
		names = append(names, c.Name)
	}
	rec := NewAgentRecord("comms", 0, AgentConfig{Capabilities: names}, NewPolicy(testPolicyConfig(), 1), StatusActive)
	env.agent = NewTaskAgent(rec, env.bus, env.exec, env.registry, env.tracker, env.knowledge,
		func(res GoalResult) { env.results = append(env.results, res) }, maxDepth, zerolog.Nop())
	return env
}

func echoCapability() *Capability {
	return &Capability{
		Name:    "EchoRequest",
		Version: semver.MustParse("1.0.0"),
		Schema:  ParamSchema{"query": {Type: ParamString, Required: true}},
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			return map[string]any{"echoed": params["query"]}, nil
		},
		Cost: 0.05,
	}
}

func TestTaskAgentSingleGoalSuccess(t *testing.T) {
	env := setupTestTaskAgent(t, 4, echoCapability())

	env.agent.Enqueue(Goal{
		RequestID:  uuid.New(),
		Type:       "EchoRequest",
		Arg:        "hello",
		Raw:        "EchoRequest:hello",
		Candidates: []string{"EchoRequest"},
	})

	issued := env.agent.Step(context.Background(), 1)
	assert.Equal(t, 1, issued)
	assert.Equal(t, StateIdle, env.agent.State())
	assert.False(t, env.agent.Busy())

	require.Len(t, env.results, 1)
	res := env.results[0]
	assert.True(t, res.Success)
	assert.Equal(t, "hello", res.Data["echoed"])
	assert.Equal(t, "comms", res.LineageID)
	assert.Equal(t, uint64(1), res.CompletedTick)

	// Successful goals feed the knowledge store and the tracker.
	assert.Len(t, env.knowledge.remembered, 1)
	stats := env.tracker.Stats(env.agent.Record().BusID)
	assert.Equal(t, 1, stats.Attempts)
	assert.InDelta(t, 0.05, stats.TotalCost, 1e-9)
}

func TestInvocationMetricsRecorded(t *testing.T) {
	env := setupTestTaskAgent(t, 4, echoCapability())
	m := getOrCreateMetaMetrics()
	before := testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("success"))

	env.agent.Enqueue(Goal{
		RequestID:  uuid.New(),
		Type:       "EchoRequest",
		Arg:        "hi",
		Candidates: []string{"EchoRequest"},
	})
	env.agent.Step(context.Background(), 1)

	after := testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("success"))
	assert.Equal(t, before+1, after)
}

func TestTaskAgentNoCandidateSettlesAndMovesOn(t *testing.T) {
	env := setupTestTaskAgent(t, 4, echoCapability())

	env.agent.Enqueue(Goal{RequestID: uuid.New(), Type: "UnknownTask", Arg: "x"})
	env.agent.Enqueue(Goal{
		RequestID:  uuid.New(),
		Type:       "EchoRequest",
		Arg:        "after",
		Candidates: []string{"EchoRequest"},
	})

	env.agent.Step(context.Background(), 1)

	require.Len(t, env.results, 2)
	assert.False(t, env.results[0].Success)
	assert.Equal(t, FailureNoAgentForRequest, env.results[0].Kind)
	assert.True(t, env.results[1].Success)
	assert.Equal(t, "after", env.results[1].Data["echoed"])
}

func TestSequenceStopsOnFailure(t *testing.T) {
	calls := make(map[string]int)
	step := func(name string, fail bool) *Capability {
		return &Capability{
			Name:    name,
			Version: semver.MustParse("1.0.0"),
			Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				calls[name]++
				if fail {
					return nil, &FailureError{Kind: FailureInvalidArguments, Detail: "bad operand"}
				}
				return map[string]any{"from": name}, nil
			},
		}
	}
	env := setupTestTaskAgent(t, 4, step("StepOne", false), step("StepTwo", true), step("StepThree", false))

	env.agent.EnqueueSequence(Goal{RequestID: uuid.New(), Type: "Composite"}, &SequenceSpec{
		Steps: []SeqStep{
			{Capability: "StepOne"},
			{Capability: "StepTwo"},
			{Capability: "StepThree"},
		},
		StopOnFailure: true,
	})
	env.agent.Step(context.Background(), 1)

	require.Len(t, env.results, 1)
	res := env.results[0]
	assert.False(t, res.Success)
	assert.Equal(t, FailureInvalidArguments, res.Kind)
	assert.Equal(t, "bad operand", res.Detail)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "StepTwo", res.Steps[1].Capability)
	assert.Zero(t, calls["StepThree"])
}

func TestSequenceContinuesWithoutStopOnFailure(t *testing.T) {
	env := setupTestTaskAgent(t, 4,
		&Capability{
			Name:    "Flaky",
			Version: semver.MustParse("1.0.0"),
			Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				return nil, errors.New("boom")
			},
		},
		echoCapability(),
	)

	env.agent.EnqueueSequence(Goal{RequestID: uuid.New(), Type: "Composite"}, &SequenceSpec{
		Steps: []SeqStep{
			{Capability: "Flaky"},
			{Capability: "EchoRequest", Params: map[string]any{"query": "survived"}},
		},
	})
	env.agent.Step(context.Background(), 1)

	require.Len(t, env.results, 1)
	res := env.results[0]
	assert.True(t, res.Success)
	assert.Equal(t, "survived", res.Data["echoed"])
	require.Len(t, res.Steps, 2)
	assert.Equal(t, FailureHandlerFault, res.Steps[0].Kind)
}

func TestSequencePassOutputs(t *testing.T) {
	var seen map[string]any
	env := setupTestTaskAgent(t, 4,
		&Capability{
			Name:    "Produce",
			Version: semver.MustParse("1.0.0"),
			Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				return map[string]any{"token": "abc", "mode": "produced"}, nil
			},
		},
		&Capability{
			Name:    "Consume",
			Version: semver.MustParse("1.0.0"),
			Schema: ParamSchema{
				"token": {Type: ParamString, Required: true},
				"mode":  {Type: ParamString},
			},
			Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
				seen = params
				return map[string]any{"ok": true}, nil
			},
		},
	)

	env.agent.EnqueueSequence(Goal{RequestID: uuid.New(), Type: "Composite"}, &SequenceSpec{
		Steps: []SeqStep{
			{Capability: "Produce"},
			{Capability: "Consume", Params: map[string]any{"mode": "explicit"}},
		},
		StopOnFailure: true,
		PassOutputs:   true,
	})
	env.agent.Step(context.Background(), 1)

	require.Len(t, env.results, 1)
	assert.True(t, env.results[0].Success)
	require.NotNil(t, seen)
	assert.Equal(t, "abc", seen["token"])
	// Explicit step params win over passed outputs.
	assert.Equal(t, "explicit", seen["mode"])
}

func TestNestedSequenceDepthExceeded(t *testing.T) {
	env := setupTestTaskAgent(t, 2, echoCapability())

	innermost := &SequenceSpec{Steps: []SeqStep{{Capability: "EchoRequest", Params: map[string]any{"query": "deep"}}}}
	middle := &SequenceSpec{Steps: []SeqStep{{Sub: innermost}}}
	env.agent.EnqueueSequence(Goal{RequestID: uuid.New(), Type: "Composite"}, &SequenceSpec{
		Steps:         []SeqStep{{Sub: middle}},
		StopOnFailure: true,
	})
	env.agent.Step(context.Background(), 1)

	require.Len(t, env.results, 1)
	assert.False(t, env.results[0].Success)
	assert.Equal(t, FailureDepthExceeded, env.results[0].Kind)
}

func TestNestedSequenceWithinDepth(t *testing.T) {
	env := setupTestTaskAgent(t, 4, echoCapability())

	inner := &SequenceSpec{Steps: []SeqStep{{Capability: "EchoRequest", Params: map[string]any{"query": "inner"}}}}
	env.agent.EnqueueSequence(Goal{RequestID: uuid.New(), Type: "Composite"}, &SequenceSpec{
		Steps: []SeqStep{
			{Sub: inner},
			{Capability: "EchoRequest", Params: map[string]any{"query": "outer"}},
		},
		StopOnFailure: true,
	})
	env.agent.Step(context.Background(), 1)

	require.Len(t, env.results, 1)
	res := env.results[0]
	assert.True(t, res.Success)
	assert.Equal(t, "outer", res.Data["echoed"])
	assert.Len(t, res.Steps, 2)
}

func TestTaskAgentBusRoundTrip(t *testing.T) {
	env := setupTestTaskAgent(t, 4, &Capability{
		Name:         "EchoRequest",
		Version:      semver.MustParse("1.0.0"),
		Schema:       ParamSchema{"query": {Type: ParamString, Required: true}},
		SkillAgentID: "skill-echo",
		Command:      "echo",
		ArgOrder:     []string{"query"},
	})
	skill := NewSkillAgent("skill-echo", skills.NewEchoTool(), env.bus, zerolog.Nop())

	env.agent.Enqueue(Goal{
		RequestID:  uuid.New(),
		Type:       "EchoRequest",
		Arg:        "roundtrip",
		Candidates: []string{"EchoRequest"},
	})

	issued := env.agent.Step(context.Background(), 1)
	assert.Equal(t, 1, issued)
	assert.Equal(t, StateAwaitingCapability, env.agent.State())
	assert.Empty(t, env.results)

	env.bus.Deliver(2)
	skill.Step(2)

	env.bus.Deliver(3)
	env.agent.Step(context.Background(), 3)

	require.Len(t, env.results, 1)
	res := env.results[0]
	assert.True(t, res.Success)
	assert.Equal(t, "roundtrip", res.Data["echoed"])
	assert.Equal(t, uint64(3), res.CompletedTick)
	assert.Zero(t, env.exec.PendingCount())
}

func TestTaskAgentTimeout(t *testing.T) {
	env := setupTestTaskAgent(t, 4, &Capability{
		Name:         "EchoRequest",
		Version:      semver.MustParse("1.0.0"),
		Schema:       ParamSchema{"query": {Type: ParamString, Required: true}},
		SkillAgentID: "skill-mute",
		Command:      "echo",
		ArgOrder:     []string{"query"},
	})
	// Registered on the bus, but nothing ever answers.
	env.bus.Register("skill-mute")

	env.agent.Enqueue(Goal{
		RequestID:  uuid.New(),
		Type:       "EchoRequest",
		Arg:        "lost",
		Candidates: []string{"EchoRequest"},
	})
	env.agent.Step(context.Background(), 1)
	require.Empty(t, env.results)

	expired := env.exec.ExpireDue(4)
	require.Len(t, expired, 1)
	env.agent.DeliverTimeout(expired[0].CorrelationID, 4)

	require.Len(t, env.results, 1)
	res := env.results[0]
	assert.False(t, res.Success)
	assert.Equal(t, FailureTimeout, res.Kind)
	assert.Equal(t, uint64(4), res.CompletedTick)

	// The failed goal is not remembered.
	assert.Empty(t, env.knowledge.remembered)
}

func TestTaskAgentAbort(t *testing.T) {
	env := setupTestTaskAgent(t, 4, &Capability{
		Name:         "EchoRequest",
		Version:      semver.MustParse("1.0.0"),
		Schema:       ParamSchema{"query": {Type: ParamString, Required: true}},
		SkillAgentID: "skill-mute",
		Command:      "echo",
		ArgOrder:     []string{"query"},
	})
	env.bus.Register("skill-mute")

	env.agent.Enqueue(Goal{RequestID: uuid.New(), Type: "EchoRequest", Arg: "x", Candidates: []string{"EchoRequest"}})
	env.agent.Step(context.Background(), 1)
	require.Equal(t, 1, env.exec.PendingCount())

	env.agent.RequestAbort()
	env.agent.Step(context.Background(), 2)

	require.Len(t, env.results, 1)
	assert.False(t, env.results[0].Success)
	assert.Equal(t, FailureAborted, env.results[0].Kind)
	assert.Zero(t, env.exec.PendingCount())
	assert.False(t, env.agent.Busy())
}

func TestTaskAgentRetire(t *testing.T) {
	env := setupTestTaskAgent(t, 4, echoCapability())
	env.agent.Enqueue(Goal{RequestID: uuid.New(), Type: "EchoRequest", Arg: "x", Candidates: []string{"EchoRequest"}})

	env.agent.Retire()
	assert.False(t, env.agent.Busy())

	// The bus no longer knows the agent.
	err := env.bus.Send(&Message{Sender: "someone", Recipient: env.agent.Record().BusID, Kind: MessageKindRequest})
	assert.ErrorIs(t, err, ErrUnknownRecipient)
}
