package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InvokeOutcome is the immediate result of an Invoke call. Done outcomes
// carry the final CapabilityResult; pending outcomes carry the correlation
// id the caller waits on until Complete or expiry.
type InvokeOutcome struct {
	Done          bool
	Result        CapabilityResult
	CorrelationID uuid.UUID
}

// PendingInvocation tracks one in-flight cross-agent capability request.
type PendingInvocation struct {
	CallerID      string
	CorrelationID uuid.UUID
	Capability    string
	IssuedTick    uint64
	DeadlineTick  uint64
}

// Executor dispatches capability invocations. In-process capabilities run
// synchronously under panic containment; skill-backed capabilities are sent
// over the bus and tracked as pending correlations. The executor never
// expires pendings on its own: the tick loop calls ExpireDue and converts
// the expired entries to Timeout failures.
type Executor struct {
	registry *Registry
	bus      *Bus
	log      zerolog.Logger

	timeoutTicks uint64

	mu      sync.Mutex
	pending map[string]map[uuid.UUID]*PendingInvocation // callerID -> correlation -> invocation
}

// NewExecutor creates an executor bound to a registry and bus.
func NewExecutor(registry *Registry, bus *Bus, timeoutTicks uint64, log zerolog.Logger) *Executor {
	return &Executor{
		registry:     registry,
		bus:          bus,
		log:          log.With().Str("component", "executor").Logger(),
		timeoutTicks: timeoutTicks,
		pending:      make(map[string]map[uuid.UUID]*PendingInvocation),
	}
}

// Invoke resolves and dispatches a capability for callerID at the given
// tick. Schema validation happens before any dispatch: invalid parameters
// never reach a handler or the bus.
func (e *Executor) Invoke(ctx context.Context, callerID, name string, params map[string]any, tick uint64) InvokeOutcome {
	cap, err := e.registry.Resolve(name)
	if err != nil {
		return InvokeOutcome{Done: true, Result: Fail(name, FailureNoAgentForRequest, err.Error())}
	}

	if err := cap.Schema.Validate(params); err != nil {
		return InvokeOutcome{Done: true, Result: Fail(name, FailureInvalidParameters, err.Error())}
	}

	if cap.InProcess() {
		return InvokeOutcome{Done: true, Result: e.callHandler(ctx, cap, params)}
	}
	return e.dispatch(callerID, cap, params, tick)
}

// CallDirect invokes an in-process capability synchronously with the same
// validation and containment as Invoke, bypassing pending tracking. Used
// for shadow evaluation of mutation trials.
func (e *Executor) CallDirect(ctx context.Context, cap *Capability, params map[string]any) CapabilityResult {
	if err := cap.Schema.Validate(params); err != nil {
		return Fail(cap.Name, FailureInvalidParameters, err.Error())
	}
	return e.callHandler(ctx, cap, params)
}

// callHandler runs an in-process handler with panic containment. A recovered
// panic and any unclassified error both become HandlerFault.
func (e *Executor) callHandler(ctx context.Context, cap *Capability, params map[string]any) (res CapabilityResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("capability", cap.Name).Interface("panic", r).Msg("handler panicked")
			res = Fail(cap.Name, FailureHandlerFault, fmt.Sprintf("handler panic: %v", r))
			res.Latency = time.Since(start)
		}
	}()

	data, err := cap.Handler(ctx, params)
	latency := time.Since(start)
	if err != nil {
		var fe *FailureError
		if errors.As(err, &fe) {
			res = Fail(cap.Name, fe.Kind, fe.Detail)
		} else {
			res = Fail(cap.Name, FailureHandlerFault, err.Error())
		}
		res.Latency = latency
		return res
	}
	return Ok(cap.Name, data, latency)
}

// dispatch sends a skill-backed capability request over the bus and records
// the pending correlation with its deadline tick.
func (e *Executor) dispatch(callerID string, cap *Capability, params map[string]any, tick uint64) InvokeOutcome {
	req := CapabilityRequest{
		Capability: cap.Name,
		Command:    cap.Command,
		Args:       argsFromParams(cap, params),
	}
	msg := NewRequest(callerID, cap.SkillAgentID, req, tick)

	if err := e.bus.Send(msg); err != nil {
		if errors.Is(err, ErrUnknownRecipient) {
			return InvokeOutcome{Done: true, Result: Fail(cap.Name, FailureUnknownRecipient, err.Error())}
		}
		return InvokeOutcome{Done: true, Result: Fail(cap.Name, FailureHandlerFault, err.Error())}
	}

	inv := &PendingInvocation{
		CallerID:      callerID,
		CorrelationID: msg.CorrelationID,
		Capability:    cap.Name,
		IssuedTick:    tick,
		DeadlineTick:  tick + e.timeoutTicks,
	}

	e.mu.Lock()
	byCorr, ok := e.pending[callerID]
	if !ok {
		byCorr = make(map[uuid.UUID]*PendingInvocation)
		e.pending[callerID] = byCorr
	}
	byCorr[inv.CorrelationID] = inv
	e.mu.Unlock()

	e.log.Debug().
		Str("caller", callerID).
		Str("capability", cap.Name).
		Str("correlation", inv.CorrelationID.String()).
		Uint64("deadline_tick", inv.DeadlineTick).
		Msg("capability request dispatched")

	return InvokeOutcome{CorrelationID: inv.CorrelationID}
}

// argsFromParams flattens params into the positional argument list of the
// skill command, following the capability's declared argument order.
func argsFromParams(cap *Capability, params map[string]any) []string {
	if len(cap.ArgOrder) == 0 {
		return nil
	}
	args := make([]string, 0, len(cap.ArgOrder))
	for _, name := range cap.ArgOrder {
		v, ok := params[name]
		if !ok {
			continue
		}
		args = append(args, fmt.Sprint(v))
	}
	return args
}

// Complete settles a pending correlation with the skill agent's result.
// Returns false if the correlation is unknown, already expired, or released;
// late responses are dropped by the caller when this returns false.
func (e *Executor) Complete(callerID string, corr uuid.UUID, result CapabilityResult) (*PendingInvocation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	byCorr := e.pending[callerID]
	inv, ok := byCorr[corr]
	if !ok {
		return nil, false
	}
	delete(byCorr, corr)
	if len(byCorr) == 0 {
		delete(e.pending, callerID)
	}
	return inv, true
}

// Release abandons a pending correlation without a result, for callers that
// abort mid-flight. A late response for a released correlation is dropped.
func (e *Executor) Release(callerID string, corr uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	byCorr := e.pending[callerID]
	delete(byCorr, corr)
	if len(byCorr) == 0 {
		delete(e.pending, callerID)
	}
}

// ReleaseAll drops every pending correlation for a caller. Used when an
// agent is retired mid-flight.
func (e *Executor) ReleaseAll(callerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, callerID)
}

// ExpireDue removes and returns every pending invocation whose deadline
// tick has arrived. The tick loop fails each one with a Timeout result.
func (e *Executor) ExpireDue(tick uint64) []*PendingInvocation {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expired []*PendingInvocation
	for callerID, byCorr := range e.pending {
		for corr, inv := range byCorr {
			if tick >= inv.DeadlineTick {
				expired = append(expired, inv)
				delete(byCorr, corr)
			}
		}
		if len(byCorr) == 0 {
			delete(e.pending, callerID)
		}
	}
	return expired
}

// PendingCount returns the number of in-flight correlations.
func (e *Executor) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, byCorr := range e.pending {
		n += len(byCorr)
	}
	return n
}
