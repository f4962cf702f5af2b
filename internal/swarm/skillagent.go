package swarm

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/evoswarm/evoswarm/internal/skills"
)

// SkillAgent wraps a single Tool behind the bus. Each tick it drains its
// inbox, executes every capability request against the tool, and stages the
// responses for delivery on the next tick. Skill agents hold no evolving
// state and never participate in mutation.
type SkillAgent struct {
	id   string
	tool skills.Tool
	bus  *Bus
	log  zerolog.Logger
}

// NewSkillAgent wraps a tool and registers it on the bus.
func NewSkillAgent(id string, tool skills.Tool, bus *Bus, log zerolog.Logger) *SkillAgent {
	a := &SkillAgent{
		id:   id,
		tool: tool,
		bus:  bus,
		log:  log.With().Str("agent", id).Str("skill", tool.Name()).Logger(),
	}
	bus.Register(id)
	return a
}

// ID returns the agent's bus identity.
func (a *SkillAgent) ID() string { return a.id }

// Tool returns the wrapped tool.
func (a *SkillAgent) Tool() skills.Tool { return a.tool }

// Step drains the inbox and answers every capability request. Non-request
// messages are logged and dropped. Returns the number of requests handled.
func (a *SkillAgent) Step(tick uint64) int {
	handled := 0
	for _, msg := range a.bus.Drain(a.id) {
		if msg.Kind != MessageKindRequest {
			a.log.Warn().Str("kind", string(msg.Kind)).Str("sender", msg.Sender).
				Msg("dropping non-request message")
			continue
		}
		req, ok := msg.Payload.(CapabilityRequest)
		if !ok {
			a.log.Warn().Str("sender", msg.Sender).Msg("dropping malformed request payload")
			continue
		}

		result := a.execute(req)
		if err := a.bus.Send(NewResponse(msg, result, tick)); err != nil {
			// Requester retired between ticks; its correlation will expire.
			a.log.Debug().Str("recipient", msg.Sender).Err(err).Msg("response undeliverable")
		}
		handled++
	}
	return handled
}

// ExecuteDirect runs one request against the tool synchronously, outside
// the bus path. Used for shadow evaluation of mutation trials.
func (a *SkillAgent) ExecuteDirect(req CapabilityRequest) CapabilityResult {
	return a.execute(req)
}

// execute runs one command against the tool under panic containment and
// maps the tool result onto the core failure taxonomy.
func (a *SkillAgent) execute(req CapabilityRequest) (res CapabilityResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Str("command", req.Command).Interface("panic", r).Msg("tool panicked")
			res = Fail(req.Capability, FailureHandlerFault, fmt.Sprintf("tool panic: %v", r))
			res.Latency = time.Since(start)
		}
	}()

	out := a.tool.Execute(req.Command, req.Args)
	latency := time.Since(start)

	if out.Success {
		return Ok(req.Capability, out.Data, latency)
	}
	res = Fail(req.Capability, mapResultCode(out.Code), out.Error)
	res.Latency = latency
	return res
}

func mapResultCode(code skills.ResultCode) FailureKind {
	switch code {
	case skills.CodeUnknownCommand:
		return FailureUnknownCommand
	case skills.CodeInvalidArguments:
		return FailureInvalidArguments
	default:
		return FailureHandlerFault
	}
}
