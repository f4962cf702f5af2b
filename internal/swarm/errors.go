package swarm

import "errors"

// FailureKind classifies capability-level failures. Failures travel as data
// on CapabilityResult so sequence logic can apply its own policy; they are
// never raised past the executor boundary.
type FailureKind string

const (
	FailureNone                FailureKind = ""
	FailureInvalidParameters   FailureKind = "invalid_parameters"
	FailureInvalidArguments    FailureKind = "invalid_arguments"
	FailureUnknownCommand      FailureKind = "unknown_command"
	FailureUnknownRecipient    FailureKind = "unknown_recipient"
	FailureHandlerFault        FailureKind = "handler_fault"
	FailureTimeout             FailureKind = "timeout"
	FailureDepthExceeded       FailureKind = "depth_exceeded"
	FailureAborted             FailureKind = "aborted"
	FailureNoAgentForRequest   FailureKind = "no_agent_for_request"
	FailurePlanningUnavailable FailureKind = "planning_unavailable"
)

// FailureError lets an in-process handler report a classified failure.
// Any other error (or panic) from a handler becomes HandlerFault.
type FailureError struct {
	Kind   FailureKind
	Detail string
}

func (e *FailureError) Error() string {
	return string(e.Kind) + ": " + e.Detail
}

var (
	// ErrUnknownRecipient is returned by Bus.Send for an unregistered recipient.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrNoAgentForRequest is returned when no active task agent's capability
	// set covers an external request. Terminal, never retried.
	ErrNoAgentForRequest = errors.New("no agent for request")

	// ErrDuplicateCapability is returned when registering a name+version pair
	// that already exists. Registered capabilities are immutable.
	ErrDuplicateCapability = errors.New("capability already registered")

	// ErrUnknownCapability is returned when resolving a name with no entries.
	ErrUnknownCapability = errors.New("unknown capability")
)
