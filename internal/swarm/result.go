package swarm

import "time"

// CapabilityResult is the structured outcome of one capability invocation.
// Failures are carried as data: Kind classifies the failure and Detail
// carries the handler- or boundary-supplied message.
type CapabilityResult struct {
	Capability string
	Success    bool
	Kind       FailureKind
	Detail     string
	Data       map[string]any
	Latency    time.Duration
}

// Ok builds a successful result.
func Ok(capability string, data map[string]any, latency time.Duration) CapabilityResult {
	return CapabilityResult{
		Capability: capability,
		Success:    true,
		Data:       data,
		Latency:    latency,
	}
}

// Fail builds a failed result.
func Fail(capability string, kind FailureKind, detail string) CapabilityResult {
	return CapabilityResult{
		Capability: capability,
		Kind:       kind,
		Detail:     detail,
	}
}
