// Package planner turns free-form goal text into capability sequences. The
// HTTP planner delegates to an external planning service behind a circuit
// breaker; the static planner is the dependency-free fallback.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrPlanningUnavailable is returned when no planner can produce a plan:
// the service is down, the breaker is open, or the goal is unparseable by
// the fallback.
var ErrPlanningUnavailable = errors.New("planning unavailable")

// PlanStep is one capability invocation in a plan.
type PlanStep struct {
	Capability string         `json:"capability"`
	Params     map[string]any `json:"params"`
}

// Plan is an ordered capability sequence for a goal.
type Plan struct {
	Steps         []PlanStep `json:"steps"`
	StopOnFailure bool       `json:"stop_on_failure"`
	PassOutputs   bool       `json:"pass_outputs"`
}

// CatalogEntry describes one capability to the planning service.
type CatalogEntry struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Params      []string `json:"params"`
	Description string   `json:"description,omitempty"`
}

// Planner produces a plan for goal text given the capability catalog.
type Planner interface {
	Plan(ctx context.Context, goal string, catalog []CatalogEntry) (*Plan, error)
}

// StaticPlanner maps "Type:Arg" goal text onto a single-step plan when the
// catalog carries a capability named after the goal type.
type StaticPlanner struct{}

// Plan implements Planner without any external dependency.
func (StaticPlanner) Plan(_ context.Context, goal string, catalog []CatalogEntry) (*Plan, error) {
	goal = strings.TrimSpace(goal)
	goalType, arg := goal, ""
	if i := strings.Index(goal, ":"); i >= 0 {
		goalType, arg = goal[:i], goal[i+1:]
	}
	if goalType == "" {
		return nil, fmt.Errorf("%w: empty goal", ErrPlanningUnavailable)
	}
	for _, entry := range catalog {
		if entry.Name == goalType {
			return &Plan{
				Steps:         []PlanStep{{Capability: goalType, Params: map[string]any{"query": arg}}},
				StopOnFailure: true,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: no capability for goal type %q", ErrPlanningUnavailable, goalType)
}
