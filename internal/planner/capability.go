package planner

import (
	"context"
	"errors"

	"github.com/Masterminds/semver/v3"

	"github.com/evoswarm/evoswarm/internal/swarm"
)

// AsCapability wraps a planner as an in-process capability so task agents
// can request plans through the ordinary executor path. catalog is read at
// call time so late-registered capabilities are visible to the service.
func AsCapability(p Planner, catalog func() []CatalogEntry) *swarm.Capability {
	return &swarm.Capability{
		Name:    "PlanGoal",
		Version: semver.MustParse("1.0.0"),
		Schema: swarm.ParamSchema{
			"goal": {Type: swarm.ParamString, Required: true},
		},
		Handler: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			goal := params["goal"].(string)
			plan, err := p.Plan(ctx, goal, catalog())
			if err != nil {
				if errors.Is(err, ErrPlanningUnavailable) {
					return nil, &swarm.FailureError{
						Kind:   swarm.FailurePlanningUnavailable,
						Detail: err.Error(),
					}
				}
				return nil, err
			}
			steps := make([]any, 0, len(plan.Steps))
			for _, step := range plan.Steps {
				steps = append(steps, map[string]any{
					"capability": step.Capability,
					"params":     step.Params,
				})
			}
			return map[string]any{
				"steps":           steps,
				"stop_on_failure": plan.StopOnFailure,
				"pass_outputs":    plan.PassOutputs,
			}, nil
		},
		Cost:  0.2,
		Probe: map[string]any{"goal": "EchoRequest:probe"},
	}
}
