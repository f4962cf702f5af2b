package main

import (
	"github.com/Masterminds/semver/v3"

	"github.com/evoswarm/evoswarm/internal/skills"
	"github.com/evoswarm/evoswarm/internal/swarm"
)

// skillBinding wires one tool and the capabilities it serves.
type skillBinding struct {
	agentID string
	tool    skills.Tool
	caps    []*swarm.Capability
}

// defaultBindings is the bundled skill catalog, each capability stamped
// with its serving agent. Capability names double as goal types:
// "WeatherInquiry:London" routes to WeatherInquiry.
func defaultBindings() []skillBinding {
	v1 := semver.MustParse("1.0.0")
	bindings := []skillBinding{
		{
			agentID: "skill-echo",
			tool:    skills.NewEchoTool(),
			caps: []*swarm.Capability{{
				Name:     "EchoRequest",
				Version:  v1,
				Schema:   swarm.ParamSchema{"query": {Type: swarm.ParamString, Required: true}},
				Command:  "echo",
				ArgOrder: []string{"query"},
				Cost:     0.05,
				Probe:    map[string]any{"query": "probe"},
			}},
		},
		{
			agentID: "skill-weather",
			tool:    skills.NewWeatherTool(),
			caps: []*swarm.Capability{{
				Name:     "WeatherInquiry",
				Version:  v1,
				Schema:   swarm.ParamSchema{"query": {Type: swarm.ParamString, Required: true}},
				Command:  "weather",
				ArgOrder: []string{"query"},
				Cost:     0.1,
				Probe:    map[string]any{"query": "London"},
			}},
		},
		{
			agentID: "skill-maths",
			tool:    skills.NewMathsTool(),
			caps: []*swarm.Capability{
				{
					Name:    "MathsAdd",
					Version: v1,
					Schema: swarm.ParamSchema{
						"a": {Type: swarm.ParamNumber, Required: true},
						"b": {Type: swarm.ParamNumber, Required: true},
					},
					Command:  "add",
					ArgOrder: []string{"a", "b"},
					Cost:     0.05,
					Probe:    map[string]any{"a": 2.0, "b": 3.0},
				},
				{
					Name:    "MathsDivide",
					Version: v1,
					Schema: swarm.ParamSchema{
						"a": {Type: swarm.ParamNumber, Required: true},
						"b": {Type: swarm.ParamNumber, Required: true},
					},
					Command:  "divide",
					ArgOrder: []string{"a", "b"},
					Cost:     0.05,
					Probe:    map[string]any{"a": 10.0, "b": 2.0},
				},
			},
		},
		{
			agentID: "skill-calendar",
			tool:    skills.NewCalendarTool(),
			caps: []*swarm.Capability{{
				Name:    "CalendarQuery",
				Version: v1,
				Schema:  swarm.ParamSchema{},
				Command: "current_date",
				Cost:    0.05,
				Probe:   map[string]any{},
			}},
		},
	}
	for _, b := range bindings {
		for _, cap := range b.caps {
			cap.SkillAgentID = b.agentID
		}
	}
	return bindings
}
