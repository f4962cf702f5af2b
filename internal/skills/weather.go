package skills

import "strings"

// WeatherTool answers weather lookups from a canned table. A production
// deployment swaps this for a tool backed by a real provider; the contract
// is identical either way.
type WeatherTool struct {
	conditions map[string]string
}

// NewWeatherTool creates a weather tool with a small built-in table.
func NewWeatherTool() *WeatherTool {
	return &WeatherTool{
		conditions: map[string]string{
			"london":    "overcast, 14C",
			"tokyo":     "clear, 22C",
			"san jose":  "sunny, 25C",
			"reykjavik": "snow, -2C",
		},
	}
}

func (t *WeatherTool) Name() string { return "WeatherSkill" }

func (t *WeatherTool) Execute(command string, args []string) Result {
	if command != "weather" {
		return FailUnknownCommand(command)
	}
	if len(args) < 1 {
		return FailInvalidArguments("weather expects a city name")
	}

	city := strings.Join(args, " ")
	cond, ok := t.conditions[strings.ToLower(city)]
	if !ok {
		cond = "conditions unavailable"
	}
	return Succeed(map[string]any{
		"city":       city,
		"conditions": cond,
	})
}

func (t *WeatherTool) Capabilities() Manifest {
	return Manifest{
		Name:        t.Name(),
		Description: "Looks up current weather conditions for a city.",
		Commands: map[string]CommandSpec{
			"weather": {
				Description: "Report conditions for the given city.",
				ArgsUsage:   "<city>",
				Example:     "weather London",
			},
		},
	}
}
