package skills

import "strings"

// EchoTool repeats its arguments back. Mainly useful for wiring tests and
// shadow workloads.
type EchoTool struct{}

// NewEchoTool creates an echo tool.
func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) Name() string { return "EchoSkill" }

func (t *EchoTool) Execute(command string, args []string) Result {
	if command != "echo" {
		return FailUnknownCommand(command)
	}
	return Succeed(map[string]any{
		"echoed": strings.Join(args, " "),
		"count":  len(args),
	})
}

func (t *EchoTool) Capabilities() Manifest {
	return Manifest{
		Name:        t.Name(),
		Description: "Repeats input back to the caller.",
		Commands: map[string]CommandSpec{
			"echo": {
				Description: "Echo the given arguments.",
				ArgsUsage:   "<text> [more text...]",
				Example:     "echo hello world",
			},
		},
	}
}
