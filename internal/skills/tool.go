// Package skills defines the contract between the orchestration core and
// external skill tools, plus a handful of bundled reference tools. A tool
// receives a command name and an ordered list of string arguments and
// returns a structured result; that is the entire contract.
package skills

// Result is the structured outcome of a tool invocation.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    ResultCode     `json:"code,omitempty"`
}

// ResultCode classifies tool-level failures so the wrapping skill agent can
// map them onto the core failure taxonomy.
type ResultCode string

const (
	CodeUnknownCommand   ResultCode = "unknown_command"
	CodeInvalidArguments ResultCode = "invalid_arguments"
	CodeExecutionError   ResultCode = "execution_error"
)

// CommandSpec documents one command a tool understands.
type CommandSpec struct {
	Description string `json:"description"`
	ArgsUsage   string `json:"args_usage"`
	Example     string `json:"example"`
}

// Manifest describes a tool and its commands, for routing and planning.
type Manifest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Commands    map[string]CommandSpec `json:"commands"`
}

// Tool is the sole contract the core requires from any skill implementation.
// Implementations must be stateless per invocation: no cross-call mutable
// state beyond what is injected at construction.
type Tool interface {
	Name() string
	Execute(command string, args []string) Result
	Capabilities() Manifest
}

// Succeed builds a successful result with a data payload.
func Succeed(data map[string]any) Result {
	return Result{Success: true, Data: data}
}

// FailUnknownCommand builds the standard unknown-command failure.
func FailUnknownCommand(command string) Result {
	return Result{
		Success: false,
		Code:    CodeUnknownCommand,
		Error:   "unknown command: " + command,
	}
}

// FailInvalidArguments builds the standard bad-arguments failure.
func FailInvalidArguments(detail string) Result {
	return Result{
		Success: false,
		Code:    CodeInvalidArguments,
		Error:   detail,
	}
}

// FailExecution builds a generic execution failure.
func FailExecution(detail string) Result {
	return Result{
		Success: false,
		Code:    CodeExecutionError,
		Error:   detail,
	}
}
