package skills

import (
	"fmt"
	"math"
	"strconv"
)

// MathsTool performs basic arithmetic on string-encoded operands.
type MathsTool struct{}

// NewMathsTool creates a maths tool.
func NewMathsTool() *MathsTool { return &MathsTool{} }

func (t *MathsTool) Name() string { return "MathsSkill" }

func (t *MathsTool) Execute(command string, args []string) Result {
	switch command {
	case "add", "subtract", "multiply", "divide", "power":
		if len(args) != 2 {
			return FailInvalidArguments(fmt.Sprintf("%s expects 2 arguments, got %d", command, len(args)))
		}
		a, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return FailInvalidArguments("first operand is not a number: " + args[0])
		}
		b, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return FailInvalidArguments("second operand is not a number: " + args[1])
		}

		var out float64
		switch command {
		case "add":
			out = a + b
		case "subtract":
			out = a - b
		case "multiply":
			out = a * b
		case "divide":
			if b == 0 {
				return FailExecution("division by zero")
			}
			out = a / b
		case "power":
			out = math.Pow(a, b)
		}
		return Succeed(map[string]any{"result": out})

	default:
		return FailUnknownCommand(command)
	}
}

func (t *MathsTool) Capabilities() Manifest {
	return Manifest{
		Name:        t.Name(),
		Description: "Basic arithmetic operations on two operands.",
		Commands: map[string]CommandSpec{
			"add":      {Description: "Add two numbers.", ArgsUsage: "<a> <b>", Example: "add 2 3"},
			"subtract": {Description: "Subtract b from a.", ArgsUsage: "<a> <b>", Example: "subtract 5 2"},
			"multiply": {Description: "Multiply two numbers.", ArgsUsage: "<a> <b>", Example: "multiply 4 6"},
			"divide":   {Description: "Divide a by b.", ArgsUsage: "<a> <b>", Example: "divide 10 4"},
			"power":    {Description: "Raise a to the power b.", ArgsUsage: "<a> <b>", Example: "power 2 10"},
		},
	}
}
