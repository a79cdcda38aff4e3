package tools

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Builtin tool names.
const (
	FinishConversationName = "user_wants_to_finish_conversation"
	CurrentTimeName        = "get_current_utc_time"
	MathName               = "calculate_math"
)

// BuiltinOptions carries the collaborators builtin handlers need.
type BuiltinOptions struct {
	Now        func() time.Time
	Translator Translator
}

type noArgs struct{}

// MathArgs is the argument object of calculate_math.
type MathArgs struct {
	MathQuestion string `json:"math_question" jsonschema:"Question with math problem"`
}

// FinishConversation lets the model end the session when the user says goodbye.
func FinishConversation() Tool {
	return MustNew(FinishConversationName,
		"Invoked when the user says goodbye, expresses being finished, or otherwise seems to want to stop the interaction.",
		func(context.Context, noArgs) (Result, error) {
			return Result{Output: "Goodbye.", EndConversation: true}, nil
		})
}

// CurrentTime reports the current UTC time in HTTP date format.
func CurrentTime(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return MustNew(CurrentTimeName, "Retrieves the current time in UTC.",
		func(context.Context, noArgs) (Result, error) {
			return Result{Output: now().UTC().Format(http.TimeFormat)}, nil
		})
}

// Math answers a spoken math question. Plain arithmetic is evaluated directly;
// anything else is first translated into an expression by t.
func Math(t Translator) Tool {
	return MustNew(MathName,
		"Translate a math problem into an arithmetic expression and evaluate it.",
		func(ctx context.Context, args MathArgs) (Result, error) {
			answer, err := Solve(ctx, t, args.MathQuestion)
			if err != nil {
				return Result{}, err
			}
			return Result{Output: answer}, nil
		})
}

// Builtins returns the enabled builtin tools in the order given. An empty list enables all.
func Builtins(enable []string, opts BuiltinOptions) ([]Tool, error) {
	if len(enable) == 0 {
		enable = []string{FinishConversationName, CurrentTimeName, MathName}
	}

	out := make([]Tool, 0, len(enable))
	for _, name := range enable {
		switch name {
		case FinishConversationName:
			out = append(out, FinishConversation())
		case CurrentTimeName:
			out = append(out, CurrentTime(opts.Now))
		case MathName:
			out = append(out, Math(opts.Translator))
		default:
			return nil, fmt.Errorf("unknown builtin tool %q", name)
		}
	}
	return out, nil
}
