package tools

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const translatePrompt = `Translate the user's math question into one jq arithmetic expression.
Use only numbers, + - * / %, parentheses, pow(a; b), log(a), and the filters
sqrt, floor, ceil, round, fabs, exp, log10, log2, sin, cos, tan applied with a pipe,
for example (16 | sqrt). Reply with the expression only, no prose and no code fences.`

var (
	plainArithmetic = regexp.MustCompile(`^[0-9.\s()+\-*/%]+$`)
	identifier      = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

	allowedFunctions = map[string]bool{
		"sqrt": true, "pow": true, "log": true, "log10": true, "log2": true,
		"exp": true, "floor": true, "ceil": true, "round": true, "fabs": true,
		"sin": true, "cos": true, "tan": true,
	}

	errNoTranslator = errors.New("math question needs a translator")
)

// Translator turns a natural language math question into an expression.
type Translator interface {
	Translate(ctx context.Context, question string) (string, error)
}

// OpenAITranslator asks a chat completion model for the expression.
type OpenAITranslator struct {
	client openai.Client
	model  string
}

// NewOpenAITranslator builds a translator against an OpenAI compatible endpoint.
func NewOpenAITranslator(apiKey string, baseURL string, model string) *OpenAITranslator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAITranslator{client: openai.NewClient(opts...), model: model}
}

func (t *OpenAITranslator) Translate(ctx context.Context, question string) (string, error) {
	resp, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: t.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(translatePrompt),
			openai.UserMessage(question),
		},
	})
	if err != nil {
		return "", fmt.Errorf("translate math question: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("translate math question: no choices")
	}
	return cleanExpression(resp.Choices[0].Message.Content), nil
}

// Solve evaluates question, translating it first unless it is plain arithmetic.
func Solve(ctx context.Context, t Translator, question string) (string, error) {
	expr := cleanExpression(question)
	if expr == "" {
		return "", errors.New("empty math question")
	}
	if !plainArithmetic.MatchString(expr) {
		if t == nil {
			return "", errNoTranslator
		}
		translated, err := t.Translate(ctx, question)
		if err != nil {
			return "", err
		}
		expr = translated
	}
	return Evaluate(ctx, expr)
}

// Evaluate runs an arithmetic jq expression restricted to numeric functions.
func Evaluate(ctx context.Context, expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	for _, name := range identifier.FindAllString(expr, -1) {
		if !allowedFunctions[name] {
			return "", fmt.Errorf("expression uses unsupported function %q", name)
		}
	}
	if strings.ContainsAny(expr, "$.\"[]{}") && !onlyDecimalPoints(expr) {
		return "", fmt.Errorf("expression %q is not arithmetic", expr)
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		return "", fmt.Errorf("parse expression %q: %w", expr, err)
	}
	iter := query.RunWithContext(ctx, nil)
	v, ok := iter.Next()
	if !ok {
		return "", fmt.Errorf("expression %q produced no value", expr)
	}
	if err, ok := v.(error); ok {
		return "", fmt.Errorf("evaluate %q: %w", expr, err)
	}
	return formatNumber(v)
}

func formatNumber(v any) (string, error) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), nil
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case *big.Int:
		return n.String(), nil
	default:
		return "", fmt.Errorf("expression produced %T, not a number", v)
	}
}

// onlyDecimalPoints reports whether every '.' sits between digits and no other
// structural jq characters appear.
func onlyDecimalPoints(expr string) bool {
	if strings.ContainsAny(expr, "$\"[]{}") {
		return false
	}
	for i, r := range expr {
		if r != '.' {
			continue
		}
		if i == 0 || i == len(expr)-1 || !isDigit(expr[i-1]) || !isDigit(expr[i+1]) {
			return false
		}
	}
	return true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// cleanExpression strips code fences, a trailing question mark or equals sign.
func cleanExpression(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```jq")
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "?= ")
	return strings.TrimSpace(s)
}
