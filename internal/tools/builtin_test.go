package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTranslator struct {
	expr  string
	err   error
	calls []string
}

func (f *fakeTranslator) Translate(_ context.Context, question string) (string, error) {
	f.calls = append(f.calls, question)
	return f.expr, f.err
}

func TestCurrentTimeFormatsUTC(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	now := func() time.Time { return time.Date(2024, 11, 9, 16, 30, 0, 0, jakarta) }

	reg, err := NewRegistry([]Tool{CurrentTime(now)})
	require.NoError(t, err)

	result, err := reg.Invoke(context.Background(), CurrentTimeName, "{}")
	require.NoError(t, err)
	require.Equal(t, "Sat, 09 Nov 2024 09:30:00 GMT", result.Output)
	require.False(t, result.EndConversation)
}

func TestFinishConversationEndsSession(t *testing.T) {
	reg, err := NewRegistry([]Tool{FinishConversation()})
	require.NoError(t, err)

	result, err := reg.Invoke(context.Background(), FinishConversationName, "{}")
	require.NoError(t, err)
	require.True(t, result.EndConversation)
}

func TestMathEvaluatesPlainArithmeticWithoutTranslator(t *testing.T) {
	translator := &fakeTranslator{}
	reg, err := NewRegistry([]Tool{Math(translator)})
	require.NoError(t, err)

	result, err := reg.Invoke(context.Background(), MathName, `{"math_question":"12 * (3 + 4)?"}`)
	require.NoError(t, err)
	require.Equal(t, "84", result.Output)
	require.Empty(t, translator.calls)
}

func TestMathTranslatesNaturalLanguage(t *testing.T) {
	translator := &fakeTranslator{expr: "```jq\n(144 | sqrt) + 1\n```"}
	reg, err := NewRegistry([]Tool{Math(translator)})
	require.NoError(t, err)

	result, err := reg.Invoke(context.Background(), MathName, `{"math_question":"berapa akar dari 144 ditambah satu"}`)
	require.NoError(t, err)
	require.Equal(t, "13", result.Output)
	require.Equal(t, []string{"berapa akar dari 144 ditambah satu"}, translator.calls)
}

func TestMathSurfacesTranslatorFailure(t *testing.T) {
	reg, err := NewRegistry([]Tool{Math(&fakeTranslator{err: errors.New("quota")})})
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), MathName, `{"math_question":"half of ten"}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "quota")
}

func TestMathWithoutTranslatorRejectsWords(t *testing.T) {
	_, err := Solve(context.Background(), nil, "half of ten")
	require.ErrorIs(t, err, errNoTranslator)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr    string
		want    string
		wantErr string
	}{
		{expr: "2 + 3 * 4", want: "14"},
		{expr: "7 / 2", want: "3.5"},
		{expr: "10 % 4", want: "2"},
		{expr: "pow(2; 10)", want: "1024"},
		{expr: "(2.5 * 4) | floor", want: "10"},
		{expr: "1 / 0", wantErr: `"1 / 0"`},
		{expr: "env", wantErr: "unsupported function"},
		{expr: "input_filename", wantErr: "unsupported function"},
		{expr: ".", wantErr: "not arithmetic"},
		{expr: "[1]", wantErr: "not arithmetic"},
		{expr: "(1 +", wantErr: "parse expression"},
	}

	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := Evaluate(context.Background(), tc.expr)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestBuiltinsSelection(t *testing.T) {
	all, err := Builtins(nil, BuiltinOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	some, err := Builtins([]string{CurrentTimeName}, BuiltinOptions{})
	require.NoError(t, err)
	require.Len(t, some, 1)
	require.Equal(t, CurrentTimeName, some[0].Name)

	_, err = Builtins([]string{"launch_rockets"}, BuiltinOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "launch_rockets")
}
