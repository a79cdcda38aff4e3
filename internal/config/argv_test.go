package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitArgv(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr string
	}{
		{name: "empty", input: "  ", want: nil},
		{name: "pacat", input: "pacat --raw --format=s16le --rate=24000 --channels=1", want: []string{"pacat", "--raw", "--format=s16le", "--rate=24000", "--channels=1"}},
		{name: "double quotes", input: `ffplay -window_title "talking bot" -`, want: []string{"ffplay", "-window_title", "talking bot", "-"}},
		{name: "single quotes", input: `sh -c 'aplay -q'`, want: []string{"sh", "-c", "aplay -q"}},
		{name: "escaped space", input: `/opt/my\ player -q`, want: []string{"/opt/my player", "-q"}},
		{name: "disabled", input: `# aplay -q`, want: nil},
		{name: "unterminated quote", input: `aplay "oops`, wantErr: "unterminated quote"},
		{name: "unterminated escape", input: `aplay -q\`, wantErr: "unterminated escape"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := splitArgv(tc.input)
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

func TestMustSplitArgvPanicsOnInvalidInput(t *testing.T) {
	require.Panics(t, func() {
		_ = mustSplitArgv(`aplay "unterminated`)
	})
}
