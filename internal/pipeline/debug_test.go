package pipeline

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	chunks  chan []byte
	stopped atomic.Bool
}

func (f *fakeSource) Chunks() <-chan []byte { return f.chunks }

func (f *fakeSource) Stop() error {
	if f.stopped.CompareAndSwap(false, true) {
		close(f.chunks)
	}
	return nil
}

func TestRecordingSourceForwardsAndDumpsWAV(t *testing.T) {
	xdgStateHome := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)

	src := &fakeSource{chunks: make(chan []byte, 4)}
	rec := newRecordingSource(src, nil)

	src.chunks <- []byte{0x01, 0x00}
	src.chunks <- []byte{0x02, 0x00}
	require.Equal(t, []byte{0x01, 0x00}, receive(t, rec.Chunks()))
	require.Equal(t, []byte{0x02, 0x00}, receive(t, rec.Chunks()))

	require.NoError(t, rec.Stop())
	require.NoError(t, rec.Stop())
	require.True(t, src.stopped.Load())

	matches, err := filepath.Glob(filepath.Join(xdgStateHome, "talkingbot", "debug", "audio-*.wav"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x00, 0x02, 0x00}, data[44:])
}

func TestRecordingSourceSkipsEmptyDump(t *testing.T) {
	xdgStateHome := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)

	rec := newRecordingSource(&fakeSource{chunks: make(chan []byte)}, nil)
	require.NoError(t, rec.Stop())

	matches, err := filepath.Glob(filepath.Join(xdgStateHome, "talkingbot", "debug", "audio-*.wav"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case chunk := <-ch:
		return chunk
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chunk")
		return nil
	}
}
