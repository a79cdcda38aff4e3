package audio

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFramerCutsWholeFrames(t *testing.T) {
	var f framer
	require.Nil(t, f.push(make([]byte, frameBytes-1)))

	frames := f.push(make([]byte, frameBytes+3))
	require.Len(t, frames, 2)
	for _, frame := range frames {
		require.Len(t, frame, frameBytes)
	}
	require.Len(t, f.flush(), 2)
	require.Nil(t, f.flush())
}

func TestCaptureFramesAndFlushesTailOnStop(t *testing.T) {
	c := newCapture(Device{ID: "mic-1"})

	input := make([]byte, frameBytes+111)
	for i := range input {
		input[i] = byte(i % 251)
	}

	n, err := c.onPCM(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Equal(t, int64(len(input)), c.BytesCaptured())

	first := <-c.Chunks()
	require.Equal(t, input[:frameBytes], first)

	require.NoError(t, c.Stop())
	tail, ok := <-c.Chunks()
	require.True(t, ok)
	require.Equal(t, input[frameBytes:], tail)

	_, ok = <-c.Chunks()
	require.False(t, ok)
	require.NoError(t, c.Stop())
}

func TestCaptureRejectsWritesAfterStop(t *testing.T) {
	c := newCapture(Device{ID: "mic-1"})
	require.Equal(t, "mic-1", c.Device().ID)
	require.NoError(t, c.Stop())

	n, err := c.onPCM([]byte{1, 2, 3})
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
	require.Zero(t, c.BytesCaptured())

	n, err = c.onPCM(nil)
	require.Zero(t, n)
	require.NoError(t, err)
}

func TestWriterFuncDelegatesWrite(t *testing.T) {
	var got []byte
	w := writerFunc(func(b []byte) (int, error) {
		got = b
		return len(b), nil
	})

	n, err := w.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte{1, 2, 3}, got)
}
