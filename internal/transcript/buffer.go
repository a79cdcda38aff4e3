// Package transcript accumulates streamed response text into whole turns.
package transcript

import "strings"

// Buffer accumulates the output fragments of one response turn.
// It is owned by a single goroutine and is not safe for concurrent use.
type Buffer struct {
	b     strings.Builder
	parts int
}

// Append adds one fragment. Empty fragments are ignored.
func (t *Buffer) Append(fragment string) {
	if fragment == "" {
		return
	}
	t.b.WriteString(fragment)
	t.parts++
}

// Len reports the buffered byte length.
func (t *Buffer) Len() int {
	return t.b.Len()
}

// Fragments reports how many fragments were appended since the last flush.
func (t *Buffer) Fragments() int {
	return t.parts
}

// Flush returns the turn text exactly as streamed and empties the buffer.
func (t *Buffer) Flush() string {
	text := t.b.String()
	t.b.Reset()
	t.parts = 0
	return text
}
