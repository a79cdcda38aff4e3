package audio

// framer cuts an arbitrary byte stream into frameBytes chunks.
type framer struct {
	pending []byte
}

// push appends b and returns every complete frame now available.
func (f *framer) push(b []byte) [][]byte {
	f.pending = append(f.pending, b...)
	if len(f.pending) < frameBytes {
		return nil
	}
	frames := make([][]byte, 0, len(f.pending)/frameBytes)
	for len(f.pending) >= frameBytes {
		frames = append(frames, append([]byte(nil), f.pending[:frameBytes]...))
		f.pending = f.pending[frameBytes:]
	}
	f.pending = append([]byte(nil), f.pending...)
	return frames
}

// flush returns the incomplete tail, if any, and resets the framer.
func (f *framer) flush() []byte {
	tail := f.pending
	f.pending = nil
	if len(tail) == 0 {
		return nil
	}
	return tail
}
