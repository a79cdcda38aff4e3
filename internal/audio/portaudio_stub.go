//go:build !portaudio

package audio

import (
	"context"
	"errors"
)

// PortAudioAvailable reports whether this binary was built with PortAudio.
const PortAudioAvailable = false

var errNoPortAudio = errors.New("portaudio backend not compiled in (build with -tags portaudio)")

// PortAudioPlayer is unavailable without the portaudio build tag.
type PortAudioPlayer struct{}

func (PortAudioPlayer) Play(context.Context, *Queue) error {
	return errNoPortAudio
}

// StartPortAudioCapture is unavailable without the portaudio build tag.
func StartPortAudioCapture(context.Context) (Source, error) {
	return nil, errNoPortAudio
}
