package audio

import (
	"context"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// PulsePlayer plays the queue through a Pulse playback stream.
type PulsePlayer struct {
	// Sink is a sink name; empty or "default" uses the server default.
	Sink string
}

// Play opens the stream and keeps it running until ctx ends or the queue closes.
func (p PulsePlayer) Play(ctx context.Context, q *Queue) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("talkingbot"),
		pulse.ClientApplicationIconName("audio-speakers"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	opts := []pulse.PlaybackOption{
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(SampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackMediaName("talkingbot voice"),
	}
	if name := strings.TrimSpace(p.Sink); name != "" && name != "default" {
		sink, err := client.SinkByID(name)
		if err != nil {
			return fmt.Errorf("resolve sink %q: %w", name, err)
		}
		opts = append(opts, pulse.PlaybackSink(sink))
	}

	reader := &pullReader{q: q}
	stream, err := client.NewPlayback(pulse.NewReader(reader, pulseproto.FormatInt16LE), opts...)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	select {
	case <-ctx.Done():
	case <-q.Done():
	}
	stream.Stop()
	return stream.Error()
}

// pullReader feeds Pulse from the queue and pads with silence when it runs dry.
// Pulse calls Read from its own goroutine only.
type pullReader struct {
	q   *Queue
	cur []byte
	gen uint64
}

func (r *pullReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.cur) > 0 && r.q.Generation() != r.gen {
			r.cur = nil
		}
		if len(r.cur) == 0 {
			chunk, gen, ok := r.q.TryNext()
			if !ok {
				break
			}
			r.cur, r.gen = chunk, gen
		}
		c := copy(p[n:], r.cur)
		r.cur = r.cur[c:]
		n += c
	}
	clear(p[n:])
	return len(p), nil
}
