package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

const (
	// SampleRate is the PCM rate used in both directions.
	SampleRate = 24000
	// frameBytes is 20ms of mono s16 audio at SampleRate.
	frameBytes = SampleRate / 50 * 2
)

// Player drains a Queue to an output device until ctx ends or the queue closes.
type Player interface {
	Play(ctx context.Context, q *Queue) error
}

// Source is a running microphone capture.
type Source interface {
	Chunks() <-chan []byte
	Stop() error
}

// drain copies queued chunks to write one frame at a time and abandons the rest
// of a chunk as soon as playback is cleared.
func drain(ctx context.Context, q *Queue, write func([]byte) error) error {
	for {
		chunk, gen, err := q.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		for off := 0; off < len(chunk); off += frameBytes {
			if q.Generation() != gen {
				break
			}
			end := min(off+frameBytes, len(chunk))
			if err := write(chunk[off:end]); err != nil {
				return err
			}
		}
	}
}

// CommandPlayer pipes raw PCM into an external program such as aplay.
type CommandPlayer struct {
	Argv []string
}

// Play starts the command and feeds it until ctx ends or the queue closes.
func (p CommandPlayer) Play(ctx context.Context, q *Queue) error {
	if len(p.Argv) == 0 {
		return errors.New("player command is empty")
	}

	cmd := exec.CommandContext(ctx, p.Argv[0], p.Argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player %q: %w", p.Argv[0], err)
	}

	werr := drain(ctx, q, func(frame []byte) error {
		_, err := stdin.Write(frame)
		return err
	})
	_ = stdin.Close()

	err = cmd.Wait()
	if werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
		return fmt.Errorf("write to player: %w", werr)
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("player %q: %w", p.Argv[0], err)
	}
	return nil
}

// WriterPlayer plays into any io.Writer, mostly for tests and dumps.
type WriterPlayer struct {
	W io.Writer
}

func (p WriterPlayer) Play(ctx context.Context, q *Queue) error {
	return drain(ctx, q, func(frame []byte) error {
		_, err := p.W.Write(frame)
		return err
	})
}
