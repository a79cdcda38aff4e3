//go:build portaudio

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = frameBytes / 2

// PortAudioAvailable reports whether this binary was built with PortAudio.
const PortAudioAvailable = true

// PortAudioPlayer plays the queue through the default PortAudio output device.
type PortAudioPlayer struct{}

func (PortAudioPlayer) Play(ctx context.Context, q *Queue) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	out := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(SampleRate), framesPerBuffer, out)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	defer stream.Stop()

	return drain(ctx, q, func(frame []byte) error {
		clear(out)
		for i := 0; i+1 < len(frame) && i/2 < len(out); i += 2 {
			out[i/2] = int16(binary.LittleEndian.Uint16(frame[i:]))
		}
		return stream.Write()
	})
}

// PortAudioCapture reads the default PortAudio input device.
type PortAudioCapture struct {
	stream *portaudio.Stream
	chunks chan []byte
	stopCh chan struct{}

	once sync.Once
	wg   sync.WaitGroup
}

// StartPortAudioCapture opens the default input at SampleRate and starts reading.
func StartPortAudioCapture(ctx context.Context) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	in := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(SampleRate), framesPerBuffer, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	c := &PortAudioCapture{
		stream: stream,
		chunks: make(chan []byte, 128),
		stopCh: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop(in)

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop()
		case <-c.stopCh:
		}
	}()
	return c, nil
}

func (c *PortAudioCapture) Chunks() <-chan []byte {
	return c.chunks
}

// Stop halts the stream and closes Chunks exactly once.
func (c *PortAudioCapture) Stop() error {
	c.once.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
		_ = c.stream.Stop()
		_ = c.stream.Close()
		portaudio.Terminate()
		close(c.chunks)
	})
	return nil
}

func (c *PortAudioCapture) readLoop(in []int16) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		if err := c.stream.Read(); err != nil {
			continue
		}
		chunk := make([]byte, len(in)*2)
		for i, s := range in {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(s))
		}
		select {
		case <-c.stopCh:
			return
		case c.chunks <- chunk:
		}
	}
}
