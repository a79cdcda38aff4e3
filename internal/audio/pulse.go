// Package audio handles device discovery, microphone capture, and the playback
// queue with its output players.
package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const captureBuffer = 128

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("talkingbot"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// Capture records mono s16 PCM at SampleRate from one Pulse source and emits
// it in 20ms frames.
type Capture struct {
	device Device
	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte
	done   chan struct{}

	// mu guards frames and closed. writes tracks onPCM calls in flight so
	// Stop never closes chunks under a sender.
	mu     sync.Mutex
	frames framer
	closed bool
	writes sync.WaitGroup

	captured atomic.Int64
}

// StartCapture opens a record stream on device. The capture stops itself when
// ctx ends.
func StartCapture(ctx context.Context, device Device) (*Capture, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	source, err := client.SourceByID(device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", device.ID, err)
	}

	c := newCapture(device)
	c.client = client
	stream, err := client.NewRecord(
		pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatInt16LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(frameBytes),
		pulse.RecordMediaName("talkingbot microphone"),
	)
	if err != nil {
		_ = c.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	c.stream = stream
	stream.Start()

	context.AfterFunc(ctx, func() { _ = c.Stop() })
	return c, nil
}

func newCapture(device Device) *Capture {
	return &Capture{
		device: device,
		chunks: make(chan []byte, captureBuffer),
		done:   make(chan struct{}),
	}
}

// Device returns the source being recorded.
func (c *Capture) Device() Device {
	return c.device
}

// Chunks yields frames until Stop. The last chunk may be shorter than a frame.
func (c *Capture) Chunks() <-chan []byte {
	return c.chunks
}

// BytesCaptured reports the PCM bytes received from Pulse so far.
func (c *Capture) BytesCaptured() int64 {
	return c.captured.Load()
}

// Stop ends the stream, emits any partial frame, and closes Chunks. It is safe
// to call more than once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
	c.writes.Wait()

	c.mu.Lock()
	tail := c.frames.flush()
	c.mu.Unlock()
	if tail != nil {
		select {
		case c.chunks <- tail:
		default:
		}
	}
	close(c.chunks)
	return nil
}

func (c *Capture) onPCM(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, io.EOF
	}
	c.writes.Add(1)
	frames := c.frames.push(buf)
	c.mu.Unlock()
	defer c.writes.Done()

	c.captured.Add(int64(len(buf)))
	for _, frame := range frames {
		select {
		case <-c.done:
			return 0, io.EOF
		case c.chunks <- frame:
		}
	}
	return len(buf), nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
