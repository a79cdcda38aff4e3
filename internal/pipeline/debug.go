package pipeline

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gravicode/talkingbot/internal/audio"
)

// recordingSource tees captured PCM into memory and writes it as a WAV file on Stop.
type recordingSource struct {
	src    audio.Source
	logger *slog.Logger

	out  chan []byte
	stop chan struct{}
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	pcm []byte
}

func newRecordingSource(src audio.Source, logger *slog.Logger) *recordingSource {
	r := &recordingSource{
		src:    src,
		logger: logger,
		out:    make(chan []byte, 128),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.forward()
	return r
}

func (r *recordingSource) Chunks() <-chan []byte {
	return r.out
}

func (r *recordingSource) Stop() error {
	var err error
	r.once.Do(func() {
		close(r.stop)
		err = r.src.Stop()
		<-r.done
		r.writeDump()
	})
	return err
}

func (r *recordingSource) forward() {
	defer close(r.done)
	defer close(r.out)
	in := r.src.Chunks()
	for {
		select {
		case <-r.stop:
			return
		case chunk, ok := <-in:
			if !ok {
				return
			}
			r.mu.Lock()
			r.pcm = append(r.pcm, chunk...)
			r.mu.Unlock()
			select {
			case r.out <- chunk:
			case <-r.stop:
				return
			}
		}
	}
}

func (r *recordingSource) writeDump() {
	r.mu.Lock()
	pcm := r.pcm
	r.pcm = nil
	r.mu.Unlock()
	if len(pcm) == 0 {
		return
	}

	file, err := createDebugFile("audio", "wav")
	if err != nil {
		r.logWarn(fmt.Sprintf("unable to create debug audio dump: %v", err))
		return
	}
	defer file.Close()

	if err := writePCM16WAV(file, pcm, audio.SampleRate, 1); err != nil {
		r.logWarn(fmt.Sprintf("unable to write debug audio dump: %v", err))
		return
	}
	if r.logger != nil {
		r.logger.Info("wrote debug audio dump", "path", file.Name(), "bytes", len(pcm))
	}
}

func (r *recordingSource) logWarn(message string) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(message)
}

// createDebugFile creates timestamped debug artifacts under state/talkingbot/debug.
func createDebugFile(prefix string, extension string) (*os.File, error) {
	stateDir, err := resolveStateDir()
	if err != nil {
		return nil, err
	}
	debugDir := filepath.Join(stateDir, "talkingbot", "debug")
	if err := os.MkdirAll(debugDir, 0o700); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405.000")
	path := filepath.Join(debugDir, fmt.Sprintf("%s-%s.%s", prefix, timestamp, extension))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug file %q: %w", path, err)
	}
	return file, nil
}

// resolveStateDir returns XDG_STATE_HOME fallback path for debug artifacts.
func resolveStateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return xdg, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for state: %w", err)
	}
	return filepath.Join(home, ".local", "state"), nil
}

// writePCM16WAV writes raw little-endian PCM bytes with a minimal WAV header.
func writePCM16WAV(file *os.File, pcm []byte, sampleRate int, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	byteRate := sampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, 44)
	copy(header[0:4], []byte("RIFF"))
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], []byte("WAVE"))
	copy(header[12:16], []byte("fmt "))
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], []byte("data"))
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := file.Write(header); err != nil {
		return err
	}
	_, err := file.Write(pcm)
	return err
}
