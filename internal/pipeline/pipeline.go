// Package pipeline assembles the transport, audio, and tool collaborators of a
// conversation from runtime configuration.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gravicode/talkingbot/internal/audio"
	"github.com/gravicode/talkingbot/internal/config"
	"github.com/gravicode/talkingbot/internal/eventlog"
	"github.com/gravicode/talkingbot/internal/metrics"
	"github.com/gravicode/talkingbot/internal/openairt"
	"github.com/gravicode/talkingbot/internal/realtime"
	"github.com/gravicode/talkingbot/internal/relay"
	"github.com/gravicode/talkingbot/internal/session"
	"github.com/gravicode/talkingbot/internal/tools"
)

// ControllerConfig builds a fully wired session.Config. m may be nil.
func ControllerConfig(cfg config.Config, feed *eventlog.Feed, logger *slog.Logger, m *metrics.Metrics) (session.Config, error) {
	dialer, err := NewDialer(cfg, logger)
	if err != nil {
		return session.Config{}, err
	}
	player, err := NewPlayer(cfg)
	if err != nil {
		return session.Config{}, err
	}

	var rec tools.Recorder
	if m != nil {
		rec = m
	}
	registry, err := NewTools(cfg, rec)
	if err != nil {
		return session.Config{}, err
	}

	out := session.Config{
		Dialer: dialer,
		Session: realtime.SessionConfig{
			Model:              cfg.Realtime.Model,
			Instructions:       cfg.Session.Instructions,
			Voice:              cfg.Session.Voice,
			TranscriptionModel: cfg.Session.TranscriptionModel,
		},
		Tools:      registry,
		NewSource:  NewSourceFactory(cfg, logger),
		Player:     player,
		Feed:       feed,
		Logger:     logger,
		Endpoint:   endpointLabel(cfg),
		APIKey:     cfg.APIKey,
		StopGrace:  time.Duration(cfg.Session.StopGraceMS) * time.Millisecond,
		EchoDeltas: cfg.Session.EchoDeltas,
	}
	if m != nil {
		out.Metrics = m
	}
	return out, nil
}

// NewDialer returns the realtime transport selected by realtime.transport.
func NewDialer(cfg config.Config, logger *slog.Logger) (realtime.Dialer, error) {
	timeout := time.Duration(cfg.Realtime.DialTimeoutMS) * time.Millisecond
	switch cfg.Realtime.Transport {
	case config.TransportWebSocket, "":
		return openairt.NewDialer(openairt.Config{
			Endpoint:    cfg.Realtime.Endpoint,
			APIKey:      cfg.APIKey,
			DialTimeout: timeout,
			Logger:      logger,
		}), nil
	case config.TransportRelay:
		return relay.NewDialer(relay.Config{
			Endpoint:    cfg.Realtime.Relay.Addr,
			APIKey:      cfg.APIKey,
			TLS:         cfg.Realtime.Relay.TLS,
			DialTimeout: timeout,
			Logger:      logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported realtime transport %q", cfg.Realtime.Transport)
	}
}

// NewPlayer returns the playback backend selected by audio.output. "none" yields nil.
func NewPlayer(cfg config.Config) (audio.Player, error) {
	switch cfg.Audio.Output {
	case config.OutputPulse, "":
		return audio.PulsePlayer{Sink: cfg.Audio.Sink}, nil
	case config.OutputCommand:
		if len(cfg.Audio.PlayerCmd.Argv) == 0 {
			return nil, fmt.Errorf("audio.player_cmd is required when audio.output is %q", config.OutputCommand)
		}
		return audio.CommandPlayer{Argv: cfg.Audio.PlayerCmd.Argv}, nil
	case config.OutputPortAudio:
		return audio.PortAudioPlayer{}, nil
	case config.OutputNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported audio output %q", cfg.Audio.Output)
	}
}

// NewTools builds the registry of enabled builtin tools. rec may be nil.
func NewTools(cfg config.Config, rec tools.Recorder) (*tools.Registry, error) {
	var translator tools.Translator
	if cfg.APIKey != "" && cfg.Tools.Math.Model != "" {
		translator = tools.NewOpenAITranslator(cfg.APIKey, mathEndpoint(cfg), cfg.Tools.Math.Model)
	}

	builtins, err := tools.Builtins(cfg.Tools.Enable, tools.BuiltinOptions{Translator: translator})
	if err != nil {
		return nil, err
	}

	var opts []tools.Option
	if rec != nil {
		opts = append(opts, tools.WithRecorder(rec))
	}
	return tools.NewRegistry(builtins, opts...)
}

// NewSourceFactory returns the microphone opener for audio.backend.
func NewSourceFactory(cfg config.Config, logger *slog.Logger) func(context.Context) (audio.Source, error) {
	return func(ctx context.Context) (audio.Source, error) {
		var (
			src audio.Source
			err error
		)
		switch cfg.Audio.Backend {
		case config.BackendPortAudio:
			src, err = audio.StartPortAudioCapture(ctx)
		default:
			src, err = startPulseCapture(ctx, cfg, logger)
		}
		if err != nil {
			return nil, err
		}
		if cfg.Debug.EnableAudioDump {
			return newRecordingSource(src, logger), nil
		}
		return src, nil
	}
}

func startPulseCapture(ctx context.Context, cfg config.Config, logger *slog.Logger) (audio.Source, error) {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" && logger != nil {
		logger.Warn(selection.Warning)
	}

	capture, err := audio.StartCapture(ctx, selection.Device)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("audio capture started", "device", describeDevice(selection.Device))
	}
	return capture, nil
}

// describeDevice formats device metadata for logs.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}

func endpointLabel(cfg config.Config) string {
	if cfg.Realtime.Transport == config.TransportRelay {
		return cfg.Realtime.Relay.Addr
	}
	return cfg.Realtime.Endpoint
}

func mathEndpoint(cfg config.Config) string {
	if cfg.Tools.Math.Endpoint != "" {
		return cfg.Tools.Math.Endpoint
	}
	if cfg.Realtime.Transport == config.TransportRelay {
		return ""
	}
	return cfg.Realtime.Endpoint
}
