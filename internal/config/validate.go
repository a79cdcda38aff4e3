package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

var knownVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	switch cfg.Realtime.Transport {
	case TransportWebSocket:
		if strings.TrimSpace(cfg.Realtime.Endpoint) == "" {
			return nil, fmt.Errorf("realtime.endpoint must not be empty")
		}
		u, err := url.Parse(cfg.Realtime.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("realtime.endpoint: %w", err)
		}
		switch u.Scheme {
		case "https", "wss":
		case "http", "ws":
			warnings = append(warnings, Warning{Message: fmt.Sprintf("realtime.endpoint %q is not encrypted; the API key is sent in clear text", cfg.Realtime.Endpoint)})
		default:
			return nil, fmt.Errorf("realtime.endpoint must use http, https, ws, or wss")
		}
	case TransportRelay:
		if strings.TrimSpace(cfg.Realtime.Relay.Addr) == "" {
			return nil, fmt.Errorf("realtime.relay.addr must not be empty when realtime.transport=relay")
		}
	default:
		return nil, fmt.Errorf("realtime.transport must be one of: websocket, relay")
	}
	if strings.TrimSpace(cfg.Realtime.Model) == "" {
		return nil, fmt.Errorf("realtime.model must not be empty")
	}
	if strings.TrimSpace(cfg.Realtime.APIKeyEnv) == "" {
		return nil, fmt.Errorf("realtime.api_key_env must not be empty")
	}
	if cfg.Realtime.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("realtime.dial_timeout_ms must be > 0")
	}

	if strings.TrimSpace(cfg.Session.Voice) == "" {
		return nil, fmt.Errorf("session.voice must not be empty")
	}
	if !slices.Contains(knownVoices, cfg.Session.Voice) {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("session.voice %q is not a known voice; the backend may reject it", cfg.Session.Voice)})
	}
	if strings.TrimSpace(cfg.Session.TranscriptionModel) == "" {
		return nil, fmt.Errorf("session.transcription_model must not be empty")
	}
	if cfg.Session.StopGraceMS < 0 {
		return nil, fmt.Errorf("session.stop_grace_ms must be >= 0")
	}
	if strings.TrimSpace(cfg.Session.Instructions) == "" {
		warnings = append(warnings, Warning{Message: "session.instructions is empty; the model runs without a persona"})
	}

	switch cfg.Audio.Backend {
	case BackendPulse, BackendPortAudio:
	default:
		return nil, fmt.Errorf("audio.backend must be one of: pulse, portaudio")
	}
	switch cfg.Audio.Output {
	case OutputPulse, OutputPortAudio, OutputNone:
	case OutputCommand:
		if len(cfg.Audio.PlayerCmd.Argv) == 0 {
			return nil, fmt.Errorf("audio.player_cmd must not be empty when audio.output=command")
		}
	default:
		return nil, fmt.Errorf("audio.output must be one of: pulse, command, portaudio, none")
	}

	seen := make(map[string]bool, len(cfg.Tools.Enable))
	for _, name := range cfg.Tools.Enable {
		if seen[name] {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("tools.enable lists %q more than once", name)})
		}
		seen[name] = true
	}

	if addr := strings.TrimSpace(cfg.Metrics.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("metrics.addr: %w", err)
		}
	}

	return warnings, nil
}
