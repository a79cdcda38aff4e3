package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

type jsoncConfig struct {
	Realtime *jsoncRealtime `json:"realtime"`
	Session  *jsoncSession  `json:"session"`
	Audio    *jsoncAudio    `json:"audio"`
	Tools    *jsoncTools    `json:"tools"`
	Metrics  *jsoncMetrics  `json:"metrics"`
	Debug    *jsoncDebug    `json:"debug"`
}

type jsoncRealtime struct {
	Transport     *string     `json:"transport"`
	Endpoint      *string     `json:"endpoint"`
	Model         *string     `json:"model"`
	APIKeyEnv     *string     `json:"api_key_env"`
	DialTimeoutMS *int        `json:"dial_timeout_ms"`
	Relay         *jsoncRelay `json:"relay"`
}

type jsoncRelay struct {
	Addr *string `json:"addr"`
	TLS  *bool   `json:"tls"`
}

type jsoncSession struct {
	Instructions       *string `json:"instructions"`
	Voice              *string `json:"voice"`
	TranscriptionModel *string `json:"transcription_model"`
	StopGraceMS        *int    `json:"stop_grace_ms"`
	EchoDeltas         *bool   `json:"echo_deltas"`
}

type jsoncAudio struct {
	Backend   *string `json:"backend"`
	Input     *string `json:"input"`
	Fallback  *string `json:"fallback"`
	Output    *string `json:"output"`
	Sink      *string `json:"sink"`
	PlayerCmd *string `json:"player_cmd"`
}

type jsoncTools struct {
	Enable *jsoncStringList `json:"enable"`
	Math   *jsoncMath       `json:"math"`
}

type jsoncMath struct {
	Model    *string `json:"model"`
	Endpoint *string `json:"endpoint"`
}

type jsoncMetrics struct {
	Addr *string `json:"addr"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
	EventDump *bool `json:"event_dump"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if rt := payload.Realtime; rt != nil {
		setTrimmed(&cfg.Realtime.Transport, rt.Transport)
		setTrimmed(&cfg.Realtime.Endpoint, rt.Endpoint)
		setTrimmed(&cfg.Realtime.Model, rt.Model)
		setTrimmed(&cfg.Realtime.APIKeyEnv, rt.APIKeyEnv)
		if rt.DialTimeoutMS != nil {
			cfg.Realtime.DialTimeoutMS = *rt.DialTimeoutMS
		}
		if rt.Relay != nil {
			setTrimmed(&cfg.Realtime.Relay.Addr, rt.Relay.Addr)
			if rt.Relay.TLS != nil {
				cfg.Realtime.Relay.TLS = *rt.Relay.TLS
			}
		}
	}

	if s := payload.Session; s != nil {
		if s.Instructions != nil {
			cfg.Session.Instructions = *s.Instructions
		}
		setTrimmed(&cfg.Session.Voice, s.Voice)
		setTrimmed(&cfg.Session.TranscriptionModel, s.TranscriptionModel)
		if s.StopGraceMS != nil {
			cfg.Session.StopGraceMS = *s.StopGraceMS
		}
		if s.EchoDeltas != nil {
			cfg.Session.EchoDeltas = *s.EchoDeltas
		}
	}

	if a := payload.Audio; a != nil {
		setTrimmed(&cfg.Audio.Backend, a.Backend)
		if a.Input != nil {
			cfg.Audio.Input = *a.Input
		}
		if a.Fallback != nil {
			cfg.Audio.Fallback = *a.Fallback
		}
		setTrimmed(&cfg.Audio.Output, a.Output)
		setTrimmed(&cfg.Audio.Sink, a.Sink)
		if a.PlayerCmd != nil {
			raw := *a.PlayerCmd
			argv, err := splitArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid audio.player_cmd: %w", err)
			}
			cfg.Audio.PlayerCmd = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if t := payload.Tools; t != nil {
		if t.Enable != nil {
			cfg.Tools.Enable = make([]string, 0, len(*t.Enable))
			for _, name := range *t.Enable {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				cfg.Tools.Enable = append(cfg.Tools.Enable, name)
			}
		}
		if t.Math != nil {
			setTrimmed(&cfg.Tools.Math.Model, t.Math.Model)
			setTrimmed(&cfg.Tools.Math.Endpoint, t.Math.Endpoint)
		}
	}

	if payload.Metrics != nil {
		setTrimmed(&cfg.Metrics.Addr, payload.Metrics.Addr)
	}

	if payload.Debug != nil {
		if payload.Debug.AudioDump != nil {
			cfg.Debug.EnableAudioDump = *payload.Debug.AudioDump
		}
		if payload.Debug.EventDump != nil {
			cfg.Debug.EnableEventDump = *payload.Debug.EventDump
		}
	}

	return warnings, nil
}

func setTrimmed(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}
