// Package doctor runs runtime readiness diagnostics for config, audio, and the realtime backend.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gravicode/talkingbot/internal/audio"
	"github.com/gravicode/talkingbot/internal/config"
	"github.com/gravicode/talkingbot/internal/relay"
	"github.com/gravicode/talkingbot/internal/session"
)

const probeTimeout = 3 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: message})

	checks = append(checks, checkAPIKey(cfg.Config))
	checks = append(checks, checkAudio(ctx, cfg.Config))
	if cfg.Config.Audio.Output == config.OutputCommand {
		checks = append(checks, checkCommand(cfg.Config.Audio.PlayerCmd.Argv, "player_cmd"))
	}

	switch cfg.Config.Realtime.Transport {
	case config.TransportRelay:
		checks = append(checks, checkRelayReady(ctx, cfg.Config))
	default:
		checks = append(checks, checkEndpointReady(ctx, cfg.Config))
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkAPIKey reports whether the configured key variable resolved to a value.
func checkAPIKey(cfg config.Config) Check {
	name := cfg.Realtime.APIKeyEnv
	if cfg.APIKey != "" {
		return Check{Name: name, Pass: true, Message: "set (" + session.MaskKey(cfg.APIKey) + ")"}
	}
	return checkEnv(name, func(v string) bool { return strings.TrimSpace(v) != "" },
		"set", fmt.Sprintf("%s is empty", name))
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

func checkAudio(ctx context.Context, cfg config.Config) Check {
	if cfg.Audio.Backend == config.BackendPortAudio {
		if !audio.PortAudioAvailable {
			return Check{Name: "audio.device", Pass: false, Message: "portaudio backend not compiled in (build with -tags portaudio)"}
		}
		return Check{Name: "audio.device", Pass: true, Message: "portaudio default input"}
	}
	return checkAudioSelection(ctx, cfg)
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkEndpointReady lists models on the HTTP endpoint to prove reachability and credentials.
func checkEndpointReady(ctx context.Context, cfg config.Config) Check {
	base := strings.TrimSpace(cfg.Realtime.Endpoint)
	if base == "" {
		return Check{Name: "realtime.ready", Pass: false, Message: "endpoint is empty"}
	}
	base = strings.Replace(base, "wss://", "https://", 1)
	base = strings.Replace(base, "ws://", "http://", 1)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	url := strings.TrimRight(base, "/") + "/models"
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Check{Name: "realtime.ready", Pass: false, Message: fmt.Sprintf("build request: %v", err)}
	}
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: "realtime.ready", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Check{Name: "realtime.ready", Pass: false, Message: fmt.Sprintf("HTTP %d from %s (check %s)", resp.StatusCode, url, cfg.Realtime.APIKeyEnv)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Check{Name: "realtime.ready", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}
	return Check{Name: "realtime.ready", Pass: true, Message: fmt.Sprintf("reachable at %s", url)}
}

// checkRelayReady waits for the relay's gRPC channel to become ready.
func checkRelayReady(ctx context.Context, cfg config.Config) Check {
	addr := strings.TrimSpace(cfg.Realtime.Relay.Addr)
	if addr == "" {
		return Check{Name: "relay.ready", Pass: false, Message: "relay address is empty"}
	}
	dialer := relay.NewDialer(relay.Config{
		Endpoint:    addr,
		TLS:         cfg.Realtime.Relay.TLS,
		DialTimeout: probeTimeout,
	})
	if err := dialer.Probe(ctx); err != nil {
		return Check{Name: "relay.ready", Pass: false, Message: err.Error()}
	}
	return Check{Name: "relay.ready", Pass: true, Message: fmt.Sprintf("ready at %s", addr)}
}
