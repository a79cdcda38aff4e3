// Package app implements the talkingbot commands on top of the session controller.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gravicode/talkingbot/internal/audio"
	"github.com/gravicode/talkingbot/internal/cli"
	"github.com/gravicode/talkingbot/internal/config"
	"github.com/gravicode/talkingbot/internal/doctor"
	"github.com/gravicode/talkingbot/internal/eventlog"
	"github.com/gravicode/talkingbot/internal/ipc"
	"github.com/gravicode/talkingbot/internal/logging"
	"github.com/gravicode/talkingbot/internal/metrics"
	"github.com/gravicode/talkingbot/internal/pipeline"
	"github.com/gravicode/talkingbot/internal/session"
	"github.com/gravicode/talkingbot/internal/version"
)

const forwardTimeout = 220 * time.Millisecond

var (
	errNoDaemon     = errors.New("no running talkingbot daemon (start one with \"talkingbot serve\")")
	errDoctorFailed = errors.New("doctor checks failed")
	errNoDevices    = errors.New("no audio devices found")
)

// SessionBuilder assembles the controller configuration for one process.
type SessionBuilder func(cfg config.Config, feed *eventlog.Feed, logger *slog.Logger, m *metrics.Metrics) (session.Config, error)

// Runner executes commands against the given output streams.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// BuildSession defaults to pipeline.ControllerConfig.
	BuildSession SessionBuilder
}

// Execute runs args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

// Execute runs args and returns the process exit code: 0 on success, 1 when
// the command failed, 2 for usage errors.
func (r Runner) Execute(ctx context.Context, args []string) int {
	root := cli.NewRootCommand(r, version.String())
	root.SetArgs(args)
	root.SetOut(r.Stdout)
	root.SetErr(r.Stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	if cli.IsUsageError(err) {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cmd.UsageString())
		return 2
	}
	fmt.Fprintf(r.Stderr, "error: %v\n", err)
	return 1
}

// environment is the loaded config and logger shared by config-aware commands.
type environment struct {
	loaded  config.Loaded
	logger  *slog.Logger
	logPath string
	closer  func()
}

func (r Runner) setup(command string, opts cli.Options) (environment, error) {
	logRuntime, err := logging.New()
	if err != nil {
		return environment{}, fmt.Errorf("setup logging: %w", err)
	}

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	loaded, err := config.Load(opts.ConfigPath)
	if err != nil {
		logger.Error("load config failed", "error", err.Error())
		_ = logRuntime.Close()
		return environment{}, err
	}
	for _, w := range loaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", command,
		"config", loaded.Path,
		"log", logRuntime.Path,
		"transport", loaded.Config.Realtime.Transport,
	)

	return environment{
		loaded:  loaded,
		logger:  logger,
		logPath: logRuntime.Path,
		closer:  func() { _ = logRuntime.Close() },
	}, nil
}

func (e environment) close() {
	if e.closer != nil {
		e.closer()
	}
}

// Forward sends start or stop to the daemon.
func (r Runner) Forward(ctx context.Context, _ cli.Options, command string) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: command})
	if !handled {
		return errNoDaemon
	}
	if err != nil {
		return err
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return nil
}

// Status prints the daemon state, or idle when no daemon answers.
func (r Runner) Status(ctx context.Context, _ cli.Options) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return nil
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: "status"})
	if !handled {
		fmt.Fprintln(r.Stdout, "idle")
		return nil
	}
	if err != nil {
		return err
	}
	if resp.State == "" {
		resp.State = "idle"
	}
	if resp.SessionID != "" {
		fmt.Fprintf(r.Stdout, "%s (session %s)\n", resp.State, resp.SessionID)
		return nil
	}
	fmt.Fprintln(r.Stdout, resp.State)
	return nil
}

// Logs prints the daemon's recent event lines.
func (r Runner) Logs(ctx context.Context, opts cli.Options) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: "logs", Lines: opts.Lines})
	if !handled {
		return errNoDaemon
	}
	if err != nil {
		return err
	}
	for _, line := range resp.Lines {
		fmt.Fprintln(r.Stdout, line)
	}
	return nil
}

// Tools lists the enabled tools as the model sees them.
func (r Runner) Tools(_ context.Context, opts cli.Options) error {
	env, err := r.setup("tools", opts)
	if err != nil {
		return err
	}
	defer env.close()

	registry, err := pipeline.NewTools(env.loaded.Config, nil)
	if err != nil {
		return err
	}
	for _, d := range registry.Descriptors() {
		fmt.Fprintf(r.Stdout, "%-36s %s\n", d.Name, d.Description)
	}
	return nil
}

// Devices lists capture sources.
func (r Runner) Devices(ctx context.Context, _ cli.Options) error {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return errNoDevices
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}
	return nil
}

// Doctor prints the readiness report.
func (r Runner) Doctor(ctx context.Context, opts cli.Options) error {
	env, err := r.setup("doctor", opts)
	if err != nil {
		return err
	}
	defer env.close()

	report := doctor.Run(ctx, env.loaded)
	fmt.Fprintln(r.Stdout, report.String())
	if !report.OK() {
		return errDoctorFailed
	}
	return nil
}

// Version prints build information.
func (r Runner) Version(context.Context) error {
	fmt.Fprintln(r.Stdout, version.String())
	return nil
}

func tryForward(ctx context.Context, socketPath string, req ipc.Request) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.NoOwner(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}
