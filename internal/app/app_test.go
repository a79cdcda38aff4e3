package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravicode/talkingbot/internal/config"
	"github.com/gravicode/talkingbot/internal/eventlog"
	"github.com/gravicode/talkingbot/internal/ipc"
	"github.com/gravicode/talkingbot/internal/metrics"
	"github.com/gravicode/talkingbot/internal/realtime"
	"github.com/gravicode/talkingbot/internal/session"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "talkingbot")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoDaemon(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no running talkingbot daemon")
}

func TestRunnerForwardsCommandsToDaemon(t *testing.T) {
	paths := setupRunnerEnv(t)
	requests := make(chan ipc.Request, 8)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "talkingbot.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: "active", Running: true, SessionID: "sess_1"}
		case "start", "stop":
			return ipc.Response{OK: true, Message: req.Command + " requested"}
		case "logs":
			return ipc.Response{OK: true, Lines: []string{"one", "two"}}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	outputs := map[string]string{}
	for _, args := range [][]string{{"status"}, {"start"}, {"stop"}, {"logs", "--lines", "2"}} {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner := Runner{Stdout: stdout, Stderr: stderr}

		exitCode := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		require.Equal(t, 0, exitCode, args)
		require.Empty(t, stderr.String(), args)
		outputs[args[0]] = stdout.String()
	}

	require.Equal(t, "active (session sess_1)\n", outputs["status"])
	require.Equal(t, "start requested\n", outputs["start"])
	require.Equal(t, "stop requested\n", outputs["stop"])
	require.Equal(t, "one\ntwo\n", outputs["logs"])

	var got []string
	var lines int
	for i := 0; i < 4; i++ {
		req := <-requests
		got = append(got, req.Command)
		if req.Command == "logs" {
			lines = req.Lines
		}
	}
	require.ElementsMatch(t, []string{"status", "start", "stop", "logs"}, got)
	require.Equal(t, 2, lines)
}

func TestRunnerForwardSurfacesDaemonRefusal(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "talkingbot.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: false, Error: "already running"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "start"})
	require.Equal(t, 1, exitCode)
	require.Equal(t, "error: already running\n", stderr.String())
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "talkingbot.sock")

	shutdown := startIPCServerForRunnerTest(t, socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: "idle"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"})
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "idle", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.Request{Command: "dance"})
	require.True(t, handled)
	require.ErrorContains(t, err, "unsupported")
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "talkingbot.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"})
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "talkingbot.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"})
	require.True(t, handled)
	require.ErrorContains(t, err, "forward command \"status\":")

	<-done
	require.NoError(t, listener.Close())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("OPENAI_ENDPOINT", "http://127.0.0.1:1/v1")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "[OK] OPENAI_API_KEY: set (sk-te**)")
	require.Contains(t, stdout.String(), "[FAIL] realtime.ready")
	require.Contains(t, stderr.String(), "doctor checks failed")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerToolsListsEnabledTools(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, os.WriteFile(paths.configPath, []byte(`{
  // offered to the model
  "tools": {"enable": ["user_wants_to_finish_conversation", "get_current_utc_time"]},
}`), 0o600))

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "tools"})
	require.Equal(t, 0, exitCode)
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "user_wants_to_finish_conversation"))
	require.True(t, strings.HasPrefix(lines[1], "get_current_utc_time"))
}

func TestRunnerRunPrintsConversationAndCleansUpSocket(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{
		Stdout:       &stdout,
		Stderr:       &stderr,
		BuildSession: failingSession(errors.New("dial refused")),
	}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "run"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stdout.String(), " * Connecting to endpoint (OPENAI_ENDPOINT): http://relay.test")
	require.Contains(t, stdout.String(), " <<< ERROR: dial refused")
	require.Contains(t, stdout.String(), "Conversation is finished.")

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "talkingbot.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerRunRefusesWhenDaemonOwnsSocket(t *testing.T) {
	paths := setupRunnerEnv(t)
	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "talkingbot.sock"), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "idle"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr, BuildSession: failingSession(errors.New("unused"))}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "run"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "talkingbot daemon already running")
}

func TestRunnerServeControlsConversationsOverIPC(t *testing.T) {
	paths := setupRunnerEnv(t)
	socketPath := filepath.Join(paths.runtimeDir, "talkingbot.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	daemon := Runner{
		Stdout:       &bytes.Buffer{},
		Stderr:       &bytes.Buffer{},
		BuildSession: failingSession(errors.New("dial refused")),
	}
	done := make(chan int, 1)
	go func() {
		done <- daemon.Execute(ctx, []string{"--config", paths.configPath, "serve"})
	}()

	require.Eventually(t, func() bool {
		alive, _ := ipc.Probe(context.Background(), socketPath, 50*time.Millisecond)
		return alive
	}, 3*time.Second, 10*time.Millisecond)

	client := func(args ...string) (int, string) {
		var stdout bytes.Buffer
		runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}
		code := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		return code, stdout.String()
	}

	code, out := client("status")
	require.Equal(t, 0, code)
	require.Equal(t, "idle\n", out)

	code, out = client("start")
	require.Equal(t, 0, code)
	require.Equal(t, "start requested\n", out)

	require.Eventually(t, func() bool {
		_, out := client("status")
		return out == "terminated\n"
	}, 3*time.Second, 10*time.Millisecond)

	code, out = client("logs", "--lines", "0")
	require.Equal(t, 0, code)
	require.Contains(t, out, "=>  <<< ERROR: dial refused")
	require.Contains(t, out, "=> Conversation is finished.")

	cancel()
	select {
	case code := <-done:
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not exit")
	}

	_, statErr := os.Stat(socketPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestWriteEventDumpSkipsInlineFragments(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "events-*.log")
	require.NoError(t, err)

	stamp := time.Date(2024, 11, 30, 9, 15, 0, 0, time.UTC)
	events := make(chan eventlog.Event, 3)
	events <- eventlog.Event{Time: stamp, Message: " >>> USER: halo", NewLine: true}
	events <- eventlog.Event{Time: stamp, Message: "Hal"}
	events <- eventlog.Event{Time: stamp, NewLine: true}
	close(events)

	require.NoError(t, writeEventDump(f, events))
	require.NoError(t, f.Close())

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "30-Nov-24 09:15:00 =>  >>> USER: halo", lines[0])
}

func failingSession(dialErr error) SessionBuilder {
	return func(cfg config.Config, feed *eventlog.Feed, logger *slog.Logger, m *metrics.Metrics) (session.Config, error) {
		return session.Config{
			Dialer: realtime.DialerFunc(func(context.Context, realtime.SessionConfig) (realtime.Session, error) {
				return nil, dialErr
			}),
			Feed:     feed,
			Logger:   logger,
			Endpoint: "http://relay.test",
			APIKey:   "sk-test",
		}, nil
	}
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	xdgStateHome := t.TempDir()
	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_ENDPOINT", "")
	t.Setenv("OPENAI_MODEL", "")
	t.Chdir(t.TempDir())

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte("\n"), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
