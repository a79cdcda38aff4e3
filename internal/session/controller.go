// Package session runs one voice conversation at a time on behalf of a Controller.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gravicode/talkingbot/internal/audio"
	"github.com/gravicode/talkingbot/internal/eventlog"
	"github.com/gravicode/talkingbot/internal/fsm"
	"github.com/gravicode/talkingbot/internal/ipc"
	"github.com/gravicode/talkingbot/internal/realtime"
)

// ToolSet is the controller's view of the tool registry.
type ToolSet interface {
	Invoker
	Descriptors() []realtime.ToolDescriptor
}

// Recorder receives session metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	Observer
	SessionStarted()
	SessionEnded(reason string, elapsed time.Duration)
}

type noopRecorder struct{ noopObserver }

func (noopRecorder) SessionStarted()                    {}
func (noopRecorder) SessionEnded(string, time.Duration) {}

// Config wires a Controller.
type Config struct {
	Dialer  realtime.Dialer
	Session realtime.SessionConfig
	Tools   ToolSet

	// NewSource opens the microphone once the backend confirmed the session.
	NewSource func(ctx context.Context) (audio.Source, error)
	Player    audio.Player

	Feed    *eventlog.Feed
	Logger  *slog.Logger
	Metrics Recorder

	// Endpoint and APIKey are only echoed (masked) to the event stream.
	Endpoint string
	APIKey   string

	// StopGrace bounds how long a stop waits for the next update before the
	// transport is closed. Zero disables it.
	StopGrace  time.Duration
	EchoDeltas bool
}

// Controller owns at most one live conversation.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	feed   *eventlog.Feed
	rec    Recorder

	mu        sync.RWMutex
	state     fsm.State
	cancel    context.CancelFunc
	done      chan struct{}
	runID     string
	sessionID string
}

// NewController constructs a controller in the idle state.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	feed := cfg.Feed
	if feed == nil {
		feed = eventlog.NewFeed(logger)
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = noopRecorder{}
	}

	done := make(chan struct{})
	close(done)
	return &Controller{
		cfg:    cfg,
		logger: logger.With("component", "session"),
		feed:   feed,
		rec:    rec,
		state:  fsm.StateIdle,
		done:   done,
	}
}

// Feed returns the event stream the controller publishes to.
func (c *Controller) Feed() *eventlog.Feed {
	return c.feed
}

// State returns the current state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsRunning reports whether a session is established and its loop is processing updates.
func (c *Controller) IsRunning() bool {
	return c.State() == fsm.StateActive
}

// SessionID returns the backend session id of the current or last conversation.
func (c *Controller) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Done is closed once the current conversation terminated.
func (c *Controller) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Wait blocks until the current conversation terminated or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches a conversation in the background. It reports false and logs
// when one is already live.
func (c *Controller) Start() bool {
	c.mu.Lock()
	if c.state.Live() {
		c.mu.Unlock()
		c.feed.Log("Bot is already running..")
		return false
	}
	next, err := fsm.Transition(c.state, fsm.EventStart)
	if err != nil {
		c.mu.Unlock()
		c.logger.Error("start rejected", "error", err.Error())
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	runID := uuid.NewString()
	c.state = next
	c.cancel = cancel
	c.done = done
	c.runID = runID
	c.sessionID = ""
	c.mu.Unlock()

	go c.run(ctx, cancel, done, runID)
	return true
}

// Stop requests the live conversation to end. It reports false and logs when
// there is nothing to stop.
func (c *Controller) Stop() bool {
	c.mu.RLock()
	state := c.state
	cancel := c.cancel
	c.mu.RUnlock()

	if state != fsm.StateAwaitingSessionStart && state != fsm.StateActive {
		c.feed.Log("Bot is not running.. cannot stop")
		return false
	}
	c.feed.Log("Trying to stop bot..")
	cancel()
	return true
}

// Handle serves IPC commands.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case "status":
		return c.response(true, "status")
	case "start":
		if !c.Start() {
			resp := c.response(false, "")
			resp.Error = "already running"
			return resp
		}
		return c.response(true, "start requested")
	case "stop":
		if !c.Stop() {
			resp := c.response(false, "")
			resp.Error = "not running"
			return resp
		}
		return c.response(true, "stop requested")
	case "logs":
		events := c.feed.Recent(req.Lines)
		lines := make([]string, 0, len(events))
		for _, ev := range events {
			lines = append(lines, ev.Line())
		}
		resp := c.response(true, "logs")
		resp.Lines = lines
		return resp
	default:
		resp := c.response(false, "")
		resp.Error = fmt.Sprintf("unknown command: %s", req.Command)
		return resp
	}
}

func (c *Controller) response(ok bool, message string) ipc.Response {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ipc.Response{
		OK:        ok,
		State:     string(c.state),
		Running:   c.state == fsm.StateActive,
		SessionID: c.sessionID,
		Message:   message,
	}
}

// setState mirrors a dispatcher state change unless a newer run took over.
func (c *Controller) setState(runID string, state fsm.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runID != runID {
		return
	}
	c.state = state
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, runID string) {
	logger := c.logger.With("run_id", runID)
	started := time.Now()
	outcome := OutcomeFailed

	defer func() {
		if r := recover(); r != nil {
			logger.Error("session task panicked", "panic", fmt.Sprint(r))
			c.feed.Log(fmt.Sprintf(" <<< ERROR: %v", r))
			outcome = OutcomeFailed
		}
		cancel()
		c.finish(runID, logger)
		close(done)
	}()

	c.feed.Log(" * Connecting to endpoint (OPENAI_ENDPOINT): " + c.cfg.Endpoint)
	c.feed.Log(" * Using API key (OPENAI_API_KEY): " + MaskKey(c.cfg.APIKey))

	sc := c.cfg.Session
	if c.cfg.Tools != nil {
		sc.Tools = c.cfg.Tools.Descriptors()
	}
	if c.cfg.Dialer == nil {
		c.feed.Log(" <<< ERROR: no realtime transport configured")
		return
	}
	sess, err := c.cfg.Dialer.Dial(ctx, sc)
	if err != nil {
		if ctx.Err() != nil {
			c.feed.Log(" <<< Request to stop!")
		} else {
			c.feed.Log(fmt.Sprintf(" <<< ERROR: %v", err))
		}
		logger.Error("dial realtime session", "error", err.Error())
		return
	}

	c.rec.SessionStarted()
	defer func() {
		c.rec.SessionEnded(string(outcome), time.Since(started))
	}()

	queue := audio.NewQueue()
	auxCtx, stopAux := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(auxCtx)
	loopDone := make(chan struct{})

	// Teardown runs on both the normal and the panic path.
	defer func() {
		close(loopDone)
		if err := sess.Close(); err != nil {
			logger.Debug("close realtime session", "error", err.Error())
		}
		stopAux()
		queue.Close()
		_ = g.Wait()
	}()

	if c.cfg.Player != nil {
		g.Go(func() error {
			if err := c.cfg.Player.Play(gctx, queue); err != nil {
				logger.Error("audio playback failed", "error", err.Error())
				c.feed.Log(fmt.Sprintf(" <<< Audio playback failed: %v", err))
			}
			return nil
		})
	}

	if c.cfg.StopGrace > 0 {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-ctx.Done():
			}
			select {
			case <-gctx.Done():
			case <-loopDone:
			case <-time.After(c.cfg.StopGrace):
				logger.Info("stop grace elapsed, closing transport")
				_ = sess.Close()
			}
			return nil
		})
	}

	var captureOnce sync.Once
	startCapture := func(started realtime.SessionStarted) {
		c.mu.Lock()
		if c.runID == runID {
			c.sessionID = started.SessionID
		}
		c.mu.Unlock()
		logger.Info("session started", "session_id", started.SessionID)

		captureOnce.Do(func() {
			g.Go(func() error {
				c.pumpCapture(gctx, ctx, cancel, sess, logger)
				return nil
			})
		})
	}

	dispatcher := NewDispatcher(DispatcherConfig{
		Feed:             c.feed,
		Logger:           logger,
		Sink:             queue,
		Tools:            c.cfg.Tools,
		Observer:         c.rec,
		RequestStop:      cancel,
		OnSessionStarted: startCapture,
		OnState:          func(s fsm.State) { c.setState(runID, s) },
		EchoDeltas:       c.cfg.EchoDeltas,
	})
	outcome = dispatcher.Run(ctx, sess)
}

// pumpCapture opens the microphone and forwards chunks until either context ends.
func (c *Controller) pumpCapture(
	auxCtx context.Context,
	sessCtx context.Context,
	cancel context.CancelFunc,
	sess realtime.Session,
	logger *slog.Logger,
) {
	if c.cfg.NewSource == nil {
		logger.Warn("no audio source configured")
		return
	}
	src, err := c.cfg.NewSource(auxCtx)
	if err != nil {
		logger.Error("open audio source", "error", err.Error())
		c.feed.Log(fmt.Sprintf(" <<< ERROR: unable to open microphone: %v", err))
		cancel()
		return
	}
	defer func() {
		if err := src.Stop(); err != nil {
			logger.Debug("stop audio source", "error", err.Error())
		}
	}()

	c.feed.Log(" >>> Listening to microphone input")
	c.feed.Log(" >>> (Just tell the app you're done to finish)")
	c.feed.Separator()

	chunks := src.Chunks()
	for {
		select {
		case <-auxCtx.Done():
			return
		case <-sessCtx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if err := sess.SendAudio(chunk); err != nil {
				if errors.Is(err, context.Canceled) || sessCtx.Err() != nil {
					return
				}
				logger.Warn("send audio chunk", "bytes", len(chunk), "error", err.Error())
			}
		}
	}
}

// finish moves the run to terminated and emits the closing line.
func (c *Controller) finish(runID string, logger *slog.Logger) {
	c.mu.Lock()
	if c.runID == runID {
		if c.state != fsm.StateDraining {
			if next, err := fsm.Transition(c.state, fsm.EventDrain); err == nil {
				c.state = next
			}
		}
		next, err := fsm.Transition(c.state, fsm.EventTerminate)
		if err != nil {
			logger.Error("terminate rejected", "error", err.Error())
			next = fsm.StateTerminated
		}
		c.state = next
	}
	c.mu.Unlock()
	c.feed.Log("Conversation is finished.")
}

// MaskKey keeps the first five characters of key.
func MaskKey(key string) string {
	if len(key) <= 5 {
		return key + "**"
	}
	return key[:5] + "**"
}
