package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gravicode/talkingbot/internal/eventlog"
	"github.com/gravicode/talkingbot/internal/fsm"
	"github.com/gravicode/talkingbot/internal/realtime"
	"github.com/gravicode/talkingbot/internal/tools"
	"github.com/gravicode/talkingbot/internal/transcript"
)

// Outcome says why a dispatch loop ended.
type Outcome string

const (
	// OutcomeStopped means cancellation was observed.
	OutcomeStopped Outcome = "stopped"
	// OutcomeFailed means the backend reported an error.
	OutcomeFailed Outcome = "error"
	// OutcomeEnded means the update stream ended on its own.
	OutcomeEnded Outcome = "finished"
)

// Sink is the dispatcher's view of audio playback.
type Sink interface {
	Enqueue(chunk []byte) error
	ClearPlayback()
}

// Invoker runs tool calls by name. *tools.Registry satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, name string, rawArgs string) (tools.Result, error)
}

// Observer receives dispatch counters. *metrics.Metrics satisfies it.
type Observer interface {
	ObserveUpdate(kind string)
	ObserveBargeIn()
}

type noopObserver struct{}

func (noopObserver) ObserveUpdate(string) {}
func (noopObserver) ObserveBargeIn()      {}

// DispatcherConfig wires one dispatch loop.
type DispatcherConfig struct {
	Feed     *eventlog.Feed
	Logger   *slog.Logger
	Sink     Sink
	Tools    Invoker
	Observer Observer

	// RequestStop raises the session's cancellation signal.
	RequestStop func()
	// OnSessionStarted runs on the loop goroutine and must return promptly.
	OnSessionStarted func(realtime.SessionStarted)
	// OnState mirrors every state change.
	OnState func(fsm.State)
	// EchoDeltas publishes output fragments inline as they arrive.
	EchoDeltas bool
}

// Dispatcher consumes one session's update stream and drives its state machine.
// All of its fields are owned by the goroutine calling Run.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger *slog.Logger

	state  fsm.State
	output transcript.Buffer
}

// NewDispatcher builds a dispatcher in the awaiting_session_start state.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Feed == nil {
		cfg.Feed = eventlog.NewFeed(logger)
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.RequestStop == nil {
		cfg.RequestStop = func() {}
	}
	return &Dispatcher{
		cfg:    cfg,
		logger: logger,
		state:  fsm.StateAwaitingSessionStart,
	}
}

// State returns the loop's current state. Only meaningful on the loop goroutine
// or after Run returned.
func (d *Dispatcher) State() fsm.State {
	return d.state
}

// Run processes updates in arrival order until draining. Cancellation is checked
// once per update; a blocked read is only interrupted by the stream ending.
func (d *Dispatcher) Run(ctx context.Context, sess realtime.Session) Outcome {
	updates := sess.Updates()
	for {
		update, ok := <-updates
		if !ok {
			if ctx.Err() != nil {
				d.cfg.Feed.Log(" <<< Request to stop!")
				d.fire(fsm.EventDrain)
				return OutcomeStopped
			}
			d.logger.Info("update stream ended")
			d.fire(fsm.EventDrain)
			return OutcomeEnded
		}

		if outcome, done := d.Handle(ctx, sess, update); done {
			return outcome
		}
	}
}

// Handle applies one update. It reports true once the loop must stop.
func (d *Dispatcher) Handle(ctx context.Context, sess realtime.Session, update realtime.Update) (Outcome, bool) {
	d.cfg.Observer.ObserveUpdate(realtime.Kind(update))

	if started, ok := update.(realtime.SessionStarted); ok {
		d.fire(fsm.EventSessionStarted)
		d.cfg.Feed.Log(" <<< Connected: session started")
		if d.cfg.OnSessionStarted != nil {
			d.cfg.OnSessionStarted(started)
		}
	}

	if ctx.Err() != nil {
		d.cfg.Feed.Log(" <<< Request to stop!")
		d.fire(fsm.EventDrain)
		return OutcomeStopped, true
	}

	switch u := update.(type) {
	case realtime.SessionStarted:
		// Handled above.
	case realtime.SpeechStarted:
		d.cfg.Feed.Log(" <<< Start of speech detected")
		if d.cfg.Sink != nil {
			d.cfg.Sink.ClearPlayback()
		}
		d.cfg.Observer.ObserveBargeIn()
	case realtime.SpeechFinished:
		d.cfg.Feed.Log(" <<< End of speech detected")
	case realtime.InputTranscriptionFinished:
		if u.Transcript == "" {
			d.logger.Warn("skip empty input transcription", "item_id", u.ItemID)
			return "", false
		}
		d.cfg.Feed.Log(" >>> USER: " + u.Transcript)
	case realtime.OutputDelta:
		d.handleDelta(u)
	case realtime.ResponseFinished:
		d.handleResponseFinished(sess, u)
	case realtime.ToolCallFinished:
		d.handleToolCall(ctx, sess, u)
	case realtime.ErrorUpdate:
		d.cfg.Feed.Log(" <<< ERROR: " + u.Message)
		if len(u.Raw) > 0 {
			d.cfg.Feed.Log(string(u.Raw))
		}
		d.fire(fsm.EventDrain)
		return OutcomeFailed, true
	default:
		d.logger.Warn("skip unknown update", "type", fmt.Sprintf("%T", update))
	}

	if d.state == fsm.StateActive {
		d.fire(fsm.EventSessionStarted)
	}
	return "", false
}

func (d *Dispatcher) handleDelta(u realtime.OutputDelta) {
	if len(u.Audio) > 0 && d.cfg.Sink != nil {
		if err := d.cfg.Sink.Enqueue(u.Audio); err != nil {
			d.logger.Warn("drop output audio", "item_id", u.ItemID, "bytes", len(u.Audio), "error", err.Error())
		}
	}

	fragment := u.Fragment()
	if fragment == "" {
		return
	}
	d.output.Append(fragment)
	if d.cfg.EchoDeltas {
		d.cfg.Feed.Inline(fragment)
	}
}

func (d *Dispatcher) handleResponseFinished(sess realtime.Session, u realtime.ResponseFinished) {
	if text := d.output.Flush(); strings.TrimSpace(text) != "" {
		d.cfg.Feed.Log(text)
	}
	if !u.RequestsFollowUp() {
		return
	}
	if err := sess.StartResponse(); err != nil {
		d.cfg.Feed.Log(fmt.Sprintf(" <<< Unable to request follow-up response: %v", err))
	}
}

func (d *Dispatcher) handleToolCall(ctx context.Context, sess realtime.Session, u realtime.ToolCallFinished) {
	if u.Name == "" {
		d.logger.Warn("skip tool call without name", "call_id", u.CallID)
		return
	}
	d.cfg.Feed.Log(fmt.Sprintf("function call: %s => [%s]", u.Name, u.Arguments))

	if d.cfg.Tools == nil {
		d.cfg.Feed.Log(fmt.Sprintf(" <<< Tool %s failed: no tools configured", u.Name))
		return
	}
	result, err := d.cfg.Tools.Invoke(ctx, u.Name, u.Arguments)
	if err != nil {
		d.cfg.Feed.Log(fmt.Sprintf(" <<< Tool %s failed: %v", u.Name, err))
		return
	}

	if err := sess.AddToolResult(u.CallID, result.Output); err != nil {
		d.cfg.Feed.Log(fmt.Sprintf(" <<< Unable to submit %s result: %v", u.Name, err))
	}
	if result.EndConversation {
		d.cfg.Feed.Log(" <<< Finish tool invoked -- ending conversation!")
		d.cfg.RequestStop()
	}
}

// fire applies event; an invalid transition is logged and leaves the state as is.
func (d *Dispatcher) fire(event fsm.Event) {
	next, err := fsm.Transition(d.state, event)
	if err != nil {
		d.logger.Error("state transition rejected", "error", err.Error())
		return
	}
	changed := next != d.state
	d.state = next
	if changed && d.cfg.OnState != nil {
		d.cfg.OnState(next)
	}
}
