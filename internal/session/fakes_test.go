package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gravicode/talkingbot/internal/audio"
	"github.com/gravicode/talkingbot/internal/eventlog"
	"github.com/gravicode/talkingbot/internal/fsm"
	"github.com/gravicode/talkingbot/internal/realtime"
	"github.com/gravicode/talkingbot/internal/tools"
)

type toolResult struct {
	callID string
	output string
}

type fakeSession struct {
	updates   chan realtime.Update
	closeOnce sync.Once

	mu         sync.Mutex
	audio      [][]byte
	results    []toolResult
	responses  int
	closeCalls atomic.Int32

	addErr          error
	panicOnResponse bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{updates: make(chan realtime.Update, 64)}
}

func (f *fakeSession) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), chunk...))
	return nil
}

func (f *fakeSession) Updates() <-chan realtime.Update {
	return f.updates
}

func (f *fakeSession) AddToolResult(callID, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.results = append(f.results, toolResult{callID: callID, output: output})
	return nil
}

func (f *fakeSession) StartResponse() error {
	if f.panicOnResponse {
		panic("response.create rejected")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses++
	return nil
}

func (f *fakeSession) Close() error {
	f.closeCalls.Add(1)
	f.end()
	return nil
}

func (f *fakeSession) push(updates ...realtime.Update) {
	for _, u := range updates {
		f.updates <- u
	}
}

func (f *fakeSession) end() {
	f.closeOnce.Do(func() { close(f.updates) })
}

func (f *fakeSession) toolResults() []toolResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]toolResult(nil), f.results...)
}

func (f *fakeSession) responseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responses
}

func (f *fakeSession) sentAudio() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.audio...)
}

type fakeSink struct {
	mu      sync.Mutex
	chunks  [][]byte
	clears  int
	failing bool
}

func (s *fakeSink) Enqueue(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("sink closed")
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *fakeSink) ClearPlayback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.chunks = nil
}

// blockingPlayer holds until playback is torn down.
type blockingPlayer struct {
	returned atomic.Bool
}

func (p *blockingPlayer) Play(ctx context.Context, q *audio.Queue) error {
	defer p.returned.Store(true)
	select {
	case <-ctx.Done():
	case <-q.Done():
	}
	return nil
}

type fakeDialer struct {
	sess  *fakeSession
	err   error
	dials atomic.Int32
	cfg   chan realtime.SessionConfig
}

func (d *fakeDialer) Dial(_ context.Context, cfg realtime.SessionConfig) (realtime.Session, error) {
	d.dials.Add(1)
	if d.cfg != nil {
		d.cfg <- cfg
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

type fakeSource struct {
	chunks  chan []byte
	stopped atomic.Bool
}

func (s *fakeSource) Chunks() <-chan []byte { return s.chunks }

func (s *fakeSource) Stop() error {
	s.stopped.Store(true)
	return nil
}

func newTestFeed() *eventlog.Feed {
	return eventlog.NewFeed(nil, eventlog.WithHistory(1000))
}

func messages(feed *eventlog.Feed) []string {
	var out []string
	for _, ev := range feed.Recent(0) {
		out = append(out, ev.Message)
	}
	return out
}

func countMessage(feed *eventlog.Feed, msg string) int {
	n := 0
	for _, m := range messages(feed) {
		if m == msg {
			n++
		}
	}
	return n
}

func echoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	type echoArgs struct {
		Text string `json:"text"`
	}
	echo := tools.MustNew("echo", "Echo text back", func(_ context.Context, args echoArgs) (tools.Result, error) {
		return tools.Result{Output: args.Text}, nil
	})
	reg, err := tools.NewRegistry([]tools.Tool{echo, tools.FinishConversation()})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func waitForState(t *testing.T, ctrl *Controller, want fsm.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s (current=%s)", want, ctrl.State())
}
