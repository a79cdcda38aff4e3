// Package eventlog is the conversation's observable log stream. Producers never
// block on it and it works with no subscribers at all.
package eventlog

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeLayout = "02-Jan-06 15:04:05"
	separator  = "---------------"

	// DefaultHistory is how many events Recent can return.
	DefaultHistory = 500
)

// Event is one log record. NewLine events are whole timestamped lines; an
// empty NewLine message is a separator. Inline events are raw text fragments.
type Event struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	NewLine bool      `json:"new_line"`
}

// Line renders the event the way the console shows it, without a trailing newline.
func (e Event) Line() string {
	if !e.NewLine {
		return e.Message
	}
	if e.Message == "" {
		return separator
	}
	return e.Time.Format(timeLayout) + " => " + e.Message
}

// Feed fans events out to subscribers and keeps a bounded history.
type Feed struct {
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
	ring   []Event
	start  int
	size   int

	dropped atomic.Uint64
}

// Option customizes a Feed.
type Option func(*Feed)

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) {
		if now != nil {
			f.now = now
		}
	}
}

// WithHistory sets how many events are retained for Recent.
func WithHistory(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.ring = make([]Event, n)
		}
	}
}

// NewFeed builds a feed that mirrors every event to logger. A nil logger discards.
func NewFeed(logger *slog.Logger, opts ...Option) *Feed {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	f := &Feed{
		logger: logger.With("component", "eventlog"),
		now:    time.Now,
		subs:   make(map[uint64]chan Event),
		ring:   make([]Event, DefaultHistory),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Log publishes a timestamped line.
func (f *Feed) Log(message string) {
	f.Publish(Event{Time: f.now(), Message: message, NewLine: true})
}

// Separator publishes a separator line.
func (f *Feed) Separator() {
	f.Publish(Event{Time: f.now(), NewLine: true})
}

// Inline publishes a raw fragment with no timestamp or line break.
func (f *Feed) Inline(fragment string) {
	f.Publish(Event{Time: f.now(), Message: fragment})
}

// Publish records ev and offers it to every subscriber without blocking.
func (f *Feed) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = f.now()
	}
	if ev.NewLine {
		f.logger.Info(ev.Message, "event_time", ev.Time)
	} else {
		f.logger.Debug("inline fragment", "text", ev.Message)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.record(ev)
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			f.dropped.Add(1)
		}
	}
}

// Subscribe registers a listener with the given buffer. Events that do not fit
// are dropped for that listener only. cancel closes the channel.
func (f *Feed) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Recent returns up to n of the latest events, oldest first. n <= 0 returns all retained.
func (f *Feed) Recent(n int) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n <= 0 || n > f.size {
		n = f.size
	}
	out := make([]Event, 0, n)
	for i := f.size - n; i < f.size; i++ {
		out = append(out, f.ring[(f.start+i)%len(f.ring)])
	}
	return out
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}

func (f *Feed) record(ev Event) {
	if len(f.ring) == 0 {
		return
	}
	if f.size < len(f.ring) {
		f.ring[(f.start+f.size)%len(f.ring)] = ev
		f.size++
		return
	}
	f.ring[f.start] = ev
	f.start = (f.start + 1) % len(f.ring)
}
