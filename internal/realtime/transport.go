package realtime

import (
	"context"
	"encoding/json"
)

// ToolDescriptor declares one callable tool to the backend.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// SessionConfig is the payload used to establish a session.
type SessionConfig struct {
	Model              string
	Instructions       string
	Voice              string
	TranscriptionModel string
	Tools              []ToolDescriptor
}

// Dialer establishes conversation sessions with a backend.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(context.Context, SessionConfig) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, cfg SessionConfig) (Session, error) {
	return f(ctx, cfg)
}

// Session is one established bidirectional conversation stream.
//
// Updates returns the same channel on every call. It yields updates in arrival order
// and is closed when the stream ends, either naturally or after Close. A read failure
// is delivered as an ErrorUpdate before the channel closes.
type Session interface {
	SendAudio(chunk []byte) error
	Updates() <-chan Update
	AddToolResult(callID, output string) error
	StartResponse() error
	Close() error
}
