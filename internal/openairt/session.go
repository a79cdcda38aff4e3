// Package openairt connects to an OpenAI realtime endpoint over WebSocket.
package openairt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gravicode/talkingbot/internal/realtime"
	"github.com/gravicode/talkingbot/internal/realtime/wire"
)

const (
	updateBuffer = 100
	writeTimeout = 5 * time.Second
)

var errSessionClosed = errors.New("realtime session closed")

// Config controls how sessions are dialed.
type Config struct {
	Endpoint    string
	APIKey      string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// Dialer opens WebSocket realtime sessions.
type Dialer struct {
	cfg Config
}

// NewDialer constructs a dialer; a nil logger discards transport logs.
func NewDialer(cfg Config) *Dialer {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Dialer{cfg: cfg}
}

// Dial connects, sends the session configuration, and starts the read loop.
func (d *Dialer) Dial(ctx context.Context, sc realtime.SessionConfig) (realtime.Session, error) {
	target, err := RealtimeURL(d.cfg.Endpoint, sc.Model)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: d.cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, target, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect realtime endpoint: HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect realtime endpoint: %w", err)
	}

	s := &session{
		conn:    conn,
		logger:  d.cfg.Logger,
		updates: make(chan realtime.Update, updateBuffer),
		closeCh: make(chan struct{}),
	}

	if err := s.send(wire.SessionUpdate(sc)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session configuration: %w", err)
	}

	go s.readLoop()
	return s, nil
}

// RealtimeURL derives the WebSocket URL from an API base or realtime endpoint.
//
// https://api.openai.com/v1 becomes wss://api.openai.com/v1/realtime?model=<model>.
func RealtimeURL(endpoint string, model string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", errors.New("realtime endpoint is empty")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse realtime endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported realtime endpoint scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(u.Path, "/realtime") {
		u.Path += "/realtime"
	}
	if model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	updates   chan realtime.Update
	closeCh   chan struct{}
	closeOnce sync.Once

	mu sync.Mutex
}

func (s *session) Updates() <-chan realtime.Update {
	return s.updates
}

func (s *session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	return s.send(wire.AudioAppend(chunk))
}

func (s *session) AddToolResult(callID, output string) error {
	return s.send(wire.ToolOutput(callID, output))
}

func (s *session) StartResponse() error {
	return s.send(wire.ResponseCreate())
}

// Close stops the read loop and closes the socket. Safe to call more than once.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)

		s.mu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.mu.Unlock()

		err = s.conn.Close()
	})
	return err
}

func (s *session) send(event map[string]any) error {
	select {
	case <-s.closeCh:
		return errSessionClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.logger.Enabled(context.Background(), slog.LevelDebug) {
		s.logger.Debug("realtime send", "type", event["type"], "event_id", event["event_id"])
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return s.conn.WriteJSON(event)
}

// readLoop decodes server events until the socket fails or Close is called.
func (s *session) readLoop() {
	defer close(s.updates)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Info("realtime stream closed by server")
				return
			}
			s.push(realtime.ErrorUpdate{
				Code:    "connection_lost",
				Message: fmt.Sprintf("connection lost: %v", err),
			})
			return
		}

		update, ok, err := wire.Decode(message)
		if err != nil {
			s.logger.Warn("skip malformed realtime event", "error", err.Error(), "len", len(message))
			continue
		}
		if !ok {
			continue
		}
		if !s.push(update) {
			return
		}
	}
}

func (s *session) push(update realtime.Update) bool {
	select {
	case <-s.closeCh:
		return false
	case s.updates <- update:
		return true
	}
}
