// Package relay speaks the realtime event vocabulary over a gRPC bidi stream of
// google.protobuf.Struct frames, for backends fronted by a relay sidecar.
package relay

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/gravicode/talkingbot/internal/realtime"
	"github.com/gravicode/talkingbot/internal/realtime/wire"
)

const (
	// ServiceName is the relay's gRPC service.
	ServiceName = "talkingbot.relay.v1.Relay"
	// ConverseMethod is the full method name of the bidi conversation stream.
	ConverseMethod = "/" + ServiceName + "/Converse"

	updateBuffer = 100
)

// ConverseStreamDesc describes the conversation stream for both client and server.
var ConverseStreamDesc = grpc.StreamDesc{
	StreamName:    "Converse",
	ServerStreams: true,
	ClientStreams: true,
}

var errSessionClosed = errors.New("relay session closed")

// Config controls relay dialing.
type Config struct {
	Endpoint    string
	APIKey      string
	TLS         bool
	DialTimeout time.Duration
	Logger      *slog.Logger
	DialOptions []grpc.DialOption
}

// Dialer opens relay sessions.
type Dialer struct {
	cfg Config
}

// NewDialer constructs a relay dialer.
func NewDialer(cfg Config) *Dialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dialer{cfg: cfg}
}

// Dial connects, waits for readiness, opens the stream, and sends the configuration.
func (d *Dialer) Dial(ctx context.Context, sc realtime.SessionConfig) (realtime.Session, error) {
	conn, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	// The stream outlives the dial context; Close cancels it.
	streamCtx, cancelStream := context.WithCancel(context.Background())
	pairs := []string{"x-realtime-model", sc.Model}
	if d.cfg.APIKey != "" {
		pairs = append(pairs, "authorization", "Bearer "+d.cfg.APIKey)
	}
	streamCtx = metadata.AppendToOutgoingContext(streamCtx, pairs...)

	stream, err := openStreamWithTimeout(ctx, d.cfg.DialTimeout, func() (grpc.ClientStream, error) {
		return conn.NewStream(streamCtx, &ConverseStreamDesc, ConverseMethod)
	})
	if err != nil {
		cancelStream()
		_ = conn.Close()
		return nil, fmt.Errorf("open relay stream: %w", err)
	}

	s := &session{
		conn:    conn,
		stream:  stream,
		cancel:  cancelStream,
		logger:  d.cfg.Logger,
		updates: make(chan realtime.Update, updateBuffer),
		closeCh: make(chan struct{}),
	}

	frame, err := EncodeFrame(wire.SessionUpdate(sc))
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := runWithTimeout(ctx, d.cfg.DialTimeout, func() error { return stream.SendMsg(frame) }); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("send session configuration: %w", err)
	}

	go s.recvLoop()
	return s, nil
}

// Probe connects and waits for readiness without opening a conversation.
func (d *Dialer) Probe(ctx context.Context) error {
	conn, err := d.connect(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// connect opens a client connection and waits until it is Ready.
func (d *Dialer) connect(ctx context.Context) (*grpc.ClientConn, error) {
	endpoint := strings.TrimSpace(d.cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("relay endpoint is empty")
	}

	creds := insecure.NewCredentials()
	if d.cfg.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, d.cfg.DialOptions...)

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial relay grpc %q: %w", endpoint, err)
	}

	readyCtx, cancelReady := context.WithTimeout(ctx, d.cfg.DialTimeout)
	defer cancelReady()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for relay readiness: %w", err)
	}
	return conn, nil
}

// EncodeFrame converts a realtime event into a Struct frame.
func EncodeFrame(event map[string]any) (*structpb.Struct, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode relay frame: %w", err)
	}
	frame := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("encode relay frame: %w", err)
	}
	return frame, nil
}

// DecodeFrame converts a Struct frame back into its JSON event form.
func DecodeFrame(frame *structpb.Struct) ([]byte, error) {
	raw, err := protojson.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("decode relay frame: %w", err)
	}
	return raw, nil
}

type session struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
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

// Close half-closes the stream, cancels it, and releases the connection.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)

		s.mu.Lock()
		_ = s.stream.CloseSend()
		s.mu.Unlock()

		s.cancel()
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

	frame, err := EncodeFrame(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.SendMsg(frame)
}

// recvLoop forwards decoded frames until the stream ends or fails.
func (s *session) recvLoop() {
	defer close(s.updates)

	for {
		frame := &structpb.Struct{}
		err := s.stream.RecvMsg(frame)
		if errors.Is(err, io.EOF) {
			s.logger.Info("relay stream closed by server")
			return
		}
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			s.push(realtime.ErrorUpdate{
				Code:    "relay_" + strings.ToLower(status.Code(err).String()),
				Message: fmt.Sprintf("relay stream failed: %s", status.Convert(err).Message()),
			})
			return
		}

		raw, err := DecodeFrame(frame)
		if err != nil {
			s.logger.Warn("skip undecodable relay frame", "error", err.Error())
			continue
		}
		update, ok, err := wire.Decode(raw)
		if err != nil {
			s.logger.Warn("skip malformed relay event", "error", err.Error())
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

// IsUnavailable reports whether err means the relay could not be reached.
func IsUnavailable(err error) bool {
	return status.Code(err) == codes.Unavailable || errors.Is(err, context.DeadlineExceeded)
}
