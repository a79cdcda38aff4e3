// Package ipc carries control commands between the talkingbot CLI and a running
// daemon over a unix socket, one JSON line per message.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxLine caps a single request or response line.
const maxLine = 1 << 20

var errLineTooLong = errors.New("message exceeds 1 MiB")

// Request is a control command sent to the daemon.
type Request struct {
	Command string `json:"command"`
	Lines   int    `json:"lines,omitempty"`
}

// Response is the daemon's answer. State mirrors the controller state at reply time.
type Response struct {
	OK        bool     `json:"ok"`
	State     string   `json:"state,omitempty"`
	Running   bool     `json:"running,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Message   string   `json:"message,omitempty"`
	Lines     []string `json:"lines,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func failure(format string, args ...any) Response {
	return Response{Error: fmt.Sprintf(format, args...)}
}

func writeLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > maxLine {
			return nil, errLineTooLong
		}
		if !isPrefix {
			return buf, nil
		}
	}
}
