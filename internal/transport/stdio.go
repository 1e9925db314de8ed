// Package transport carries protocol messages between the engine and the
// editor observer: JSON lines over stdio, or a WebSocket server.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"codeoverlay/internal/protocol"
)

// MaxMessageSize bounds one inbound line. Messages carry whole documents,
// so this is well above the default document limit.
const MaxMessageSize = 16 << 20

// Handler consumes raw inbound messages.
type Handler interface {
	HandleLine(ctx context.Context, line []byte)
}

// LineSink writes each outbound message as one JSON line.
type LineSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineSink returns a sink writing to w.
func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: w}
}

// Send implements protocol.Sink.
func (s *LineSink) Send(m protocol.Outbound) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("error encoding %s message: %w", m.MessageType(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "%s\n", data); err != nil {
		return fmt.Errorf("error writing message: %w", err)
	}
	return nil
}

// ServeLines feeds every line of r to h, in order, until r is exhausted or
// ctx is done. Blank lines are skipped.
func ServeLines(ctx context.Context, r io.Reader, h Handler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		h.HandleLine(ctx, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading messages: %w", err)
	}
	return nil
}
