package protocol

import (
	"sync"
)

// Sink receives outbound messages. Implementations must be safe for
// concurrent use; documents send from job goroutines.
type Sink interface {
	Send(Outbound) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Outbound) error

func (f SinkFunc) Send(m Outbound) error { return f(m) }

// Recorder is a Sink that keeps every message, for tests and the analyze
// command.
type Recorder struct {
	mu   sync.Mutex
	msgs []Outbound
}

func (r *Recorder) Send(m Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outbound(nil), r.msgs...)
}

// Drain returns and forgets everything recorded so far.
func (r *Recorder) Drain() []Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	return out
}

// Discard drops every message.
var Discard Sink = SinkFunc(func(Outbound) error { return nil })
