// Package progress defines the best-effort sink pipelines report their
// status to.
package progress

import (
	"context"
	"sync"

	"github.com/conneroisu/skiff/internal/logging"
)

// Sink receives human-readable status messages. Implementations must not
// block the caller for long and never fail.
type Sink interface {
	SetMessage(msg string)
}

type nop struct{}

func (nop) SetMessage(string) {}

// Nop returns a sink that discards every message.
func Nop() Sink { return nop{} }

// LoggerSink forwards messages to a logger at debug level.
type LoggerSink struct {
	logger logging.Logger
}

// NewLoggerSink creates a sink that writes to logger.
func NewLoggerSink(logger logging.Logger) *LoggerSink {
	return &LoggerSink{logger: logger.WithComponent("progress")}
}

// SetMessage implements Sink.
func (s *LoggerSink) SetMessage(msg string) {
	s.logger.Debug(context.Background(), msg)
}

// WithPrefix returns a sink that prepends prefix to every message.
func WithPrefix(sink Sink, prefix string) Sink {
	if sink == nil {
		return Nop()
	}

	return prefixed{sink: sink, prefix: prefix}
}

type prefixed struct {
	sink   Sink
	prefix string
}

func (p prefixed) SetMessage(msg string) {
	p.sink.SetMessage(p.prefix + msg)
}

// Recorder keeps the most recent message. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	last     string
	messages int
}

// SetMessage implements Sink.
func (r *Recorder) SetMessage(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = msg
	r.messages++
}

// Last returns the most recent message and the total message count.
func (r *Recorder) Last() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.last, r.messages
}
