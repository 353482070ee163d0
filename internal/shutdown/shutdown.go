// Package shutdown provides a broadcast token that is triggered once and
// observed by any number of readers.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Signal is terminal once triggered. The zero value is not usable; create
// one with New.
type Signal struct {
	once sync.Once
	done chan struct{}
}

// New returns an untriggered signal.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Trigger fires the signal. Subsequent calls are no-ops.
func (s *Signal) Trigger() {
	s.once.Do(func() { close(s.done) })
}

// Done returns a channel closed when the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Triggered reports whether the signal has fired.
func (s *Signal) Triggered() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// NotifyOnInterrupt triggers sig on SIGINT or SIGTERM. The returned function
// stops listening.
func NotifyOnInterrupt(sig *Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	quit := make(chan struct{})
	go func() {
		select {
		case <-ch:
			sig.Trigger()
		case <-quit:
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
