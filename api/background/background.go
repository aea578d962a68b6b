// Package background runs fire-and-forget tasks that must be drained
// before the process exits.
package background

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned when a task is submitted after Shutdown.
var ErrClosed = errors.New("background: shut down")

type Background struct {
	log    logrus.FieldLogger
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func New(log logrus.FieldLogger) *Background {
	return &Background{log: log}
}

// Go runs fn on its own goroutine. Panics are recovered and logged.
func (b *Background) Go(fn func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				b.log.WithField("panic", fmt.Sprint(rec)).Error("background task panicked")
			}
		}()
		fn()
	}()
	return nil
}

// Shutdown refuses new tasks and waits for the running ones until ctx ends.
func (b *Background) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
