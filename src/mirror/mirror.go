// Package mirror copies room activity to durable or shared storage off the
// hub loop. Mirrors are best effort: failures are logged and dropped.
package mirror

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/syncwave/relay/src/types"
)

// Sink receives mirrored messages one at a time from the Async worker.
type Sink interface {
	Name() string
	Write(ctx context.Context, msg types.Message) error
	Close() error
}

// Async queues mirrored messages and fans them out to sinks on a single
// worker goroutine. It implements hub.Mirror.
type Async struct {
	queue   chan types.Message
	sinks   []Sink
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewAsync creates a mirror with a queue of size messages. Call Start before use.
func NewAsync(logger zerolog.Logger, size int, sinks ...Sink) *Async {
	if size <= 0 {
		size = 1024
	}
	return &Async{
		queue:   make(chan types.Message, size),
		sinks:   sinks,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "mirror").Logger(),
	}
}

// Start launches the worker.
func (a *Async) Start() {
	a.wg.Add(1)
	go a.run()
	for _, s := range a.sinks {
		a.logger.Info().Str("sink", s.Name()).Msg("mirror sink enabled")
	}
}

// Record queues msg without blocking. A full queue drops it.
func (a *Async) Record(msg types.Message) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- msg:
	default:
		n := a.dropped.Add(1)
		a.logger.Warn().Str("event", msg.Event).Uint64("dropped", n).Msg("mirror queue full")
	}
}

// Dropped reports how many messages were discarded on a full queue.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Stop drains the queue, waits for the worker and closes every sink.
func (a *Async) Stop() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()

	var errs []error
	for _, s := range a.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Async) run() {
	defer a.wg.Done()
	for msg := range a.queue {
		for _, s := range a.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
			err := s.Write(ctx, msg)
			cancel()
			if err != nil {
				a.logger.Error().Err(err).
					Str("sink", s.Name()).
					Str("event", msg.Event).
					Str("room", msg.RoomID).
					Msg("mirror write failed")
			}
		}
	}
}

func isPlayback(event string) bool {
	switch event {
	case types.EventTrackChanged, types.EventPlay, types.EventPause, types.EventSeek, types.EventStop:
		return true
	}
	return false
}
