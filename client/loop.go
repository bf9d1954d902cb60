package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Executor runs callbacks one at a time. Every handler, reply callback and
// timer of a session runs on the same Executor, so session state needs no
// locking.
type Executor interface {
	// Post queues fn to run on the executor.
	Post(fn func())

	// Async runs work off the executor, e.g. a blocking dial. The function it
	// returns, if any, is posted back onto the executor.
	Async(work func() func())

	// AfterFunc posts fn once d has elapsed. Calling stop before fn ran
	// guarantees it never will.
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// Loop is the Executor used in production: a single goroutine draining an
// unbounded queue of functions.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool

	async sync.WaitGroup

	log *zap.Logger
}

func NewLoop(log *zap.Logger) *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		log:  log,
	}
}

func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.log.Debug("Dropping callback posted after the loop stopped")
		return
	}

	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) Async(work func() func()) {
	l.async.Add(1)

	go func() {
		defer l.async.Done()

		if cont := work(); cont != nil {
			l.Post(cont)
		}
	}()
}

// WaitAsync blocks until every Async work function returned, or ctx is done.
// Continuations are posted before it returns, so a running loop will still
// execute them.
func (l *Loop) WaitAsync(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.async.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) func() bool {
	var cancelled atomic.Bool

	t := time.AfterFunc(d, func() {
		l.Post(func() {
			if !cancelled.Load() {
				fn()
			}
		})
	})

	return func() bool {
		cancelled.Store(true)
		return t.Stop()
	}
}

// Run drains the queue until ctx is cancelled. Callbacks still queued at
// that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("Event loop starting")

	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()

		l.log.Info("Event loop exited")
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			fn()
		}

		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-l.wake:
		}
	}
}
