// Package lifecycle coordinates process shutdown. Components register
// graceful callbacks with a priority and a timeout; resource closers run after
// the callbacks on the graceful path and alone on the emergency path.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"metrion-backend/internal/logger"
)

const defaultCallbackTimeout = 10 * time.Second

type callback struct {
	name     string
	priority int
	timeout  time.Duration
	fn       func(context.Context) error
}

type closer struct {
	name string
	fn   func()
}

// Coordinator owns the shutdown sequence. Zero value is not usable; construct
// with NewCoordinator.
type Coordinator struct {
	mu        sync.Mutex
	callbacks []callback
	closers   []closer

	shuttingDown atomic.Bool
	closersDone  atomic.Bool
	log          zerolog.Logger
}

func NewCoordinator() *Coordinator {
	return &Coordinator{log: logger.WithComponent("lifecycle")}
}

// Register adds a graceful shutdown callback. Higher priorities run first;
// equal priorities run in registration order. A non-positive timeout gets the
// default.
func (c *Coordinator) Register(name string, priority int, timeout time.Duration, fn func(context.Context) error) {
	if timeout <= 0 {
		timeout = defaultCallbackTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, callback{name: name, priority: priority, timeout: timeout, fn: fn})
}

// RegisterCloser adds a resource teardown step. Closers run on both the
// graceful and the emergency path, in registration order, exactly once.
func (c *Coordinator) RegisterCloser(name string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

// Shutdown runs the graceful sequence: callbacks in descending priority, each
// under its own timeout, then the closers. A callback that times out, errors,
// or panics is logged and the sequence continues. If ctx expires the remaining
// callbacks are abandoned but the closers still run.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	c.log.Info().Msg("graceful shutdown started")

	c.mu.Lock()
	ordered := make([]callback, len(c.callbacks))
	copy(ordered, c.callbacks)
	c.mu.Unlock()
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].priority > ordered[j].priority })

	var abandoned int
	for i, cb := range ordered {
		if ctx.Err() != nil {
			abandoned = len(ordered) - i
			break
		}
		c.runCallback(ctx, cb)
	}
	if abandoned > 0 {
		c.log.Warn().Int("abandoned", abandoned).Msg("shutdown deadline passed, remaining callbacks abandoned")
	}

	c.runClosers()
	c.log.Info().Msg("graceful shutdown complete")
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("shutdown deadline: %w", err)
	}
	return nil
}

// Emergency skips all graceful callbacks and tears down resources directly.
// Safe to call while Shutdown is still in progress.
func (c *Coordinator) Emergency() {
	c.shuttingDown.Store(true)
	c.log.Warn().Msg("emergency shutdown, skipping graceful callbacks")
	c.runClosers()
}

func (c *Coordinator) runCallback(ctx context.Context, cb callback) {
	cbCtx, cancel := context.WithTimeout(ctx, cb.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errCh <- fmt.Errorf("panic: %v", rec)
			}
		}()
		errCh <- cb.fn(cbCtx)
	}()

	start := time.Now()
	select {
	case err := <-errCh:
		if err != nil {
			c.log.Error().Str("callback", cb.name).Err(err).Msg("shutdown callback failed")
			return
		}
		c.log.Info().Str("callback", cb.name).Dur("took", time.Since(start)).Msg("shutdown callback done")
	case <-cbCtx.Done():
		// leave the stuck callback running and move on
		c.log.Warn().Str("callback", cb.name).Dur("timeout", cb.timeout).Msg("shutdown callback timed out, skipping")
	}
}

func (c *Coordinator) runClosers() {
	if !c.closersDone.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	closers := make([]closer, len(c.closers))
	copy(closers, c.closers)
	c.mu.Unlock()

	for _, cl := range closers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					c.log.Error().Str("closer", cl.name).Interface("panic", rec).Msg("closer panicked")
				}
			}()
			cl.fn()
			c.log.Debug().Str("closer", cl.name).Msg("closed")
		}()
	}
}
