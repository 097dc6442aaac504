package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pictureloader/pictureloader/pkg/errors"
	"github.com/pictureloader/pictureloader/pkg/utils"
)

// Looper is an unbounded FIFO of functions drained by exactly one goroutine.
// Everything posted to the same Looper runs sequentially in post order, so
// state touched only from posted functions needs no further locking.
type Looper struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	running bool
	stopped bool

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// NewLooper creates a looper. Nothing runs until Run or Start.
func NewLooper(logger *slog.Logger) *Looper {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Looper{
		logger: logger,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Post appends fn to the queue.
func (l *Looper) Post(fn func()) error {
	if fn == nil {
		return nil
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return errors.NewError(errors.ErrCodeComponentStopped, "looper is stopped").
			WithComponent("dispatcher").
			WithOperation("post")
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run drains the queue on the calling goroutine until ctx is done or Stop is
// called. Functions already queued at Stop still run.
func (l *Looper) Run(ctx context.Context) error {
	if err := l.begin(); err != nil {
		return err
	}
	return l.loop(ctx)
}

func (l *Looper) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return errors.NewError(errors.ErrCodeInternalError, "looper already running").
			WithComponent("dispatcher").
			WithOperation("run")
	}
	l.running = true
	return nil
}

func (l *Looper) loop(ctx context.Context) error {
	defer close(l.done)

	for {
		l.drain()

		select {
		case <-l.wake:
		case <-l.stopCh:
			l.drain()
			return nil
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Start runs the looper on its own goroutine.
func (l *Looper) Start() error {
	if err := l.begin(); err != nil {
		return err
	}
	go func() {
		_ = l.loop(context.Background())
	}()
	return nil
}

// Stop refuses new posts, waits for queued functions to run and returns once
// the loop has exited. It must not be called from a posted function.
func (l *Looper) Stop() {
	l.mu.Lock()
	if l.stopped {
		running := l.running
		l.mu.Unlock()
		if running {
			<-l.done
		}
		return
	}
	l.stopped = true
	running := l.running
	close(l.stopCh)
	l.mu.Unlock()

	if running {
		<-l.done
	}
}

// Pending returns the number of queued functions.
func (l *Looper) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Looper) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.invoke(fn)
	}
}

func (l *Looper) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Posted function panicked", "panic", r)
		}
	}()
	fn()
}
