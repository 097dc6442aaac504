// Package dispatch runs load work off the caller's goroutine and hands the
// results back to a single delivery goroutine.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pictureloader/pictureloader/pkg/errors"
	"github.com/pictureloader/pictureloader/pkg/types"
	"github.com/pictureloader/pictureloader/pkg/utils"
)

// Executor runs tasks in the background.
type Executor interface {
	Submit(task func()) error
}

// Poster runs functions on the delivery goroutine.
type Poster interface {
	Post(fn func()) error
}

// PoolConfig contains configuration for the worker pool
type PoolConfig struct {
	CoreWorkers int           `yaml:"core_workers"` // Workers kept alive while idle
	MaxWorkers  int           `yaml:"max_workers"`  // Upper bound on concurrent workers
	KeepAlive   time.Duration `yaml:"keep_alive"`   // Idle time before an extra worker retires

	// NameFunc names each new worker; names only appear in logs.
	NameFunc func() string `yaml:"-"`
	Logger   *slog.Logger  `yaml:"-"`
}

// DefaultPoolConfig sizes the pool from the CPU count.
func DefaultPoolConfig() PoolConfig {
	cpus := runtime.NumCPU()
	return PoolConfig{
		CoreWorkers: cpus + 1,
		MaxWorkers:  2*cpus + 1,
		KeepAlive:   10 * time.Second,
	}
}

// Sequence returns a generator of names "<prefix>#1", "<prefix>#2", ...
func Sequence(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s#%d", prefix, n.Add(1))
	}
}

// Pool is an elastic worker pool with an unbounded backlog. Up to
// CoreWorkers goroutines stay alive while idle; extra workers up to
// MaxWorkers are started when no worker is idle and retire after KeepAlive.
type Pool struct {
	core      int
	max       int
	keepAlive time.Duration
	nameFunc  func() string
	logger    *slog.Logger

	mu      sync.Mutex
	queue   []func()
	workers int
	idle    int
	closed  bool

	notify  chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup

	completed atomic.Uint64
}

// NewPool creates a pool. Workers are started lazily on Submit.
func NewPool(cfg PoolConfig) *Pool {
	def := DefaultPoolConfig()
	if cfg.CoreWorkers <= 0 {
		cfg.CoreWorkers = def.CoreWorkers
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		cfg.MaxWorkers = cfg.CoreWorkers
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.NameFunc == nil {
		cfg.NameFunc = Sequence("pictureloader")
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.DiscardLogger()
	}

	return &Pool{
		core:      cfg.CoreWorkers,
		max:       cfg.MaxWorkers,
		keepAlive: cfg.KeepAlive,
		nameFunc:  cfg.NameFunc,
		logger:    cfg.Logger,
		notify:    make(chan struct{}, cfg.MaxWorkers),
		closeCh:   make(chan struct{}),
	}
}

// Submit queues a task. It never blocks; it fails only after Close.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.NewError(errors.ErrCodeComponentStopped, "worker pool is closed").
			WithComponent("dispatcher").
			WithOperation("submit")
	}
	p.queue = append(p.queue, task)

	switch {
	case p.idle > 0:
		select {
		case p.notify <- struct{}{}:
		default:
		}
	case p.workers < p.max:
		p.workers++
		p.wg.Add(1)
		go p.work(p.nameFunc())
	}
	p.mu.Unlock()
	return nil
}

func (p *Pool) work(name string) {
	defer p.wg.Done()
	p.logger.Debug("Worker started", "worker", name)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			task := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()

			p.run(name, task)
			continue
		}
		if p.closed {
			p.workers--
			p.mu.Unlock()
			p.logger.Debug("Worker stopped", "worker", name)
			return
		}
		extra := p.workers > p.core
		p.idle++
		p.mu.Unlock()

		var expired <-chan time.Time
		if extra {
			if timer == nil {
				timer = time.NewTimer(p.keepAlive)
			} else {
				timer.Reset(p.keepAlive)
			}
			expired = timer.C
		}

		timedOut := false
		select {
		case <-p.notify:
		case <-p.closeCh:
		case <-expired:
			timedOut = true
		}
		if !timedOut && timer != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}

		p.mu.Lock()
		p.idle--
		if timedOut && p.workers > p.core && len(p.queue) == 0 {
			p.workers--
			p.mu.Unlock()
			p.logger.Debug("Idle worker retired", "worker", name)
			return
		}
		p.mu.Unlock()
	}
}

func (p *Pool) run(name string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked", "worker", name, "panic", r)
		}
		p.completed.Add(1)
	}()
	task()
}

// Close stops accepting tasks, lets the workers drain the backlog and waits
// for them until ctx is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closeCh)
	if len(p.queue) > 0 && p.workers == 0 {
		p.workers++
		p.wg.Add(1)
		go p.work(p.nameFunc())
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() types.DispatchStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.DispatchStats{
		Workers:   p.workers,
		Idle:      p.idle,
		Queued:    len(p.queue),
		Completed: p.completed.Load(),
	}
}

// Inline runs everything synchronously on the calling goroutine. It serves
// as both Executor and Poster.
type Inline struct{}

// Submit runs task immediately.
func (Inline) Submit(task func()) error {
	if task != nil {
		task()
	}
	return nil
}

// Post runs fn immediately.
func (Inline) Post(fn func()) error {
	if fn != nil {
		fn()
	}
	return nil
}
