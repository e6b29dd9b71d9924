package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrQueueFull = errors.New("worker queue is full")
	ErrStopped   = errors.New("worker pool is stopped")
)

type job struct {
	name string
	fn   func(ctx context.Context)
}

// Pool runs background jobs off the request path. Jobs receive the pool
// context, which is cancelled by Stop.
type Pool struct {
	Logger *zap.Logger

	jobs    chan job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	started bool
}

func NewPool(queueSize int, logger *zap.Logger) *Pool {
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		Logger: logger,
		jobs:   make(chan job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (p *Pool) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	if p.Logger != nil {
		p.Logger.Info("starting worker pool", zap.Int("workers", workers))
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Submit queues fn without blocking.
func (p *Pool) Submit(name string, fn func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, name)
	}
}

// Stop cancels running jobs and waits for the workers to exit. Jobs still
// queued are then run with the cancelled context so they can record that
// they never started.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
	dropped := p.drain()
	if p.Logger != nil {
		p.Logger.Info("stopped worker pool", zap.Int("cancelled_queued", dropped))
	}
}

func (p *Pool) drain() int {
	n := 0
	for {
		select {
		case j := <-p.jobs:
			p.exec(-1, j)
			n++
		default:
			return n
		}
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			p.exec(id, j)
		}
	}
}

func (p *Pool) exec(id int, j job) {
	defer func() {
		if r := recover(); r != nil && p.Logger != nil {
			p.Logger.Error("worker job panicked", zap.Int("worker", id), zap.String("job", j.name), zap.Any("panic", r))
		}
	}()
	j.fn(p.ctx)
}
