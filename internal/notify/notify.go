// Package notify delivers pub/sub notifications to external endpoints. A
// worker pool drains a bounded queue of deliveries, retries failures with
// backoff, and keeps one lazily opened backend per endpoint.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Backend is the interface for notification delivery backends.
type Backend interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Factory opens the backend for one endpoint.
type Factory func(t Target) (Backend, error)

// Observer is told the outcome of every finished delivery.
type Observer func(protocol string, delivered bool)

type Options struct {
	Workers    int
	QueueSize  int
	Timeout    time.Duration
	MaxRetries int
	Backoff    []time.Duration
	Factory    Factory
	Observer   Observer
}

type deliveryJob struct {
	target     Target
	payload    []byte
	retryCount int
}

// Pool handles async delivery with retry.
type Pool struct {
	opts     Options
	workerCh chan deliveryJob
	wg       sync.WaitGroup

	mu       sync.Mutex
	backends map[string]Backend
	stopped  bool
}

func NewPool(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	}
	if opts.Factory == nil {
		opts.Factory = DefaultFactory(opts.Timeout)
	}
	return &Pool{
		opts:     opts,
		workerCh: make(chan deliveryJob, opts.QueueSize),
		backends: make(map[string]Backend),
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-p.workerCh:
					if !ok {
						return
					}
					p.deliver(ctx, job)
				}
			}
		}()
	}
}

// Stop drains the workers and closes every cached backend.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workerCh)
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	var result *multierror.Error
	for key, b := range p.backends {
		if err := b.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		delete(p.backends, key)
	}
	return result.ErrorOrNil()
}

// Enqueue schedules payload for delivery to t. It never blocks: when the
// queue is full the delivery is dropped and false is returned.
func (p *Pool) Enqueue(t Target, payload []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	select {
	case p.workerCh <- deliveryJob{target: t, payload: payload}:
		return true
	default:
		slog.Warn("notify queue full, dropping delivery", "protocol", t.Protocol, "endpoint", t.Endpoint)
		p.observe(t.Protocol, false)
		return false
	}
}

func (p *Pool) observe(protocol string, ok bool) {
	if p.opts.Observer != nil {
		p.opts.Observer(protocol, ok)
	}
}

// backend returns the cached backend for t, opening it on first use.
func (p *Pool) backend(t Target) (Backend, error) {
	key := t.Key()
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.backends[key]; ok {
		return b, nil
	}
	b, err := p.opts.Factory(t)
	if err != nil {
		return nil, err
	}
	p.backends[key] = b
	slog.Info("notification backend opened", "backend", b.Name(), "endpoint", t.Endpoint)
	return b, nil
}

// evict drops a backend whose connection failed so the next attempt reopens.
func (p *Pool) evict(t Target) {
	p.mu.Lock()
	b, ok := p.backends[t.Key()]
	delete(p.backends, t.Key())
	p.mu.Unlock()
	if ok {
		b.Close()
	}
}

func (p *Pool) deliver(ctx context.Context, job deliveryJob) {
	for {
		err := p.attempt(ctx, job)
		if err == nil {
			p.observe(job.target.Protocol, true)
			return
		}
		if job.retryCount >= p.opts.MaxRetries-1 {
			slog.Error("notify delivery failed after retries", "retries", p.opts.MaxRetries,
				"protocol", job.target.Protocol, "endpoint", job.target.Endpoint, "error", err)
			p.observe(job.target.Protocol, false)
			return
		}
		p.evict(job.target)

		backoffIdx := job.retryCount
		if backoffIdx >= len(p.opts.Backoff) {
			backoffIdx = len(p.opts.Backoff) - 1
		}
		timer := time.NewTimer(p.opts.Backoff[backoffIdx])
		select {
		case <-ctx.Done():
			timer.Stop()
			p.observe(job.target.Protocol, false)
			return
		case <-timer.C:
		}
		job.retryCount++
	}
}

func (p *Pool) attempt(ctx context.Context, job deliveryJob) error {
	b, err := p.backend(job.target)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	return b.Publish(ctx, job.payload)
}
