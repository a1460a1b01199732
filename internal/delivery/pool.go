// Package delivery decouples out-of-band code dispatch (sms, email, push)
// from the synchronous challenge-creation call: jobs go through a bounded
// queue served by a worker pool with retry/backoff and outbound pacing.
package delivery

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Sender is the abstract out-of-band delivery collaborator. The engine is
// agnostic to the transport behind it.
type Sender interface {
	Send(ctx context.Context, userID, challengeID, method, code string) error
}

// Job is one pending delivery.
type Job struct {
	UserID      string
	ChallengeID string
	Method      string
	Code        string
}

// Config tunes the pool.
type Config struct {
	Workers       int
	QueueSize     int
	MaxRetries    int
	RetryBackoff  time.Duration
	RatePerSecond float64
	SendTimeout   time.Duration
}

// Pool is a bounded fire-and-forget dispatch pool. Enqueue never blocks;
// jobs that do not fit are dropped and counted.
type Pool struct {
	cfg     Config
	sender  Sender
	jobs    chan Job
	done    chan struct{}
	wg      sync.WaitGroup
	limiter *rate.Limiter
	dropped atomic.Uint64
	closed  atomic.Bool
	once    sync.Once
}

func NewPool(cfg Config, sender Sender) *Pool {
	if sender == nil {
		return nil
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 50
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	p := &Pool{
		cfg:     cfg,
		sender:  sender,
		jobs:    make(chan Job, cfg.QueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Workers),
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobs:
			p.deliver(job)
		case <-p.done:
			for {
				select {
				case job := <-p.jobs:
					p.deliver(job)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) deliver(job Job) {
	for attempt := 0; ; attempt++ {
		if err := p.limiter.Wait(context.Background()); err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SendTimeout)
		err := p.sender.Send(ctx, job.UserID, job.ChallengeID, job.Method, job.Code)
		cancel()
		if err == nil {
			return
		}

		if attempt >= p.cfg.MaxRetries {
			log.Printf("delivery: giving up on challenge %s via %s after %d attempts: %v",
				job.ChallengeID, job.Method, attempt+1, err)
			return
		}
		time.Sleep(p.cfg.RetryBackoff << uint(attempt))
	}
}

// Enqueue submits a job without blocking. Jobs that do not fit in the
// queue are dropped; the caller's operation is unaffected either way.
func (p *Pool) Enqueue(job Job) bool {
	if p == nil || p.closed.Load() {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Dropped returns how many jobs were discarded due to backpressure.
func (p *Pool) Dropped() uint64 {
	if p == nil {
		return 0
	}
	return p.dropped.Load()
}

// Close drains queued jobs and stops the workers.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.closed.Store(true)
		close(p.done)
		p.wg.Wait()
	})
}
