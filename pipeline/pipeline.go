// Package pipeline runs numbered image jobs on a bounded set of workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-pnp-cards/artifact"
	"github.com/aluiziolira/go-pnp-cards/models"
)

var (
	// ErrPoolClosed is returned when Process is called after shutdown.
	ErrPoolClosed = errors.New("pipeline: closed")
)

// Cropper writes a region of src to dst.
type Cropper interface {
	Crop(ctx context.Context, src, dst string, rect models.Rect) error
}

// Job produces one output file. A nil Rect copies Src unchanged.
type Job struct {
	Src  string
	Dst  string
	Rect *models.Rect
}

// Pool executes jobs whose output names were assigned before submission, so
// completion order never affects numbering. The first failure stops the pool.
type Pool struct {
	ctx     context.Context
	cropper Cropper
	jobCh   chan Job

	wg        sync.WaitGroup
	processed atomic.Int64

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPool builds a pool with a modest in-memory buffer.
func NewPool(ctx context.Context, cropper Cropper) *Pool {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Pool{
		ctx:      ctx,
		cropper:  cropper,
		jobCh:    make(chan Job, 64),
		shutdown: make(chan struct{}),
	}
}

// Start launches worker goroutines. With one worker jobs run in submission order.
func (p *Pool) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues jobs.
func (p *Pool) Process(jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPoolClosed
	}

	for _, job := range jobs {
		if err := p.enqueue(job); err != nil {
			if firstErr := p.Err(); firstErr != nil {
				return firstErr
			}
			return err
		}
	}
	return nil
}

// Close waits for queued jobs to finish and prevents more submissions.
func (p *Pool) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.jobCh)
	})

	p.wg.Wait()
	p.signalShutdown()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Processed returns the number of jobs completed successfully.
func (p *Pool) Processed() int64 {
	return p.processed.Load()
}

// StartProgressReporting emits periodic progress logs until the pool closes.
func (p *Pool) StartProgressReporting(label string, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				slog.Info("progress", slog.String("stage", label), slog.Int64("processed", p.Processed()))
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobCh {
		if failed, _ := p.failed(); failed {
			continue
		}
		if err := p.run(job); err != nil {
			p.setErr(fmt.Errorf("%s: %w", job.Dst, err))
			continue
		}
		p.processed.Add(1)
	}
}

func (p *Pool) run(job Job) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	if job.Rect == nil {
		return artifact.CopyFile(job.Src, job.Dst)
	}
	return p.cropper.Crop(p.ctx, job.Src, job.Dst, *job.Rect)
}

func (p *Pool) enqueue(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPoolClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPoolClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobCh <- job:
		return nil
	}
}

func (p *Pool) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pool) failed() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err != nil, p.err
}

func (p *Pool) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pool) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}
