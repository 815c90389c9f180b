// Package worker executes tasks in the background with bounded parallelism.
//
// A Pool hands every submitted task to a Runner on its own goroutine, after
// acquiring one of maxWorkers slots. Each task carries a cancel func kept in
// a concurrent map so Cancel can stop it whether it is still waiting for a
// slot or already running. Runners decide where the work happens: Inline
// runs the Boundary in this process, Process re-executes the binary's work
// subcommand so every task gets its own OS process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"gridjobs/internal/domain"
	"gridjobs/internal/ports"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

type Runner interface {
	Run(ctx context.Context, t domain.Task, op domain.Operation) error
}

var _ ports.Executor = (*Pool)(nil)

type Pool struct {
	runner  Runner
	store   ports.Store
	events  ports.EventSink
	sem     *semaphore.Weighted
	handles *xsync.MapOf[string, context.CancelFunc]

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(maxWorkers int, runner Runner, store ports.Store, events ports.EventSink) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Pool{
		runner:  runner,
		store:   store,
		events:  events,
		sem:     semaphore.NewWeighted(int64(maxWorkers)),
		handles: xsync.NewMapOf[string, context.CancelFunc](),
		base:    base,
		cancel:  cancel,
	}
}

// Submit schedules t and returns immediately.
func (p *Pool) Submit(t domain.Task, op domain.Operation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	logger := log.With().Str("task_id", t.ID).Str("op", op.Name).Logger()
	ctx, cancel := context.WithCancel(logger.WithContext(p.base))
	if _, loaded := p.handles.LoadOrStore(t.ID, cancel); loaded {
		cancel()
		return fmt.Errorf("task %s already submitted", t.ID)
	}

	p.wg.Add(1)
	go p.run(ctx, cancel, t, op)
	return nil
}

func (p *Pool) run(ctx context.Context, cancel context.CancelFunc, t domain.Task, op domain.Operation) {
	defer p.wg.Done()
	defer cancel()
	defer p.handles.Delete(t.ID)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		log.Ctx(ctx).Debug().Msg("task cancelled before it started")
		return
	}
	defer p.sem.Release(1)

	started := time.Now()
	err := p.runner.Run(ctx, t, op)
	if ctx.Err() != nil {
		log.Ctx(ctx).Info().Dur("ran", time.Since(started)).Msg("task stopped")
		return
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("task runner failed")
	}

	out, err := p.store.Probe(t.ID, op.Artifact)
	if err != nil {
		return
	}
	e := domain.Event{TaskID: t.ID, Op: op.Name, At: time.Now()}
	switch out.Status() {
	case domain.StatusFailed:
		e.Type, e.Message = domain.EventFailed, out.FailureMessage
	case domain.StatusReady:
		e.Type = domain.EventReady
	default:
		return
	}
	log.Ctx(ctx).Info().Dur("ran", time.Since(started)).Msgf("task finished: %s", e.Type)
	if p.events != nil {
		if err := p.events.Publish(ctx, e); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("publishing task event")
		}
	}
}

// Cancel stops a queued or running task. It reports whether a handle existed.
func (p *Pool) Cancel(id string) bool {
	cancel, ok := p.handles.LoadAndDelete(id)
	if ok {
		cancel()
	}
	return ok
}

// Running returns the number of tasks that are queued or executing.
func (p *Pool) Running() int {
	return p.handles.Size()
}

// Shutdown refuses new tasks, cancels every handle and waits for the task
// goroutines to return or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()

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
