package worker

import (
	"context"
	"fmt"
	"gridjobs/internal/domain"
	"gridjobs/internal/ports"
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

// Boundary runs a work function and turns whatever happens into exactly one
// terminal record in the task workspace: the failure record on error or
// panic, the success marker otherwise. The work function's fault never
// reaches the caller.
type Boundary struct {
	Store ports.Store
}

// Run returns the status it recorded. The error is non-nil only when the
// record itself could not be written, typically because the task was
// stopped and its workspace removed. A cancelled task records nothing: its
// workspace belongs to whoever cancelled it.
func (b Boundary) Run(ctx context.Context, t domain.Task, op domain.Operation) (domain.TaskStatus, error) {
	fault := b.invoke(ctx, t, op)
	if ctx.Err() != nil {
		return domain.StatusStopped, ctx.Err()
	}
	if fault == nil {
		out, err := b.Store.Probe(t.ID, op.Artifact)
		if err != nil {
			return "", fmt.Errorf("probing workspace: %w", err)
		}
		if !out.ArtifactExists {
			fault = fmt.Errorf("%s finished without writing %s", op.Name, op.Artifact)
		}
	}

	if fault != nil {
		if err := b.Store.RecordFailure(t.ID, fault.Error()); err != nil {
			return domain.StatusFailed, fmt.Errorf("recording failure: %w", err)
		}
		log.Ctx(ctx).Info().Str("task_id", t.ID).Msgf("task failed: %s", fault)
		return domain.StatusFailed, nil
	}

	if err := b.Store.MarkDone(t.ID); err != nil {
		return domain.StatusReady, fmt.Errorf("marking done: %w", err)
	}
	return domain.StatusReady, nil
}

func (b Boundary) invoke(ctx context.Context, t domain.Task, op domain.Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().Str("task_id", t.ID).Msgf("work function panicked: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("%v", r)
		}
	}()

	if op.Work == nil {
		return fmt.Errorf("operation %s has no work function", op.Name)
	}
	return op.Work(ctx, b.Store.Workspace(t.ID))
}

// Inline runs tasks on the pool goroutine itself.
type Inline struct {
	Boundary Boundary
}

func (i Inline) Run(ctx context.Context, t domain.Task, op domain.Operation) error {
	_, err := i.Boundary.Run(ctx, t, op)
	return err
}
