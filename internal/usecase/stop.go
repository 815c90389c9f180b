package usecase

import (
	"context"
	"gridjobs/internal/domain"
	"gridjobs/internal/ports"
	"time"

	"github.com/rs/zerolog/log"
)

type Stopper struct {
	Registry ports.Registry
	Store    ports.Store
	Executor ports.Executor
	Events   ports.EventSink
	Now      func() time.Time
}

// Stop cancels the task's worker and deletes the task in whatever state it
// is. The returned metadata carries no failure detail.
func (s Stopper) Stop(ctx context.Context, op domain.Operation, id string) (domain.Metadata, error) {
	if _, err := lookup(s.Registry, op, id); err != nil {
		return domain.Metadata{}, err
	}
	t, ok := s.Registry.Remove(id)
	if !ok {
		return domain.Metadata{}, domain.ErrNotFound
	}
	if s.Executor.Cancel(id) {
		log.Ctx(ctx).Debug().Str("task_id", id).Msg("worker cancelled")
	}

	// the task is claimed; a workspace left behind is an orphan for the reaper
	if err := s.Store.Remove(id); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("task_id", id).Msg("removing stopped task workspace")
	}

	now := s.Now()
	meta := metadata(t, now)
	meta.Status = domain.StatusStopped
	meta.StoppedAt = now

	log.Ctx(ctx).Info().Str("task_id", id).Str("op", op.Name).Msg("task stopped")
	publish(ctx, s.Events, domain.Event{Type: domain.EventStopped, TaskID: id, Op: op.Name, At: now})
	return meta, nil
}
