// Package usecase implements the job protocol on top of the registry, the
// workspace store and the executor: start, status, download and stop.
package usecase

import (
	"context"
	"gridjobs/internal/domain"
	"gridjobs/internal/ports"
	"time"

	"github.com/rs/zerolog/log"
)

type Deps struct {
	Registry ports.Registry
	Store    ports.Store
	Executor ports.Executor
	Events   ports.EventSink
	Now      func() time.Time
}

type Jobs struct {
	Launcher  Launcher
	Inspector Inspector
	Retriever Retriever
	Stopper   Stopper
}

func New(d Deps) Jobs {
	if d.Events == nil {
		d.Events = LogEvents{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return Jobs{
		Launcher:  Launcher{Registry: d.Registry, Store: d.Store, Executor: d.Executor, Events: d.Events, Now: d.Now},
		Inspector: Inspector{Registry: d.Registry, Store: d.Store, Now: d.Now},
		Retriever: Retriever{Registry: d.Registry, Store: d.Store, Events: d.Events, Now: d.Now},
		Stopper:   Stopper{Registry: d.Registry, Store: d.Store, Executor: d.Executor, Events: d.Events, Now: d.Now},
	}
}

// LogEvents is the event sink used when no broker is configured.
type LogEvents struct{}

func (LogEvents) Publish(ctx context.Context, e domain.Event) error {
	log.Ctx(ctx).Info().
		Str("event", string(e.Type)).
		Str("task_id", e.TaskID).
		Str("op", e.Op).
		Msg("task event")
	return nil
}

func publish(ctx context.Context, sink ports.EventSink, e domain.Event) {
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, e); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("task_id", e.TaskID).Msg("publishing task event")
	}
}

// lookup returns the task only when it is registered under op.
func lookup(reg ports.Registry, op domain.Operation, id string) (domain.Task, error) {
	t, ok := reg.Get(id)
	if !ok || t.Op != op.Name {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}

func metadata(t domain.Task, now time.Time) domain.Metadata {
	return domain.Metadata{
		CreatedAt: t.CreatedAt,
		Elapsed:   now.Sub(t.CreatedAt),
	}
}
