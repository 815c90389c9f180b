package usecase

import (
	"context"
	"errors"
	"fmt"
	"gridjobs/internal/domain"
	"gridjobs/internal/ports"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const allocateAttempts = 3

type Launcher struct {
	Registry ports.Registry
	Store    ports.Store
	Executor ports.Executor
	Events   ports.EventSink
	Now      func() time.Time
}

// Start validates p, persists it into a fresh workspace and submits the task.
// It returns as soon as the task is submitted. Nothing is left behind when it
// fails.
func (l Launcher) Start(ctx context.Context, op domain.Operation, p domain.Payload) (string, error) {
	if err := op.Validate(p); err != nil {
		return "", err
	}

	id, err := l.allocate()
	if err != nil {
		return "", err
	}

	for _, f := range op.Fields {
		if f.Kind != domain.KindFile {
			continue
		}
		r, ok := p.Files[f.Name]
		if !ok || r == nil {
			continue
		}
		if err := l.Store.SaveInput(id, f.FileName(), r); err != nil {
			return "", l.abort(ctx, id, fmt.Errorf("persisting %s: %w", f.Name, err))
		}
	}
	fields := make(map[string]string, len(p.Fields))
	for k, v := range p.Fields {
		fields[k] = v
	}
	if err := l.Store.SaveFields(id, fields); err != nil {
		return "", l.abort(ctx, id, fmt.Errorf("persisting fields: %w", err))
	}

	task := domain.Task{ID: id, Op: op.Name, CreatedAt: l.Now()}
	if err := l.Registry.Add(task); err != nil {
		return "", l.abort(ctx, id, err)
	}
	if err := l.Executor.Submit(task, op); err != nil {
		l.Registry.Remove(id)
		return "", l.abort(ctx, id, fmt.Errorf("submitting task: %w", err))
	}

	log.Ctx(ctx).Info().Str("task_id", id).Str("op", op.Name).Msg("task started")
	publish(ctx, l.Events, domain.Event{Type: domain.EventStarted, TaskID: id, Op: op.Name, At: task.CreatedAt})
	return id, nil
}

func (l Launcher) allocate() (string, error) {
	for range allocateAttempts {
		id := uuid.NewString()
		if _, taken := l.Registry.Get(id); taken {
			continue
		}
		err := l.Store.Create(id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
	return "", errors.New("could not allocate a unique task id")
}

func (l Launcher) abort(ctx context.Context, id string, err error) error {
	if rerr := l.Store.Remove(id); rerr != nil {
		log.Ctx(ctx).Warn().Err(rerr).Str("task_id", id).Msg("removing aborted workspace")
	}
	return err
}
