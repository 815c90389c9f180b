package usecase

import (
	"context"
	"fmt"
	"gridjobs/internal/domain"
	"gridjobs/internal/ports"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

type Retriever struct {
	Registry ports.Registry
	Store    ports.Store
	Events   ports.EventSink
	Now      func() time.Time
}

// Artifact streams a finished task's output. Closing it deletes the task.
type Artifact struct {
	io.ReadCloser
	Name        string
	ContentType string
	Size        int64
}

// Download claims a ready task. The claim removes it from the registry, so
// of concurrent downloads and stops exactly one succeeds and every later
// call gets domain.ErrNotFound.
func (r Retriever) Download(ctx context.Context, op domain.Operation, id string) (*Artifact, error) {
	if _, err := lookup(r.Registry, op, id); err != nil {
		return nil, err
	}
	out, err := r.Store.Probe(id, op.Artifact)
	if err != nil {
		return nil, err
	}
	if out.Status() != domain.StatusReady {
		return nil, domain.ErrNotFound
	}
	if _, ok := r.Registry.Remove(id); !ok {
		return nil, domain.ErrNotFound
	}

	rc, size, err := r.Store.OpenArtifact(id, op.Artifact)
	if err != nil {
		if rerr := r.Store.Remove(id); rerr != nil {
			log.Ctx(ctx).Warn().Err(rerr).Str("task_id", id).Msg("removing unreadable task")
		}
		return nil, fmt.Errorf("opening artifact: %w", err)
	}

	cleanup := func() error {
		if err := r.Store.Remove(id); err != nil {
			return fmt.Errorf("removing downloaded task: %w", err)
		}
		publish(ctx, r.Events, domain.Event{Type: domain.EventDownloaded, TaskID: id, Op: op.Name, At: r.Now()})
		return nil
	}
	return &Artifact{
		ReadCloser:  &cleanupOnRead{ReadCloser: rc, cleanup: cleanup},
		Name:        op.Artifact,
		ContentType: op.ContentType,
		Size:        size,
	}, nil
}

// cleanupOnRead deletes the task once the reader is closed, whether or not
// the stream reached the client completely.
type cleanupOnRead struct {
	io.ReadCloser
	once    sync.Once
	cleanup func() error
	err     error
}

func (c *cleanupOnRead) Close() error {
	c.once.Do(func() {
		c.err = multierror.Append(nil, c.ReadCloser.Close(), c.cleanup()).ErrorOrNil()
	})
	return c.err
}
