package ports

import (
	"context"
	"gridjobs/internal/domain"
	"io"
	"time"
)

// Registry is the authoritative set of live tasks.
type Registry interface {
	Add(t domain.Task) error
	Get(id string) (domain.Task, bool)
	// Remove deletes id and reports whether this caller removed it. Of several
	// concurrent callers exactly one observes true.
	Remove(id string) (domain.Task, bool)
	List() []domain.Task
}

// Store keeps the task workspaces: inputs, failure records, markers and
// artifacts.
type Store interface {
	Create(id string) error
	SaveInput(id, name string, r io.Reader) error
	SaveFields(id string, fields map[string]string) error
	Workspace(id string) domain.Workspace
	RecordFailure(id, message string) error
	MarkDone(id string) error
	Probe(id, artifact string) (domain.Outcome, error)
	OpenArtifact(id, artifact string) (io.ReadCloser, int64, error)
	Remove(id string) error
	// Orphans lists workspaces modified before the cutoff whose ids are not
	// accepted by keep.
	Orphans(before time.Time, keep func(id string) bool) ([]string, error)
}

// Executor runs submitted tasks in the background.
type Executor interface {
	Submit(t domain.Task, op domain.Operation) error
	Cancel(id string) bool
	Shutdown(ctx context.Context) error
}

type EventSink interface {
	Publish(ctx context.Context, e domain.Event) error
}
