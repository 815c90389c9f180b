package usecase

import (
	"context"
	"gridjobs/internal/domain"
	"gridjobs/internal/ports"
	"time"
)

type Inspector struct {
	Registry ports.Registry
	Store    ports.Store
	Now      func() time.Time
}

// Status probes the task workspace. It never changes state, so repeated
// calls without worker progress return the same result apart from the
// elapsed time.
func (i Inspector) Status(_ context.Context, op domain.Operation, id string) (domain.Metadata, error) {
	t, err := lookup(i.Registry, op, id)
	if err != nil {
		return domain.Metadata{}, err
	}
	out, err := i.Store.Probe(id, op.Artifact)
	if err != nil {
		return domain.Metadata{}, err
	}

	meta := metadata(t, i.Now())
	meta.Status = out.Status()
	if meta.Status == domain.StatusFailed {
		meta.FailureMessage = out.FailureMessage
	}
	return meta, nil
}
