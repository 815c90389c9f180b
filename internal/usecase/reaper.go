package usecase

import (
	"context"
	"fmt"
	"gridjobs/internal/domain"
	"gridjobs/internal/ports"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

// Reaper expires tasks nobody collected and removes workspaces the registry
// does not know, which are leftovers of an earlier process. The scratch root
// must not be shared between servers.
type Reaper struct {
	Registry ports.Registry
	Store    ports.Store
	Executor ports.Executor
	Events   ports.EventSink
	TTL      time.Duration
	Grace    time.Duration
	Interval time.Duration
	Now      func() time.Time
}

func (r Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if n, err := r.Sweep(ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("reaper sweep incomplete")
		} else if n > 0 {
			log.Ctx(ctx).Info().Msgf("reaper expired %d tasks", n)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass and returns how many registered tasks it expired.
func (r Reaper) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	var result *multierror.Error
	expired := 0

	if r.TTL > 0 {
		for _, t := range r.Registry.List() {
			if now.Sub(t.CreatedAt) < r.TTL {
				continue
			}
			if _, ok := r.Registry.Remove(t.ID); !ok {
				continue
			}
			r.Executor.Cancel(t.ID)
			if err := r.Store.Remove(t.ID); err != nil {
				result = multierror.Append(result, fmt.Errorf("expiring %s: %w", t.ID, err))
				continue
			}
			expired++
			publish(ctx, r.Events, domain.Event{Type: domain.EventExpired, TaskID: t.ID, Op: t.Op, At: now})
		}
	}

	known := func(id string) bool {
		_, ok := r.Registry.Get(id)
		return ok
	}
	orphans, err := r.Store.Orphans(now.Add(-r.Grace), known)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("listing workspaces: %w", err))
	}
	for _, id := range orphans {
		if err := r.Store.Remove(id); err != nil {
			result = multierror.Append(result, fmt.Errorf("removing orphan %s: %w", id, err))
			continue
		}
		log.Ctx(ctx).Debug().Str("task_id", id).Msg("removed orphaned workspace")
	}
	return expired, result.ErrorOrNil()
}
