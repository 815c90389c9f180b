package usecase_test

import (
	"context"
	"errors"
	"gridjobs/internal/domain"
	"gridjobs/internal/storage"
	"gridjobs/internal/usecase"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnknownTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	op := converter()

	_, err := f.jobs.Inspector.Status(t.Context(), op, "never-created")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.jobs.Retriever.Download(t.Context(), op, "never-created")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.jobs.Stopper.Stop(t.Context(), op, "never-created")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.jobs.Stopper.Stop(t.Context(), op, "../../etc")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStartReportsRunning(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	release := make(chan struct{})
	defer close(release)
	op := blocking(release, nil)

	id, err := f.jobs.Launcher.Start(t.Context(), op, domain.Payload{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	meta, err := f.jobs.Inspector.Status(t.Context(), op, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, meta.Status)
	require.Less(t, meta.Elapsed, time.Second)
	require.Empty(t, meta.FailureMessage)
	require.True(t, f.events.Has(domain.EventStarted, id))
}

func TestFailureIsStable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	const msg = "gridlabd: model did not converge\nat t=3600"
	op := domain.Operation{
		Name:     "gridlabRun",
		Artifact: "gridlab-output.json",
		Work:     func(context.Context, domain.Workspace) error { return errors.New(msg) },
	}

	id, err := f.jobs.Launcher.Start(t.Context(), op, domain.Payload{})
	require.NoError(t, err)
	first := f.waitFor(t, op, id, domain.StatusFailed)
	require.Equal(t, msg, first.FailureMessage)

	for range 3 {
		again, err := f.jobs.Inspector.Status(t.Context(), op, id)
		require.NoError(t, err)
		require.Equal(t, first.Status, again.Status)
		require.Equal(t, first.FailureMessage, again.FailureMessage)
		require.Equal(t, first.CreatedAt, again.CreatedAt)
	}

	_, err = f.jobs.Retriever.Download(t.Context(), op, id)
	require.ErrorIs(t, err, domain.ErrNotFound, "failed tasks have nothing to download")
	require.Eventually(t, func() bool { return f.events.Has(domain.EventFailed, id) }, 5*time.Second, 5*time.Millisecond)
}

func TestDownloadIsOneShot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	op := converter()

	id, err := f.jobs.Launcher.Start(t.Context(), op, converterPayload())
	require.NoError(t, err)
	f.waitFor(t, op, id, domain.StatusReady)

	art, err := f.jobs.Retriever.Download(t.Context(), op, id)
	require.NoError(t, err)
	require.Equal(t, "out.glm", art.Name)
	require.Equal(t, "text/plain", art.ContentType)
	require.Equal(t, int64(len("std;seq")), art.Size)
	b, err := io.ReadAll(art)
	require.NoError(t, err)
	require.Equal(t, "std;seq", string(b))
	require.NoError(t, art.Close())
	require.NoError(t, art.Close(), "closing twice is harmless")

	_, err = f.jobs.Retriever.Download(t.Context(), op, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.jobs.Inspector.Status(t.Context(), op, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Empty(t, f.workspaces(t))
	require.True(t, f.events.Has(domain.EventDownloaded, id))
}

func TestDownloadBeforeReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	release := make(chan struct{})
	op := blocking(release, nil)

	id, err := f.jobs.Launcher.Start(t.Context(), op, domain.Payload{})
	require.NoError(t, err)
	_, err = f.jobs.Retriever.Download(t.Context(), op, id)
	require.ErrorIs(t, err, domain.ErrNotFound)

	close(release)
	f.waitFor(t, op, id, domain.StatusReady)
	art, err := f.jobs.Retriever.Download(t.Context(), op, id)
	require.NoError(t, err)
	require.NoError(t, art.Close())
}

func TestStopFromAnyState(t *testing.T) {
	t.Parallel()

	t.Run("running", func(t *testing.T) {
		f := newFixture(t)
		cancelled := make(chan struct{})
		op := blocking(make(chan struct{}), cancelled)
		id, err := f.jobs.Launcher.Start(t.Context(), op, domain.Payload{})
		require.NoError(t, err)

		meta, err := f.jobs.Stopper.Stop(t.Context(), op, id)
		require.NoError(t, err)
		require.Equal(t, domain.StatusStopped, meta.Status)
		require.False(t, meta.StoppedAt.IsZero())

		select {
		case <-cancelled:
		case <-time.After(5 * time.Second):
			t.Fatal("stop did not cancel the worker")
		}
		_, err = f.jobs.Inspector.Status(t.Context(), op, id)
		require.ErrorIs(t, err, domain.ErrNotFound)
		_, err = f.jobs.Stopper.Stop(t.Context(), op, id)
		require.ErrorIs(t, err, domain.ErrNotFound)
		require.Empty(t, f.workspaces(t))
	})

	t.Run("failed", func(t *testing.T) {
		f := newFixture(t)
		op := domain.Operation{Name: "runGfm", Artifact: "out", Work: func(context.Context, domain.Workspace) error {
			return errors.New("java not found")
		}}
		id, err := f.jobs.Launcher.Start(t.Context(), op, domain.Payload{})
		require.NoError(t, err)
		f.waitFor(t, op, id, domain.StatusFailed)

		meta, err := f.jobs.Stopper.Stop(t.Context(), op, id)
		require.NoError(t, err)
		require.Equal(t, domain.StatusStopped, meta.Status)
		require.Empty(t, meta.FailureMessage)
		_, err = f.jobs.Inspector.Status(t.Context(), op, id)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ready", func(t *testing.T) {
		f := newFixture(t)
		op := converter()
		id, err := f.jobs.Launcher.Start(t.Context(), op, converterPayload())
		require.NoError(t, err)
		f.waitFor(t, op, id, domain.StatusReady)

		_, err = f.jobs.Stopper.Stop(t.Context(), op, id)
		require.NoError(t, err)
		_, err = f.jobs.Retriever.Download(t.Context(), op, id)
		require.ErrorIs(t, err, domain.ErrNotFound)
		require.True(t, f.events.Has(domain.EventStopped, id))
	})
}

func TestValidationCreatesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	op := converter()

	id, err := f.jobs.Launcher.Start(t.Context(), op, domain.Payload{Files: map[string]io.Reader{
		"std": strings.NewReader("only one"),
	}})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "seq", verr.Field)
	require.Empty(t, id)
	require.Empty(t, f.workspaces(t))
	require.Empty(t, f.registry.List())
}

func TestOperationScopesTasks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	op := converter()
	id, err := f.jobs.Launcher.Start(t.Context(), op, converterPayload())
	require.NoError(t, err)

	other := op
	other.Name = "cymeToGridlab"
	_, err = f.jobs.Inspector.Status(t.Context(), other, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.jobs.Stopper.Stop(t.Context(), other, id)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.jobs.Inspector.Status(t.Context(), op, id)
	require.NoError(t, err)
}

func TestDownloadStopRace(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	op := converter()

	for range 20 {
		id, err := f.jobs.Launcher.Start(t.Context(), op, converterPayload())
		require.NoError(t, err)
		f.waitFor(t, op, id, domain.StatusReady)

		var wg sync.WaitGroup
		var downloadErr, stopErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			var art *usecase.Artifact
			art, downloadErr = f.jobs.Retriever.Download(context.Background(), op, id)
			if downloadErr == nil {
				_, _ = io.ReadAll(art)
				_ = art.Close()
			}
		}()
		go func() {
			defer wg.Done()
			_, stopErr = f.jobs.Stopper.Stop(context.Background(), op, id)
		}()
		wg.Wait()

		require.True(t, (downloadErr == nil) != (stopErr == nil), "exactly one of download and stop wins")
		if downloadErr != nil {
			require.ErrorIs(t, downloadErr, domain.ErrNotFound)
		} else {
			require.ErrorIs(t, stopErr, domain.ErrNotFound)
		}
	}
	require.Empty(t, f.workspaces(t))
}

type failingExecutor struct{}

func (failingExecutor) Submit(domain.Task, domain.Operation) error { return errors.New("pool closed") }
func (failingExecutor) Cancel(string) bool                         { return false }
func (failingExecutor) Shutdown(context.Context) error             { return nil }

func TestSubmitFailureLeavesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	jobs := usecase.New(usecase.Deps{Registry: f.registry, Store: f.store, Executor: failingExecutor{}})

	_, err := jobs.Launcher.Start(t.Context(), converter(), converterPayload())
	require.ErrorContains(t, err, "pool closed")
	require.Empty(t, f.workspaces(t))
	require.Empty(t, f.registry.List())
}

// stickyStore fails to delete workspaces.
type stickyStore struct {
	*storage.Store
}

func (stickyStore) Remove(string) error { return errors.New("device or resource busy") }

func TestStopSurvivesWorkspaceRemovalFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	jobs := usecase.New(usecase.Deps{
		Registry: f.registry,
		Store:    stickyStore{f.store},
		Executor: f.pool,
		Events:   f.events,
	})
	op := converter()
	id, err := jobs.Launcher.Start(t.Context(), op, converterPayload())
	require.NoError(t, err)
	f.waitFor(t, op, id, domain.StatusReady)

	meta, err := jobs.Stopper.Stop(t.Context(), op, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusStopped, meta.Status)
	require.True(t, f.events.Has(domain.EventStopped, id))

	_, err = jobs.Inspector.Status(t.Context(), op, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, []string{id}, f.workspaces(t), "the leftover workspace is the reaper's")
}
