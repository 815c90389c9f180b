package registry_test

import (
	"gridjobs/internal/domain"
	"gridjobs/internal/registry"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	now := time.Now()

	first := domain.Task{ID: "b", Op: "gridlabRun", CreatedAt: now}
	second := domain.Task{ID: "a", Op: "gridlabRun", CreatedAt: now.Add(time.Second)}
	require.NoError(t, reg.Add(second))
	require.NoError(t, reg.Add(first))
	require.ErrorIs(t, reg.Add(first), registry.ErrDuplicate)

	got, ok := reg.Get("b")
	require.True(t, ok)
	require.Equal(t, first, got)

	require.Equal(t, []domain.Task{first, second}, reg.List())

	removed, ok := reg.Remove("b")
	require.True(t, ok)
	require.Equal(t, first, removed)
	_, ok = reg.Remove("b")
	require.False(t, ok)
	_, ok = reg.Get("b")
	require.False(t, ok)
}

func TestRemoveHasSingleWinner(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	require.NoError(t, reg.Add(domain.Task{ID: "x"}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := reg.Remove("x"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}
