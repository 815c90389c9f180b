// Package registry holds the live tasks of this process in a concurrent map.
package registry

import (
	"errors"
	"gridjobs/internal/domain"
	"gridjobs/internal/ports"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

var ErrDuplicate = errors.New("task id already registered")

var _ ports.Registry = (*Memory)(nil)

type Memory struct {
	tasks *xsync.MapOf[string, domain.Task]
}

func New() *Memory {
	return &Memory{tasks: xsync.NewMapOf[string, domain.Task]()}
}

func (m *Memory) Add(t domain.Task) error {
	if _, loaded := m.tasks.LoadOrStore(t.ID, t); loaded {
		return ErrDuplicate
	}
	return nil
}

func (m *Memory) Get(id string) (domain.Task, bool) {
	return m.tasks.Load(id)
}

func (m *Memory) Remove(id string) (domain.Task, bool) {
	return m.tasks.LoadAndDelete(id)
}

// List returns a snapshot ordered by creation time.
func (m *Memory) List() []domain.Task {
	out := make([]domain.Task, 0, m.tasks.Size())
	m.tasks.Range(func(_ string, t domain.Task) bool {
		out = append(out, t)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
