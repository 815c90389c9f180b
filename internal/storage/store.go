// Package storage keeps task workspaces as directories under a scratch root.
// It works on any afero filesystem so tests can run in memory; external tools
// need the operating system filesystem because they are given a real
// directory to run in.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"gridjobs/internal/domain"
	"gridjobs/internal/ports"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	FailureFile = "error.txt"
	DoneMarker  = ".done"
	FieldsFile  = "inputs.json"
)

var _ ports.Store = (*Store)(nil)

type Store struct {
	fs   afero.Fs
	root string
	real bool
}

// New returns a store rooted at root on fs. The root is created if missing.
func New(fs afero.Fs, root string) (*Store, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch root %s: %w", root, err)
	}
	_, onOS := fs.(*afero.OsFs)
	if onOS {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		root = abs
	}
	return &Store{fs: fs, root: root, real: onOS}, nil
}

func NewOS(root string) (*Store, error) {
	return New(afero.NewOsFs(), root)
}

func (s *Store) Root() string { return s.root }

func (s *Store) dir(id string) string { return filepath.Join(s.root, id) }

func (s *Store) path(id, name string) string { return filepath.Join(s.root, id, name) }

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

func (s *Store) Create(id string) error {
	if !validName(id) {
		return fmt.Errorf("invalid task id %q", id)
	}
	if err := s.fs.Mkdir(s.dir(id), 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	return nil
}

func (s *Store) exists(path string) (bool, error) {
	_, err := s.fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ensureDir stops writers from recreating a workspace that was deleted
// underneath them.
func (s *Store) ensureDir(id string) error {
	if !validName(id) {
		return domain.ErrWorkspaceGone
	}
	ok, err := s.exists(s.dir(id))
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrWorkspaceGone
	}
	return nil
}

func reserved(name string) bool {
	switch name {
	case FailureFile, DoneMarker, FieldsFile:
		return true
	}
	return strings.HasSuffix(name, ".tmp")
}

func (s *Store) SaveInput(id, name string, r io.Reader) error {
	if !validName(name) || reserved(name) {
		return fmt.Errorf("invalid input name %q", name)
	}
	w, err := s.create(id, name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("saving input %s: %w", name, err)
	}
	return w.Close()
}

func (s *Store) SaveFields(id string, fields map[string]string) error {
	if fields == nil {
		fields = map[string]string{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return s.writeAtomic(id, FieldsFile, b)
}

func (s *Store) fields(id string) (map[string]string, error) {
	b, err := afero.ReadFile(s.fs, s.path(id, FieldsFile))
	if err != nil {
		return nil, err
	}
	var fields map[string]string
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", FieldsFile, err)
	}
	return fields, nil
}

func (s *Store) create(id, name string) (afero.File, error) {
	if err := s.ensureDir(id); err != nil {
		return nil, err
	}
	return s.fs.Create(s.path(id, name))
}

func (s *Store) writeAtomic(id, name string, data []byte) error {
	tmp := name + ".tmp"
	f, err := s.create(id, tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return s.fs.Rename(s.path(id, tmp), s.path(id, name))
}

func (s *Store) RecordFailure(id, message string) error {
	return s.writeAtomic(id, FailureFile, []byte(message))
}

func (s *Store) MarkDone(id string) error {
	return s.writeAtomic(id, DoneMarker, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
}

func (s *Store) Probe(id, artifact string) (domain.Outcome, error) {
	var out domain.Outcome
	if !validName(id) {
		return out, domain.ErrNotFound
	}
	ok, err := s.exists(s.dir(id))
	if err != nil {
		return out, err
	}
	if !ok {
		return out, domain.ErrNotFound
	}

	msg, err := afero.ReadFile(s.fs, s.path(id, FailureFile))
	switch {
	case err == nil:
		out.Failed = true
		out.FailureMessage = string(msg)
	case !errors.Is(err, os.ErrNotExist):
		return out, err
	}

	if out.Done, err = s.exists(s.path(id, DoneMarker)); err != nil {
		return out, err
	}
	if validName(artifact) {
		fi, err := s.fs.Stat(s.path(id, artifact))
		out.ArtifactExists = err == nil && !fi.IsDir()
	}
	return out, nil
}

func (s *Store) OpenArtifact(id, artifact string) (io.ReadCloser, int64, error) {
	if !validName(id) || !validName(artifact) {
		return nil, 0, domain.ErrNotFound
	}
	f, err := s.fs.Open(s.path(id, artifact))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, domain.ErrNotFound
		}
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

func (s *Store) Remove(id string) error {
	if !validName(id) {
		return domain.ErrNotFound
	}
	return s.fs.RemoveAll(s.dir(id))
}

func (s *Store) Orphans(before time.Time, keep func(id string) bool) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || !e.ModTime().Before(before) || keep(e.Name()) {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

func (s *Store) Workspace(id string) domain.Workspace {
	return &workspace{s: s, id: id}
}

type workspace struct {
	s  *Store
	id string

	once   sync.Once
	values map[string]string
}

func (w *workspace) ID() string { return w.id }

func (w *workspace) Dir() string {
	if !w.s.real {
		return ""
	}
	return w.s.dir(w.id)
}

func (w *workspace) Open(name string) (io.ReadCloser, error) {
	if !validName(name) {
		return nil, fmt.Errorf("invalid file name %q", name)
	}
	return w.s.fs.Open(w.s.path(w.id, name))
}

func (w *workspace) Create(name string) (io.WriteCloser, error) {
	if !validName(name) {
		return nil, fmt.Errorf("invalid file name %q", name)
	}
	return w.s.create(w.id, name)
}

func (w *workspace) Field(name string) string {
	w.once.Do(func() {
		w.values, _ = w.s.fields(w.id)
	})
	return w.values[name]
}
