package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"gridjobs/internal/domain"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	FallbackStdout = "stdout"
	FallbackFail   = "fail"

	stderrLimit = 4096
)

// ToolSpec wraps an external binary as a work function. The command runs in
// the task directory; arguments expand ${TASK_DIR}, ${TASK_ID},
// ${field.<name>} and environment variables.
type ToolSpec struct {
	Command  []string      `yaml:"command"`
	Output   string        `yaml:"output"`
	Parse    string        `yaml:"parse"`
	Fallback string        `yaml:"fallback"`
	Timeout  time.Duration `yaml:"timeout"`
	Artifact string        `yaml:"-"`
}

func (s ToolSpec) expand(ws domain.Workspace) []string {
	mapping := func(key string) string {
		switch {
		case key == "TASK_DIR":
			return ws.Dir()
		case key == "TASK_ID":
			return ws.ID()
		case strings.HasPrefix(key, "field."):
			return ws.Field(strings.TrimPrefix(key, "field."))
		default:
			return os.Getenv(key)
		}
	}
	args := make([]string, len(s.Command))
	for i, a := range s.Command {
		args[i] = os.Expand(a, mapping)
	}
	return args
}

func (s ToolSpec) Work(ctx context.Context, ws domain.Workspace) error {
	dir := ws.Dir()
	if dir == "" {
		return errors.New("external tools need a workspace on the local filesystem")
	}
	if len(s.Command) == 0 {
		return errors.New("external tool has no command")
	}
	args := s.expand(ws)
	tool := filepath.Base(args[0])

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Ctx(ctx).Debug().Strs("args", args).Msg("running external tool")
	if err := cmd.Run(); err != nil {
		te := &domain.ExternalToolError{Tool: tool, Stderr: tail(stderr.Bytes()), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			te.ExitCode = exitErr.ExitCode()
		}
		return te
	}

	if s.Output == "" {
		return s.writeArtifact(ws, stdout.Bytes())
	}

	out, err := readAll(ws, s.Output)
	if err == nil && s.Parse == "json" && !json.Valid(out) {
		err = fmt.Errorf("%s is not valid JSON", s.Output)
	}
	if err == nil {
		if s.Output == s.Artifact {
			return nil
		}
		return s.writeArtifact(ws, out)
	}

	if s.Fallback == FallbackFail {
		return &domain.ExternalToolError{Tool: tool, Stderr: tail(stderr.Bytes()), Err: err}
	}
	log.Ctx(ctx).Warn().Err(err).Str("tool", tool).Msg("tool output unusable, falling back to stdout")
	return s.writeArtifact(ws, stdout.Bytes())
}

func (s ToolSpec) writeArtifact(ws domain.Workspace, b []byte) error {
	w, err := ws.Create(s.Artifact)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func readAll(ws domain.Workspace, name string) ([]byte, error) {
	r, err := ws.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func tail(b []byte) string {
	if len(b) > stderrLimit {
		b = b[len(b)-stderrLimit:]
	}
	return string(b)
}
