package ops_test

import (
	"errors"
	"gridjobs/internal/domain"
	"gridjobs/internal/infra/ops"
	"gridjobs/internal/storage"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func osWorkspace(t *testing.T, fields map[string]string) (*storage.Store, domain.Workspace) {
	t.Helper()
	store, err := storage.NewOS(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Create("task"))
	require.NoError(t, store.SaveFields("task", fields))
	return store, store.Workspace("task")
}

func readArtifact(t *testing.T, ws domain.Workspace, name string) string {
	t.Helper()
	r, err := ws.Open(name)
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestToolSpec(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	var tcs = []struct {
		scenario string
		spec     ops.ToolSpec
		then     string
	}{
		{
			scenario: "stdout is the artifact",
			spec:     ops.ToolSpec{Command: []string{sh, "-c", "echo ${TASK_ID} ${field.year}"}},
			then:     "task 2017\n",
		},
		{
			scenario: "output file",
			spec: ops.ToolSpec{
				Command: []string{sh, "-c", `printf '{"ok":true}' > gfm_out.json`},
				Output:  "gfm_out.json",
				Parse:   "json",
			},
			then: `{"ok":true}`,
		},
		{
			scenario: "unparsable output falls back to stdout",
			spec: ops.ToolSpec{
				Command: []string{sh, "-c", `printf 'not json' > gfm_out.json; echo raw solver log`},
				Output:  "gfm_out.json",
				Parse:   "json",
			},
			then: "raw solver log\n",
		},
		{
			scenario: "missing output falls back to stdout",
			spec: ops.ToolSpec{
				Command:  []string{sh, "-c", "echo only stdout"},
				Output:   "gfm_out.json",
				Fallback: ops.FallbackStdout,
			},
			then: "only stdout\n",
		},
		{
			scenario: "output is the artifact",
			spec: ops.ToolSpec{
				Command: []string{sh, "-c", `printf glm > out.txt`},
				Output:  "out.txt",
			},
			then: "glm",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			_, ws := osWorkspace(t, map[string]string{"year": "2017"})
			tc.spec.Artifact = "out.txt"
			require.NoError(t, tc.spec.Work(t.Context(), ws))
			require.Equal(t, tc.then, readArtifact(t, ws, "out.txt"))
		})
	}
}

func TestToolSpecFailures(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	t.Run("exit code", func(t *testing.T) {
		_, ws := osWorkspace(t, nil)
		spec := ops.ToolSpec{Command: []string{sh, "-c", "echo java.lang.OutOfMemoryError >&2; exit 2"}, Artifact: "out"}
		err := spec.Work(t.Context(), ws)
		var te *domain.ExternalToolError
		require.True(t, errors.As(err, &te))
		require.Equal(t, 2, te.ExitCode)
		require.Equal(t, "sh", te.Tool)
		require.Contains(t, te.Error(), "java.lang.OutOfMemoryError")
	})

	t.Run("fallback fail", func(t *testing.T) {
		_, ws := osWorkspace(t, nil)
		spec := ops.ToolSpec{
			Command:  []string{sh, "-c", "echo nothing"},
			Output:   "gfm_out.json",
			Fallback: ops.FallbackFail,
			Artifact: "out",
		}
		err := spec.Work(t.Context(), ws)
		var te *domain.ExternalToolError
		require.True(t, errors.As(err, &te))
		require.Zero(t, te.ExitCode)
	})

	t.Run("timeout", func(t *testing.T) {
		_, ws := osWorkspace(t, nil)
		spec := ops.ToolSpec{Command: []string{sh, "-c", "sleep 5"}, Timeout: 50 * time.Millisecond, Artifact: "out"}
		require.Error(t, spec.Work(t.Context(), ws))
	})

	t.Run("memory workspace", func(t *testing.T) {
		store, err := storage.New(afero.NewMemMapFs(), "/scratch")
		require.NoError(t, err)
		require.NoError(t, store.Create("task"))
		spec := ops.ToolSpec{Command: []string{sh, "-c", "true"}, Artifact: "out"}
		err = spec.Work(t.Context(), store.Workspace("task"))
		require.True(t, strings.Contains(err.Error(), "local filesystem"))
	})
}
