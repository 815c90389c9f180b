package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"gridjobs/internal/domain"
	"gridjobs/internal/ports"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const stderrTailLines = 20

// Process runs each task in a child process: Path Args... work --root R --op
// O --id I. The child applies the Boundary itself. The parent only steps in
// when the child dies without leaving either terminal record.
type Process struct {
	Path      string
	Args      []string
	Env       []string
	Root      string
	Store     ports.Store
	WaitDelay time.Duration
}

func (p Process) command(ctx context.Context, t domain.Task, op domain.Operation) *exec.Cmd {
	args := append([]string(nil), p.Args...)
	args = append(args, "work", "--root", p.Root, "--op", op.Name, "--id", t.ID)
	cmd := exec.CommandContext(ctx, p.Path, args...)
	// the crash report reads the child's log records as JSON
	cmd.Env = append(os.Environ(), "GRIDJOBS_LOG_PRETTY=false")
	cmd.Env = append(cmd.Env, p.Env...)
	stopGroup(cmd)
	cmd.WaitDelay = p.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	return cmd
}

func (p Process) Run(ctx context.Context, t domain.Task, op domain.Operation) error {
	cmd := p.command(ctx, t, op)
	stderr := &lineLogger{ctx: ctx}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("starting worker process: %w", err)
		if rerr := p.Store.RecordFailure(t.ID, err.Error()); rerr != nil {
			log.Ctx(ctx).Warn().Err(rerr).Msg("recording start failure")
		}
		return err
	}
	log.Ctx(ctx).Debug().Int("pid", cmd.Process.Pid).Msg("worker process started")

	err := cmd.Wait()
	if ctx.Err() != nil {
		killGroup(cmd)
		return ctx.Err()
	}

	out, perr := p.Store.Probe(t.ID, op.Artifact)
	if perr != nil || out.Failed || out.Done {
		return err
	}

	msg := "worker process exited without a result"
	if err != nil {
		msg = "worker process exited: " + err.Error()
	}
	if tail := stderr.Tail(); tail != "" {
		msg += "\n" + tail
	}
	if rerr := p.Store.RecordFailure(t.ID, msg); rerr != nil {
		log.Ctx(ctx).Warn().Err(rerr).Msg("recording crash")
	}
	return err
}

// lineLogger forwards child stderr to the log line by line and keeps the
// last lines for crash reports. The child's own structured log records only
// enter the tail from level error up; anything else the child prints, such
// as a runtime panic, always does. exec copies into it from a single
// goroutine.
type lineLogger struct {
	ctx     context.Context
	partial bytes.Buffer
	tail    []string
}

func (l *lineLogger) Write(b []byte) (int, error) {
	l.partial.Write(b)
	for {
		line, err := l.partial.ReadString('\n')
		if err != nil {
			// incomplete line stays buffered
			l.partial.Reset()
			l.partial.WriteString(line)
			break
		}
		l.add(strings.TrimRight(line, "\r\n"))
	}
	return len(b), nil
}

// childRecord is the part of a child's zerolog line a crash report needs.
type childRecord struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// faultText returns the text line contributes to a crash report, or "" when
// it is routine child logging.
func faultText(line string) string {
	var rec childRecord
	if !strings.HasPrefix(line, "{") || json.Unmarshal([]byte(line), &rec) != nil || rec.Level == "" {
		return line
	}
	lvl, err := zerolog.ParseLevel(rec.Level)
	if err != nil || lvl < zerolog.ErrorLevel || lvl == zerolog.NoLevel {
		return ""
	}
	switch {
	case rec.Error != "" && rec.Message != "":
		return rec.Message + ": " + rec.Error
	case rec.Error != "":
		return rec.Error
	default:
		return rec.Message
	}
}

func (l *lineLogger) add(line string) {
	if line == "" {
		return
	}
	log.Ctx(l.ctx).Debug().Str("stream", "stderr").Msg(line)
	if line = faultText(line); line == "" {
		return
	}
	l.tail = append(l.tail, line)
	if len(l.tail) > stderrTailLines {
		l.tail = l.tail[len(l.tail)-stderrTailLines:]
	}
}

func (l *lineLogger) Tail() string {
	if l.partial.Len() > 0 {
		l.add(l.partial.String())
		l.partial.Reset()
	}
	return strings.Join(l.tail, "\n")
}
