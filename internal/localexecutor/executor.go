// Package localexecutor provides a concrete, in-process implementation of the
// executor.Executor interface.
package localexecutor

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/vk/litweave/internal/cache"
	"github.com/vk/litweave/internal/ctxlog"
	lperrors "github.com/vk/litweave/internal/errors"
	"github.com/vk/litweave/internal/executor"
	"github.com/vk/litweave/internal/graph"
	"github.com/vk/litweave/internal/metrics"
	"github.com/vk/litweave/internal/session"
	"github.com/vk/litweave/internal/task"
)

// Executor implements the executor.Executor interface for local execution.
type Executor struct {
	graph   graph.Graph
	starter session.Starter
	cache   *cache.Cache
	metrics *metrics.Metrics
	errW    io.Writer
	workDir string

	sessionsRun atomic.Int64
}

// Option configures an Executor.
type Option func(*Executor)

// WithCache enables the result cache.
func WithCache(c *cache.Cache) Option {
	return func(e *Executor) { e.cache = c }
}

// WithMetrics records task metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithErrorWriter sets where the stderr of failed sessions is written.
func WithErrorWriter(w io.Writer) Option {
	return func(e *Executor) { e.errW = w }
}

// WithWorkDir resolves relative artifact paths against dir.
func WithWorkDir(dir string) Option {
	return func(e *Executor) { e.workDir = dir }
}

// New creates a new local executor.
func New(g graph.Graph, starter session.Starter, opts ...Option) *Executor {
	e := &Executor{
		graph:   g,
		starter: starter,
		metrics: metrics.New(),
		errW:    os.Stderr,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ executor.Executor = (*Executor)(nil)

// SessionsRun is the number of sessions actually executed, cache hits
// excluded.
func (e *Executor) SessionsRun() int {
	return int(e.sessionsRun.Load())
}

// Execute implements executor.Executor.
func (e *Executor) Execute(ctx context.Context, t *task.Task) (string, error) {
	logger := ctxlog.FromContext(ctx).With("lpid", t.ID, "kind", t.Kind.String())
	ctx = ctxlog.WithLogger(ctx, logger)

	out, err := e.execute(ctx, t)
	if err != nil {
		e.metrics.TaskFinished(t.Kind.String(), metrics.OutcomeFailed)
		return "", err
	}

	if path, ok := t.FilePath(); ok {
		if err := e.writeArtifact(ctx, t, path, out); err != nil {
			e.metrics.TaskFinished(t.Kind.String(), metrics.OutcomeFailed)
			return "", err
		}
	}
	e.metrics.TaskFinished(t.Kind.String(), metrics.OutcomeDone)
	return out, nil
}

func (e *Executor) execute(ctx context.Context, t *task.Task) (string, error) {
	switch p := t.Payload.(type) {
	case task.RawBlock:
		e.bind(t, p.Content)
		return p.Content, nil
	case task.OutFile:
		out, err := e.concatInputs(ctx, t, p)
		if err != nil {
			return "", err
		}
		e.bind(t, out)
		return out, nil
	case task.Session:
		return e.runSession(ctx, t, p)
	case task.Meta:
		e.bind(t, "")
		return "", nil
	case task.Unknown:
		return "", e.locate(t, lperrors.EUnhandledKind, "unhandled lptype '%s' for lpid=%s", p.Name, t.ID)
	default:
		return "", e.locate(t, lperrors.EUnhandledKind, "unhandled payload %T for lpid=%s", p, t.ID)
	}
}

// concatInputs joins the outputs of the inputs in declared order.
func (e *Executor) concatInputs(ctx context.Context, t *task.Task, p task.OutFile) (string, error) {
	var sb strings.Builder
	for _, in := range p.Inputs {
		out, ok := e.graph.Output(ctx, in)
		if !ok {
			return "", e.locate(t, lperrors.EInternal, "input %s of lpid=%s has no output", in, t.ID)
		}
		sb.WriteString(out)
	}
	return sb.String(), nil
}

// bind registers a non-session output with the cache.
func (e *Executor) bind(t *task.Task, out string) {
	if e.cache != nil {
		e.cache.Bind(t, session.Digest([]byte(out)))
	}
}

var tempfilePlaceholder = regexp.MustCompile(`<TEMPFILE([.\w]*)>`)

func (e *Executor) runSession(ctx context.Context, t *task.Task, p task.Session) (string, error) {
	logger := ctxlog.FromContext(ctx)

	if e.cache != nil {
		if capture, ok := e.cache.Get(ctx, t); ok {
			e.metrics.CacheLookup(true)
			data, err := capture.Marshal()
			if err == nil {
				e.cache.Bind(t, session.Digest(data))
			}
			logger.Debug("Session output taken from cache.")
			return capture.Output(), nil
		}
		e.metrics.CacheLookup(false)
	}

	argv, err := p.Command.Argv()
	if err != nil {
		return "", e.locate(t, lperrors.EParse, "invalid command for lpid=%s: %v", t.ID, err)
	}
	if len(argv) == 0 {
		return "", e.locate(t, lperrors.EParse, "empty command for lpid=%s", t.ID)
	}

	input := p.Input
	tmpPath, err := e.substituteTempfile(argv, t.Content())
	if err != nil {
		return "", err
	}
	if tmpPath != "" {
		defer os.Remove(tmpPath)
		input = nil
	}

	opts := []session.Option{
		session.WithEnv(p.Env),
		session.WithInputDelay(p.InputDelay),
		session.WithDir(e.workDir),
	}
	if t.Options.Encoding != nil {
		enc, err := lookupEncoding(t.Encoding())
		if err != nil {
			return "", e.locate(t, lperrors.EParse, "lpid=%s: %v", t.ID, err)
		}
		opts = append(opts, session.WithEncoding(enc))
	}

	logger.Info("Running session.", "command", p.Command.String(), "lines", len(input))
	s, err := e.starter.Start(ctx, argv, opts...)
	if err != nil {
		return "", err
	}
	for _, line := range input {
		if err := s.Send(ctx, line); err != nil {
			logger.Warn("Failed to send session input.", "error", err)
			break
		}
	}
	code, err := s.Wait(ctx, p.Timeout)
	if err != nil {
		return "", err
	}
	e.sessionsRun.Add(1)

	capture := s.Capture()
	e.metrics.SessionRan(capture.Runtime)
	logger.Debug("Session exited.", "exit_code", code, "runtime", capture.Runtime)

	if code != p.ExpectedExitCode {
		e.reportFailure(input, capture)
		errCode := lperrors.ESessionExit
		if s.TimedOut() {
			errCode = lperrors.ESessionTimeout
		}
		return "", e.locate(t, errCode, "lpid=%s: %q exited with %d, expected %d", t.ID, p.Command.String(), code, p.ExpectedExitCode)
	}

	if e.cache != nil {
		if err := e.cache.Update(ctx, t, capture); err != nil {
			logger.Warn("Failed to cache session capture.", "error", err)
		}
	}
	return capture.Output(), nil
}

// substituteTempfile writes content to a temporary file and replaces every
// <TEMPFILE.ext> placeholder in argv with its path. It returns the path, or
// "" when argv has no placeholder.
func (e *Executor) substituteTempfile(argv []string, content string) (string, error) {
	var suffix string
	found := false
	for _, arg := range argv {
		if m := tempfilePlaceholder.FindStringSubmatch(arg); m != nil {
			suffix, found = m[1], true
			break
		}
	}
	if !found {
		return "", nil
	}

	f, err := os.CreateTemp("", "litweave_*"+suffix)
	if err != nil {
		return "", lperrors.Wrap(lperrors.EIO, "failed to create session tempfile", err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", lperrors.Wrap(lperrors.EIO, "failed to write session tempfile", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", lperrors.Wrap(lperrors.EIO, "failed to write session tempfile", err)
	}
	for i, arg := range argv {
		argv[i] = tempfilePlaceholder.ReplaceAllLiteralString(arg, f.Name())
	}
	return f.Name(), nil
}

// reportFailure echoes the numbered input and the captured stderr of a
// failed session to the error writer.
func (e *Executor) reportFailure(input []string, capture *session.Capture) {
	width := len(fmt.Sprint(len(input)))
	for i, line := range input {
		fmt.Fprintf(e.errW, "In [%*d]: %s", width, i+1, line)
		if !strings.HasSuffix(line, "\n") {
			fmt.Fprintln(e.errW)
		}
	}
	for _, l := range capture.Stderr {
		fmt.Fprintln(e.errW, l.Text)
	}
}

func (e *Executor) locate(t *task.Task, code lperrors.Code, format string, args ...any) error {
	path, line := "", 0
	if len(t.Blocks) > 0 {
		path, line = t.Blocks[0].Path, t.Blocks[0].FirstLine
	}
	return lperrors.At(code, path, line, format, args...)
}
