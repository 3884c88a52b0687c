// Package localsession provides a concrete implementation of the
// session.Starter and session.Session interfaces backed by a local child
// process.
package localsession

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/vk/litweave/internal/ctxlog"
	lperrors "github.com/vk/litweave/internal/errors"
	"github.com/vk/litweave/internal/session"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Starter implements session.Starter for local processes.
type Starter struct{}

// New creates a new local session starter.
func New() *Starter {
	return &Starter{}
}

// Start implements session.Starter.
func (s *Starter) Start(ctx context.Context, argv []string, opts ...session.Option) (session.Session, error) {
	return Start(ctx, argv, opts...)
}

// Runner implements session.Session for one child process.
type Runner struct {
	argv []string
	opts session.Options
	enc  encoding.Encoding

	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	outCh  chan []session.Line
	errCh  chan []session.Line
	exited chan struct{}
	state  *os.ProcessState
	werr   error

	mu       sync.Mutex
	start    time.Time
	end      time.Time
	waited   bool
	timedOut bool
	exitCode int
	outLines []session.Line
	errLines []session.Line
}

// Start launches argv with piped stdin, stdout and stderr and begins
// capturing both output streams.
func Start(ctx context.Context, argv []string, opts ...session.Option) (*Runner, error) {
	logger := ctxlog.FromContext(ctx)
	if len(argv) == 0 {
		return nil, lperrors.New(lperrors.ESessionStart, "empty command")
	}

	r := &Runner{
		argv:   append([]string(nil), argv...),
		opts:   session.NewOptions(opts...),
		outCh:  make(chan []session.Line, 1),
		errCh:  make(chan []session.Line, 1),
		exited: make(chan struct{}),
	}
	r.enc = r.opts.Encoding
	if r.enc == nil {
		r.enc = unicode.UTF8
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = mergeEnv(os.Environ(), r.opts.Env)
	cmd.Dir = r.opts.Dir
	cmd.SysProcAttr = sysProcAttr()

	// The child ends of the pipes are handed to the process directly so that
	// the parent alone decides when the read ends are closed.
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, lperrors.Wrap(lperrors.ESessionStart, "failed to create stdin pipe", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW)
		return nil, lperrors.Wrap(lperrors.ESessionStart, "failed to create stdout pipe", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, lperrors.Wrap(lperrors.ESessionStart, "failed to create stderr pipe", err)
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = inR, outW, errW

	logger.Debug("Starting session process.", "argv", argv, "dir", r.opts.Dir)
	r.start = time.Now()
	if err := cmd.Start(); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, lperrors.Wrap(lperrors.ESessionStart, fmt.Sprintf("failed to start %q", strings.Join(argv, " ")), err)
	}
	closeAll(inR, outW, errW)

	r.cmd, r.stdin, r.stdout, r.stderr = cmd, inW, outR, errR

	go r.capture(outR, session.StreamStdout, r.outCh)
	go r.capture(errR, session.StreamStderr, r.errCh)
	go func() {
		// cmd.Wait would close the read ends before the readers are done.
		r.state, r.werr = cmd.Process.Wait()
		close(r.exited)
	}()

	return r, nil
}

// capture reads src line by line until EOF and delivers the lines in order.
func (r *Runner) capture(src io.Reader, stream session.Stream, out chan<- []session.Line) {
	var lines []session.Line
	br := bufio.NewReader(transform.NewReader(src, r.enc.NewDecoder()))
	for {
		text, err := br.ReadString('\n')
		if text != "" {
			ts := time.Now().UnixMicro()
			text = strings.TrimSuffix(text, "\n")
			text = strings.TrimSuffix(text, "\r")
			lines = append(lines, session.Line{Timestamp: ts, Text: text, Stream: stream})
		}
		if err != nil {
			break
		}
	}
	out <- lines
}

// Send implements session.Session.
func (r *Runner) Send(ctx context.Context, text string) error {
	data, err := r.enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return fmt.Errorf("failed to encode session input: %w", err)
	}
	if _, err := r.stdin.Write(data); err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) {
			// The process is already gone; Wait reports how it ended.
			ctxlog.FromContext(ctx).Debug("Session stdin already closed.", "argv", r.argv)
			return nil
		}
		return fmt.Errorf("failed to write session input: %w", err)
	}
	if r.opts.InputDelay > 0 {
		select {
		case <-time.After(r.opts.InputDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Wait implements session.Session.
func (r *Runner) Wait(ctx context.Context, timeout time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waited {
		return r.exitCode, nil
	}
	logger := ctxlog.FromContext(ctx)

	if err := r.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Debug("Closing session stdin failed.", "error", err)
	}

	timer := time.NewTimer(time.Until(r.start.Add(timeout)))
	defer timer.Stop()

	select {
	case <-r.exited:
	case <-timer.C:
		logger.Warn("Session timed out, terminating.", "argv", r.argv, "timeout", timeout)
		r.timedOut = true
		r.terminate(ctx)
	case <-ctx.Done():
		logger.Warn("Session cancelled, terminating.", "argv", r.argv)
		r.terminate(ctx)
	}
	r.end = time.Now()

	r.outLines = r.drain(ctx, r.outCh, r.stdout)
	r.errLines = r.drain(ctx, r.errCh, r.stderr)
	closeAll(r.stdout, r.stderr)

	if r.werr != nil {
		return 0, lperrors.Wrap(lperrors.EInternal, "failed to wait for session process", r.werr)
	}
	r.exitCode = exitStatus(r.state)
	r.waited = true
	logger.Debug("Session finished.",
		"argv", r.argv,
		"exit_code", r.exitCode,
		"runtime", r.end.Sub(r.start),
		"stdout_lines", len(r.outLines),
		"stderr_lines", len(r.errLines),
	)
	return r.exitCode, nil
}

// terminate sends SIGTERM, then SIGKILL after the kill grace, and blocks
// until the process is reaped.
func (r *Runner) terminate(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	if err := signalTerm(r.cmd.Process); err != nil {
		logger.Debug("SIGTERM failed.", "error", err)
	}
	select {
	case <-r.exited:
		return
	case <-time.After(r.opts.KillGrace):
	}
	logger.Warn("Session ignored SIGTERM, killing.", "argv", r.argv)
	if err := signalKill(r.cmd.Process); err != nil {
		logger.Debug("SIGKILL failed.", "error", err)
	}
	<-r.exited
}

// drain collects the lines of one reader. If the stream is still open after
// the drain grace, its read end is closed to unblock the reader.
func (r *Runner) drain(ctx context.Context, ch <-chan []session.Line, src *os.File) []session.Line {
	select {
	case lines := <-ch:
		return lines
	case <-time.After(r.opts.DrainGrace):
	}
	ctxlog.FromContext(ctx).Debug("Output stream still open after exit, closing it.", "argv", r.argv)
	_ = src.Close()
	return <-ch
}

// TimedOut implements session.Session.
func (r *Runner) TimedOut() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timedOut
}

// Stdout implements session.Session.
func (r *Runner) Stdout() []session.Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outLines
}

// Stderr implements session.Session.
func (r *Runner) Stderr() []session.Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errLines
}

// ExitCode implements session.Session.
func (r *Runner) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitCode
}

// Capture implements session.Session.
func (r *Runner) Capture() *session.Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &session.Capture{
		Command:  r.argv,
		ExitCode: r.exitCode,
		Runtime:  r.end.Sub(r.start),
		Stdout:   r.outLines,
		Stderr:   r.errLines,
	}
}

// mergeEnv appends extra entries to base in key order. exec keeps the last
// value of a duplicated key.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := append([]string(nil), base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
