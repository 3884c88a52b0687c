// Package session defines how litweave drives one interactive process and
// what it records about it. The process-backed implementation lives in
// internal/localsession.
package session

import (
	"context"
	"time"

	"golang.org/x/text/encoding"
)

// Defaults for Options fields left unset.
const (
	DefaultInputDelay = 10 * time.Millisecond
	DefaultKillGrace  = 2 * time.Second
	DefaultDrainGrace = 500 * time.Millisecond
)

// Options configure one session.
type Options struct {
	// Env entries are added on top of the process environment.
	Env map[string]string
	// Dir is the working directory of the process. Empty means the current
	// directory.
	Dir string
	// InputDelay is the pause after every Send.
	InputDelay time.Duration
	// Encoding of stdin and the captured streams. Nil means UTF-8.
	Encoding encoding.Encoding
	// KillGrace is the time between SIGTERM and SIGKILL on timeout.
	KillGrace time.Duration
	// DrainGrace bounds how long Wait waits for the output streams to reach
	// EOF once the process is gone. Orphaned grandchildren may hold them open.
	DrainGrace time.Duration
}

// Option mutates Options.
type Option func(*Options)

// WithEnv adds environment entries.
func WithEnv(env map[string]string) Option {
	return func(o *Options) { o.Env = env }
}

// WithDir sets the working directory of the process.
func WithDir(dir string) Option {
	return func(o *Options) { o.Dir = dir }
}

// WithInputDelay sets the pause after every Send.
func WithInputDelay(d time.Duration) Option {
	return func(o *Options) { o.InputDelay = d }
}

// WithEncoding sets the stream encoding.
func WithEncoding(enc encoding.Encoding) Option {
	return func(o *Options) { o.Encoding = enc }
}

// WithKillGrace sets the time between SIGTERM and SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(o *Options) { o.KillGrace = d }
}

// WithDrainGrace sets how long to wait for output streams after exit.
func WithDrainGrace(d time.Duration) Option {
	return func(o *Options) { o.DrainGrace = d }
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{
		InputDelay: DefaultInputDelay,
		KillGrace:  DefaultKillGrace,
		DrainGrace: DefaultDrainGrace,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Starter starts sessions.
type Starter interface {
	Start(ctx context.Context, argv []string, opts ...Option) (Session, error)
}

// Session is one running interactive process.
//
// Output is captured concurrently from the moment the session starts. Lines
// are ordered within each stream; the two streams are not merged.
type Session interface {
	// Send encodes text, writes it to stdin and pauses for the input delay.
	Send(ctx context.Context, text string) error

	// Wait closes stdin and waits for the process to exit, measured from the
	// session start. A process still running at the deadline is terminated.
	// Wait returns only after both output streams are fully collected.
	// Calling Wait again returns the recorded exit code.
	Wait(ctx context.Context, timeout time.Duration) (int, error)

	// TimedOut reports whether Wait had to terminate the process.
	TimedOut() bool

	Stdout() []Line
	Stderr() []Line
	ExitCode() int

	// Capture returns the record of a finished session.
	Capture() *Capture
}
