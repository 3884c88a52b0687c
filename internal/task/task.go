// Package task derives the executable unit of one identifier from the
// aggregated context.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/vk/litweave/internal/block"
)

// Payload is the kind-specific part of a Task. Exactly one variant exists per
// block.Kind.
type Payload interface {
	isPayload()
}

// RawBlock is the payload of a raw_block task.
type RawBlock struct {
	Content string
}

// OutFile is the payload of an out_file task.
type OutFile struct {
	Inputs []string
}

// Session is the payload of a session task.
type Session struct {
	Command block.Command
	// Input holds the content lines of every block sharing the identifier,
	// in encounter order, line endings included.
	Input            []string
	ExpectedExitCode int
	Timeout          time.Duration
	InputDelay       time.Duration
	Env              map[string]string
}

// Meta is the payload of a meta task.
type Meta struct{}

// Unknown is the payload of a task whose lptype is not recognized.
type Unknown struct {
	Name string
}

func (RawBlock) isPayload() {}
func (OutFile) isPayload()  {}
func (Session) isPayload()  {}
func (Meta) isPayload()     {}
func (Unknown) isPayload()  {}

// Defaults are the session settings used when a task does not declare them.
type Defaults struct {
	Timeout    time.Duration
	InputDelay time.Duration
	// Shell is the interactive shell used when neither the command option
	// nor the block language names a command.
	Shell []string
}

// DefaultDefaults mirrors the settings of a plain build.
var DefaultDefaults = Defaults{
	Timeout:    9 * time.Second,
	InputDelay: 10 * time.Millisecond,
	Shell:      []string{"bash", "-i"},
}

// languageCommands are the commands implied by a block language.
var languageCommands = map[string][]string{
	"python": {"python3"},
	"bash":   {"bash"},
	"shell":  {"bash"},
	"sh":     {"sh"},
}

// Task is the unit the scheduler executes for one identifier.
type Task struct {
	ID      string
	Kind    block.Kind
	Deps    []string
	Blocks  []*block.Block
	Options block.Options
	Payload Payload
}

// New derives the task of an identifier.
func New(id string, blocks []*block.Block, opts block.Options, deps []string, d Defaults) *Task {
	t := &Task{
		ID:      id,
		Kind:    opts.Kind(),
		Deps:    deps,
		Blocks:  blocks,
		Options: opts,
	}

	switch t.Kind {
	case block.KindRawBlock:
		t.Payload = RawBlock{Content: t.Content()}
	case block.KindOutFile:
		t.Payload = OutFile{Inputs: deps}
	case block.KindSession:
		t.Payload = newSession(blocks, opts, d)
	case block.KindMeta:
		t.Payload = Meta{}
	default:
		t.Payload = Unknown{Name: opts.TypeName()}
	}
	return t
}

func newSession(blocks []*block.Block, opts block.Options, d Defaults) Session {
	s := Session{
		Timeout:    d.Timeout,
		InputDelay: d.InputDelay,
		Env:        opts.Env,
	}
	if opts.ExpectedExitCode != nil {
		s.ExpectedExitCode = *opts.ExpectedExitCode
	}
	if opts.Timeout != nil {
		s.Timeout = seconds(*opts.Timeout)
	}
	if opts.InputDelay != nil {
		s.InputDelay = seconds(*opts.InputDelay)
	}
	for _, b := range blocks {
		s.Input = append(s.Input, b.ContentLines()...)
	}

	switch {
	case opts.Command != nil:
		s.Command = *opts.Command
	default:
		if args, ok := languageCommands[strings.ToLower(contentLanguage(blocks))]; ok {
			s.Command = block.Command{Args: args}
		} else {
			s.Command = block.Command{Args: d.Shell}
		}
	}
	return s
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// contentLanguage is the language of the first block carrying content.
func contentLanguage(blocks []*block.Block) string {
	for _, b := range blocks {
		if b.Content != "" {
			return b.Language
		}
	}
	if len(blocks) > 0 {
		return blocks[0].Language
	}
	return ""
}

// Content is the concatenated literal content of every block.
func (t *Task) Content() string {
	var sb strings.Builder
	for _, b := range t.Blocks {
		sb.WriteString(b.Content)
	}
	return sb.String()
}

// Namespace is the document path owning the task.
func (t *Task) Namespace() string {
	if len(t.Blocks) == 0 {
		return ""
	}
	return t.Blocks[0].Path
}

// FilePath returns the artifact path, if the identifier declares one.
func (t *Task) FilePath() (string, bool) {
	if t.Options.FilePath == nil || *t.Options.FilePath == "" {
		return "", false
	}
	return *t.Options.FilePath, true
}

// Encoding returns the declared artifact encoding, or utf-8.
func (t *Task) Encoding() string {
	if t.Options.Encoding == nil || *t.Options.Encoding == "" {
		return "utf-8"
	}
	return *t.Options.Encoding
}

// Executable reports whether the artifact gets execute permission bits.
func (t *Task) Executable() bool {
	return t.Options.IsExecutable != nil && *t.Options.IsExecutable
}

// Description is a one-line summary for the cache manifest, built from the
// first block's location, info string and first content line.
func (t *Task) Description() string {
	if len(t.Blocks) == 0 {
		return "@" + t.ID
	}
	b := t.Blocks[0]
	first := ""
	for _, blk := range t.Blocks {
		if lines := blk.ContentLines(); len(lines) > 0 {
			first = lines[0]
			break
		}
	}
	desc := fmt.Sprintf("@%6d - %-9s - %s", b.FirstLine, b.InfoString, first)
	desc = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, desc)
	return strings.TrimSpace(desc)
}
