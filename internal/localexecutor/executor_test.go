package localexecutor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/litweave/internal/block"
	"github.com/vk/litweave/internal/cache"
	"github.com/vk/litweave/internal/ctxlog"
	lperrors "github.com/vk/litweave/internal/errors"
	"github.com/vk/litweave/internal/graph"
	"github.com/vk/litweave/internal/inmemorystore"
	"github.com/vk/litweave/internal/inmemorytopology"
	"github.com/vk/litweave/internal/localsession"
	"github.com/vk/litweave/internal/session"
	"github.com/vk/litweave/internal/task"
	"github.com/vk/litweave/internal/topologystore"
)

func ptr[T any](v T) *T { return &v }

// fakeSession replays a canned result.
type fakeSession struct {
	sent     []string
	code     int
	timedOut bool
	stdout   []string
	stderr   []string
	argv     []string
}

func (s *fakeSession) Send(_ context.Context, text string) error {
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSession) Wait(context.Context, time.Duration) (int, error) { return s.code, nil }
func (s *fakeSession) TimedOut() bool                                   { return s.timedOut }
func (s *fakeSession) ExitCode() int                                    { return s.code }
func (s *fakeSession) Stdout() []session.Line                           { return lines(s.stdout, session.StreamStdout) }
func (s *fakeSession) Stderr() []session.Line                           { return lines(s.stderr, session.StreamStderr) }

func (s *fakeSession) Capture() *session.Capture {
	return &session.Capture{Command: s.argv, ExitCode: s.code, Stdout: s.Stdout(), Stderr: s.Stderr()}
}

func lines(texts []string, stream session.Stream) []session.Line {
	var out []session.Line
	for i, t := range texts {
		out = append(out, session.Line{Timestamp: int64(i), Text: t, Stream: stream})
	}
	return out
}

// fakeStarter hands out fakeSessions built from its template.
type fakeStarter struct {
	template fakeSession
	onStart  func(argv []string)
	started  []*fakeSession
	options  []session.Options
}

func (f *fakeStarter) Start(_ context.Context, argv []string, opts ...session.Option) (session.Session, error) {
	f.options = append(f.options, session.NewOptions(opts...))
	if f.onStart != nil {
		f.onStart(argv)
	}
	s := f.template
	s.argv = argv
	f.started = append(f.started, &s)
	return &s, nil
}

type fixture struct {
	ctx   context.Context
	graph graph.Graph
	topo  topologystore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	topo := inmemorytopology.New()
	return &fixture{
		ctx:   ctxlog.Discard(context.Background()),
		graph: graph.New(topo, inmemorystore.New(), task.DefaultDefaults),
		topo:  topo,
	}
}

func (f *fixture) add(t *testing.T, b *block.Block) {
	t.Helper()
	if b.Path == "" {
		b.Path = "doc.md"
	}
	if b.Options.ID == nil {
		b.Options.ID = ptr(b.ID)
	}
	require.NoError(t, f.topo.Add(f.ctx, b))
}

func (f *fixture) task(t *testing.T, id string) *task.Task {
	t.Helper()
	tk, err := f.graph.Task(f.ctx, id)
	require.NoError(t, err)
	return tk
}

func TestExecute_RawBlockAndOutFile(t *testing.T) {
	// --- Arrange ---
	f := newFixture(t)
	f.add(t, &block.Block{ID: "x", Kind: block.KindRawBlock, Content: "a\n", Options: block.Options{Type: ptr(block.TypeRawBlock)}})
	f.add(t, &block.Block{ID: "x", Kind: block.KindRawBlock, Content: "b\n", Options: block.Options{Type: ptr(block.TypeRawBlock)}})
	f.add(t, &block.Block{ID: "y", Kind: block.KindRawBlock, Content: "Y\n", Options: block.Options{Type: ptr(block.TypeRawBlock)}})
	f.add(t, &block.Block{ID: "o", Kind: block.KindOutFile, Options: block.Options{Type: ptr(block.TypeOutFile), Inputs: []string{"y", "x"}}})
	e := New(f.graph, &fakeStarter{})

	// --- Act ---
	outX, err := e.Execute(f.ctx, f.task(t, "x"))
	require.NoError(t, err)
	outY, err := e.Execute(f.ctx, f.task(t, "y"))
	require.NoError(t, err)
	require.NoError(t, f.graph.MarkDone(f.ctx, "x", outX))
	require.NoError(t, f.graph.MarkDone(f.ctx, "y", outY))
	outO, err := e.Execute(f.ctx, f.task(t, "o"))

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", outX)
	assert.Equal(t, "Y\na\nb\n", outO, "inputs are concatenated in declared order")
}

func TestExecute_MetaAndUnknown(t *testing.T) {
	f := newFixture(t)
	f.add(t, &block.Block{ID: "m", Kind: block.KindMeta, Options: block.Options{Type: ptr(block.TypeMeta)}})
	f.add(t, &block.Block{ID: "w", FirstLine: 7, Kind: block.KindUnknown, Options: block.Options{Type: ptr("widget")}})
	e := New(f.graph, &fakeStarter{})

	out, err := e.Execute(f.ctx, f.task(t, "m"))
	require.NoError(t, err)
	assert.Equal(t, "", out)

	_, err = e.Execute(f.ctx, f.task(t, "w"))
	require.Error(t, err)
	assert.Equal(t, lperrors.EUnhandledKind, lperrors.GetCode(err))
	assert.Contains(t, err.Error(), "doc.md:7")
}

func sessionBlock(id, content string) *block.Block {
	return &block.Block{
		ID:         id,
		FirstLine:  4,
		InfoString: "bash",
		Language:   "bash",
		Kind:       block.KindSession,
		Content:    content,
		Options:    block.Options{Type: ptr(block.TypeSession), Command: &block.Command{Line: "bash"}},
	}
}

func TestExecute_SessionUsesCache(t *testing.T) {
	// --- Arrange ---
	f := newFixture(t)
	f.add(t, sessionBlock("s", "echo hi\necho there\n"))
	starter := &fakeStarter{template: fakeSession{stdout: []string{"hi", "there"}}}
	e := New(f.graph, starter, WithCache(cache.NewMemory()))

	// --- Act ---
	first, err := e.Execute(f.ctx, f.task(t, "s"))
	require.NoError(t, err)
	second, err := e.Execute(f.ctx, f.task(t, "s"))
	require.NoError(t, err)

	// --- Assert ---
	assert.Equal(t, "hi\nthere", first)
	assert.Equal(t, first, second)
	require.Len(t, starter.started, 1, "the second run is served from the cache")
	assert.Equal(t, []string{"echo hi\n", "echo there\n"}, starter.started[0].sent)
	assert.Equal(t, []string{"bash"}, starter.started[0].argv)
	assert.Equal(t, 1, e.SessionsRun())
}

func TestExecute_SessionExitMismatch(t *testing.T) {
	testCases := []struct {
		name     string
		timedOut bool
		wantCode lperrors.Code
	}{
		{name: "exit code", wantCode: lperrors.ESessionExit},
		{name: "timeout", timedOut: true, wantCode: lperrors.ESessionTimeout},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// --- Arrange ---
			f := newFixture(t)
			f.add(t, sessionBlock("s", "false\n"))
			errW := &bytes.Buffer{}
			c := cache.NewMemory()
			starter := &fakeStarter{template: fakeSession{code: 1, timedOut: tc.timedOut, stderr: []string{"boom"}}}
			e := New(f.graph, starter, WithCache(c), WithErrorWriter(errW))

			// --- Act ---
			_, err := e.Execute(f.ctx, f.task(t, "s"))

			// --- Assert ---
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, lperrors.GetCode(err))
			assert.Contains(t, errW.String(), "In [1]: false\n")
			assert.Contains(t, errW.String(), "boom\n")
			assert.Empty(t, c.Entries(), "failures are never cached")
		})
	}
}

func TestExecute_ExpectedNonZeroExit(t *testing.T) {
	f := newFixture(t)
	b := sessionBlock("s", "exit 2\n")
	b.Options.ExpectedExitCode = ptr(2)
	f.add(t, b)
	e := New(f.graph, &fakeStarter{template: fakeSession{code: 2, stdout: []string{"ok"}}})

	out, err := e.Execute(f.ctx, f.task(t, "s"))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestExecute_TempfilePlaceholder(t *testing.T) {
	// --- Arrange ---
	f := newFixture(t)
	b := sessionBlock("s", "print('hi')\n")
	b.Options.Command = &block.Command{Line: "python3 <TEMPFILE.py>"}
	f.add(t, b)

	var tmpPath, tmpContent string
	starter := &fakeStarter{onStart: func(argv []string) {
		tmpPath = argv[1]
		data, err := os.ReadFile(tmpPath)
		require.NoError(t, err)
		tmpContent = string(data)
	}}
	e := New(f.graph, starter)

	// --- Act ---
	_, err := e.Execute(f.ctx, f.task(t, "s"))

	// --- Assert ---
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(tmpPath, ".py"))
	assert.Equal(t, "print('hi')\n", tmpContent)
	assert.Empty(t, starter.started[0].sent, "content goes to the file, not to stdin")
	_, err = os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(err), "the tempfile is removed afterwards")
}

func TestExecute_WritesArtifact(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	f := newFixture(t)
	f.add(t, &block.Block{
		ID:      "script",
		Kind:    block.KindRawBlock,
		Content: "echo café\n",
		Options: block.Options{
			Type:         ptr(block.TypeRawBlock),
			FilePath:     ptr("bin/run.sh"),
			Encoding:     ptr("latin-1"),
			IsExecutable: ptr(true),
		},
	})
	e := New(f.graph, &fakeStarter{}, WithWorkDir(dir))

	// --- Act ---
	_, err := e.Execute(f.ctx, f.task(t, "script"))

	// --- Assert ---
	require.NoError(t, err)
	path := filepath.Join(dir, "bin", "run.sh")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("echo caf\xe9\n"), data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111, "execute bits are set")
}

func TestExecute_UnchangedArtifactKeepsMtime(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	f := newFixture(t)
	f.add(t, &block.Block{
		ID:      "script",
		Kind:    block.KindRawBlock,
		Content: "echo hi\n",
		Options: block.Options{
			Type:         ptr(block.TypeRawBlock),
			FilePath:     ptr("run.sh"),
			IsExecutable: ptr(true),
		},
	})
	e := New(f.graph, &fakeStarter{}, WithWorkDir(dir))
	_, err := e.Execute(f.ctx, f.task(t, "script"))
	require.NoError(t, err)

	path := filepath.Join(dir, "run.sh")
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, past, past))

	// --- Act ---
	_, err = e.Execute(f.ctx, f.task(t, "script"))

	// --- Assert ---
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(past), "an unchanged artifact is not rewritten")
	assert.NotZero(t, info.Mode()&0o111)
}

func TestExecute_ChangedArtifactIsRewritten(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))
	f := newFixture(t)
	f.add(t, &block.Block{
		ID:      "out",
		Kind:    block.KindRawBlock,
		Content: "new\n",
		Options: block.Options{Type: ptr(block.TypeRawBlock), FilePath: ptr("out.txt")},
	})
	e := New(f.graph, &fakeStarter{}, WithWorkDir(dir))

	// --- Act ---
	_, err := e.Execute(f.ctx, f.task(t, "out"))

	// --- Assert ---
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(data))
}

func TestExecute_SessionRunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t)
	f.add(t, sessionBlock("s", "ls\n"))
	starter := &fakeStarter{}
	e := New(f.graph, starter, WithWorkDir(dir))

	_, err := e.Execute(f.ctx, f.task(t, "s"))

	require.NoError(t, err)
	require.Len(t, starter.options, 1)
	assert.Equal(t, dir, starter.options[0].Dir)
}

func TestLookupEncoding(t *testing.T) {
	for _, name := range []string{"utf-8", "UTF-8", "latin-1", "latin1", "iso-8859-1", "utf_8", "shift_jis"} {
		_, err := lookupEncoding(name)
		assert.NoError(t, err, name)
	}
	_, err := lookupEncoding("klingon")
	assert.Error(t, err)
}

func TestExecute_RealBashSession(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	f := newFixture(t)
	f.add(t, sessionBlock("s", "echo hi\n"))
	e := New(f.graph, localsession.New())

	out, err := e.Execute(f.ctx, f.task(t, "s"))

	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}
