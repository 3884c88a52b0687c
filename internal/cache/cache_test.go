package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/litweave/internal/block"
	"github.com/vk/litweave/internal/ctxlog"
	"github.com/vk/litweave/internal/session"
	"github.com/vk/litweave/internal/task"
)

func ptr[T any](v T) *T { return &v }

func rawTask(id, content string) *task.Task {
	blocks := []*block.Block{{Path: "doc.md", FirstLine: 1, Language: "text", Content: content}}
	return task.New(id, blocks, block.Options{ID: ptr(id)}, nil, task.DefaultDefaults)
}

func sessionTask(id, content string, requires ...string) *task.Task {
	blocks := []*block.Block{{Path: "doc.md", FirstLine: 3, InfoString: "bash", Language: "bash", Content: content}}
	opts := block.Options{ID: ptr(id), Type: ptr(block.TypeSession), Requires: requires}
	return task.New(id, blocks, opts, requires, task.DefaultDefaults)
}

func sampleCapture(out string) *session.Capture {
	return &session.Capture{
		Command:  []string{"bash"},
		Runtime:  1500 * time.Microsecond,
		Stdout:   []session.Line{{Timestamp: 1, Text: out, Stream: session.StreamStdout}},
		ExitCode: 0,
	}
}

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func TestCache_MissUpdateHit(t *testing.T) {
	// --- Arrange ---
	ctx := ctxlog.Discard(context.Background())
	c := NewMemory(WithClock(fixedClock()))
	tk := sessionTask("s", "echo hi\n")

	// --- Act & Assert ---
	_, ok := c.Get(ctx, tk)
	assert.False(t, ok)

	require.NoError(t, c.Update(ctx, tk, sampleCapture("hi")))

	got, ok := c.Get(ctx, tk)
	require.True(t, ok)
	if diff := cmp.Diff(sampleCapture("hi"), got); diff != "" {
		t.Errorf("capture mismatch (-want +got):\n%s", diff)
	}

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "2024-03-01T10:00:01.000000", entries[0].Created)
	assert.Equal(t, 2, entries[0].RuntimeMS)
	assert.Equal(t, c.TaskKey(tk), entries[0].TaskKey)
	assert.Equal(t, "doc.md", entries[0].DocPath)
	assert.Equal(t, "@     3 - bash      - echo hi", entries[0].Description)
}

func TestCache_LookupPrefersNewestEntry(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	c := NewMemory(WithClock(fixedClock()))
	tk := sessionTask("s", "date\n")

	require.NoError(t, c.Update(ctx, tk, sampleCapture("old")))
	require.NoError(t, c.Update(ctx, tk, sampleCapture("new")))

	got, ok := c.Get(ctx, tk)
	require.True(t, ok)
	assert.Equal(t, "new", got.Output())
	assert.Len(t, c.Entries(), 2, "the manifest is append-only")
}

func TestCache_MissingBlobIsAMiss(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	c := NewMemory()
	tk := sessionTask("s", "echo hi\n")
	require.NoError(t, c.Update(ctx, tk, sampleCapture("hi")))

	require.NoError(t, c.blobs.Clear())

	_, ok := c.Get(ctx, tk)
	assert.False(t, ok)
}

func TestTaskKey_Sensitivity(t *testing.T) {
	c := NewMemory()

	base := c.TaskKey(sessionTask("s", "echo hi\n"))
	assert.Equal(t, base, c.TaskKey(sessionTask("s", "echo hi\n")), "keys are deterministic")
	assert.NotEqual(t, base, c.TaskKey(sessionTask("s", "echo bye\n")), "input content is part of the key")

	// A dependency contributes its bound key.
	dep := rawTask("a", "one\n")
	withDep := sessionTask("s", "echo hi\n", "a")
	unbound := c.TaskKey(withDep)
	c.Bind(dep, "d1")
	bound := c.TaskKey(withDep)
	assert.NotEqual(t, unbound, bound)

	c.Bind(rawTask("a", "two\n"), "d2")
	assert.NotEqual(t, bound, c.TaskKey(withDep), "a changed dependency changes the key")
}

func TestTaskKey_CommandFileMtime(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("echo"), 0o755))

	blocks := []*block.Block{{Path: "doc.md", Language: "text", Content: "x\n"}}
	opts := block.Options{Type: ptr(block.TypeSession), Command: &block.Command{Line: "bash " + script}}
	tk := task.New("s", blocks, opts, nil, task.DefaultDefaults)

	c := NewMemory()
	before := c.TaskKey(tk)
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(script, later, later))

	assert.NotEqual(t, before, c.TaskKey(tk))
}

func TestTaskKey_RelativeCommandFileResolvesInWorkDir(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	script := filepath.Join(dir, "gen.sh")
	require.NoError(t, os.WriteFile(script, []byte("echo"), 0o755))

	blocks := []*block.Block{{Path: "doc.md", Language: "text", Content: "x\n"}}
	opts := block.Options{Type: ptr(block.TypeSession), Command: &block.Command{Line: "bash gen.sh"}}
	tk := task.New("s", blocks, opts, nil, task.DefaultDefaults)
	c := NewMemory(WithWorkDir(dir))
	before := c.TaskKey(tk)

	// --- Act ---
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(script, later, later))

	// --- Assert ---
	assert.NotEqual(t, before, c.TaskKey(tk), "the mtime of gen.sh below the work dir is part of the key")
}

func TestPathTokens_PythonModule(t *testing.T) {
	assert.Equal(t,
		[]string{"python3", "-m", "pkg.tool", "--flag", "pkg/tool.py", "src/pkg/tool.py"},
		pathTokens("python3 -m pkg.tool --flag"))
}

func TestBind_CascadesInvalidation(t *testing.T) {
	// --- Arrange ---
	// a <- b <- c
	ctx := ctxlog.Discard(context.Background())
	c := NewMemory()
	a := rawTask("a", "x\n")
	b := sessionTask("b", "cat\n", "a")
	cc := sessionTask("c", "cat\n", "b")

	c.Bind(a, "digest-a1")
	require.NoError(t, c.Update(ctx, b, sampleCapture("b")))
	require.NoError(t, c.Update(ctx, cc, sampleCapture("c")))
	_, ok := c.BoundKey("c")
	require.True(t, ok)

	// --- Act ---
	// Same output: nothing is forgotten.
	c.Bind(a, "digest-a1")

	// --- Assert ---
	_, ok = c.BoundKey("b")
	assert.True(t, ok)

	// --- Act ---
	c.Bind(a, "digest-a2")

	// --- Assert ---
	_, ok = c.BoundKey("b")
	assert.False(t, ok, "direct dependent is forgotten")
	_, ok = c.BoundKey("c")
	assert.False(t, ok, "transitive dependent is forgotten")
	_, ok = c.BoundKey("a")
	assert.True(t, ok, "the changed identifier itself stays bound")
}

func TestOpen_PersistsAcrossRuns(t *testing.T) {
	// --- Arrange ---
	ctx := ctxlog.Discard(context.Background())
	dir := filepath.Join(t.TempDir(), "proj")
	tk := sessionTask("s", "echo hi\n")
	codec, err := CodecByName(CodecZstd)
	require.NoError(t, err)

	first, err := Open(ctx, dir, WithMachineID("m1"), WithCodec(codec))
	require.NoError(t, err)
	require.NoError(t, first.Update(ctx, tk, sampleCapture("hi")))
	require.NoError(t, first.Flush(ctx))

	// --- Act ---
	second, err := Open(ctx, dir, WithMachineID("m1"))
	require.NoError(t, err)
	defer second.Flush(ctx)

	// --- Assert ---
	got, ok := second.Get(ctx, tk)
	require.True(t, ok, "a capture written with zstd is read back regardless of the configured codec")
	assert.Equal(t, "hi", got.Output())

	entries, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpen_OtherMachineStartsCold(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	dir := t.TempDir()
	tk := sessionTask("s", "echo hi\n")

	first, err := Open(ctx, dir, WithMachineID("m1"))
	require.NoError(t, err)
	require.NoError(t, first.Update(ctx, tk, sampleCapture("hi")))
	require.NoError(t, first.Flush(ctx))

	second, err := Open(ctx, dir, WithMachineID("m2"))
	require.NoError(t, err)
	defer second.Flush(ctx)

	_, ok := second.Get(ctx, tk)
	assert.False(t, ok)
	assert.Empty(t, second.Entries())
}

func TestOpen_CorruptManifestStartsCold(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("not a manifest\n"), 0o644))

	c, err := Open(ctx, dir, WithMachineID("m1"))
	require.NoError(t, err)
	defer c.Flush(ctx)

	assert.Empty(t, c.Entries())
	matches, err := filepath.Glob(filepath.Join(dir, ManifestFile+".corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1, "the corrupt manifest is moved aside")
}

func TestOpen_LockedStoreFallsBackToMemory(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	dir := t.TempDir()

	holder, err := Open(ctx, dir, WithMachineID("m1"))
	require.NoError(t, err)
	defer holder.Flush(ctx)

	second, err := Open(ctx, dir, WithMachineID("m1"), WithLockTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer second.Flush(ctx)

	_, isMemory := second.blobs.(*MemoryStore)
	assert.True(t, isMemory)
}

func TestCodecs(t *testing.T) {
	data := []byte("some capture bytes some capture bytes some capture bytes")
	for _, name := range []string{CodecZstd, CodecSnappy, CodecNone} {
		t.Run(name, func(t *testing.T) {
			c, err := CodecByName(name)
			require.NoError(t, err)
			assert.Equal(t, name, c.Name())

			blob, err := encodeBlob(c, data)
			require.NoError(t, err)
			got, err := decodeBlob(blob)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}

	_, err := CodecByName("lz4")
	assert.Error(t, err)
	_, err = decodeBlob([]byte{'?', 1})
	assert.Error(t, err)
}

func TestProjectID(t *testing.T) {
	testCases := []struct {
		name   string
		meta   []map[string]any
		prefix string
	}{
		{
			name:   "repo url wins",
			meta:   []map[string]any{{"title": "My Book"}, {"repo_url": "https://github.com/x/y"}},
			prefix: "https___github.com_x_y_",
		},
		{
			name:   "title",
			meta:   []map[string]any{{"title": "My Book"}, {"title": "Other"}},
			prefix: "my_book_",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id := ProjectID(tc.meta, ".")
			assert.Equal(t, tc.prefix, id[:len(tc.prefix)])
			assert.Len(t, id, len(tc.prefix)+12)
			assert.Equal(t, id, ProjectID(tc.meta, "elsewhere"), "front matter identity does not depend on location")
		})
	}

	dir := filepath.Join(t.TempDir(), "Docs")
	id := ProjectID(nil, dir)
	assert.Equal(t, "docs_", id[:5])
}
