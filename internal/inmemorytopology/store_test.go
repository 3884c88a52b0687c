package inmemorytopology

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/litweave/internal/block"
	"github.com/vk/litweave/internal/ctxlog"
	lperrors "github.com/vk/litweave/internal/errors"
)

func ptr[T any](v T) *T { return &v }

func newBlock(id, typ string, line int, content string) *block.Block {
	return &block.Block{
		Path:      "doc.md",
		FirstLine: line,
		ID:        id,
		Kind:      block.ParseKind(typ),
		Options:   block.Options{ID: ptr(id), Type: ptr(typ)},
		Content:   content,
	}
}

func TestAdd_RawBlocksAppendInOrder(t *testing.T) {
	s := New()
	ctx := ctxlog.Discard(context.Background())

	require.NoError(t, s.Add(ctx, newBlock("x", block.TypeRawBlock, 1, "a\n")))
	require.NoError(t, s.Add(ctx, newBlock("y", block.TypeRawBlock, 5, "c\n")))
	require.NoError(t, s.Add(ctx, newBlock("x", block.TypeRawBlock, 9, "b\n")))

	blocks, ok := s.BlocksOf(ctx, "x")
	require.True(t, ok)
	require.Len(t, blocks, 2)
	assert.Equal(t, "a\n", blocks[0].Content)
	assert.Equal(t, "b\n", blocks[1].Content)
	assert.Equal(t, []string{"x", "y"}, s.IDs(ctx))
}

func TestAdd_DuplicateDefinition(t *testing.T) {
	s := New()
	ctx := ctxlog.Discard(context.Background())

	require.NoError(t, s.Add(ctx, newBlock("out", block.TypeOutFile, 1, "")))
	err := s.Add(ctx, newBlock("out", block.TypeOutFile, 7, ""))

	require.Error(t, err)
	assert.Equal(t, lperrors.EParse, lperrors.GetCode(err))
	assert.Contains(t, err.Error(), "doc.md:7")
	assert.Contains(t, err.Error(), "Duplicated definition of out")

	blocks, _ := s.BlocksOf(ctx, "out")
	assert.Len(t, blocks, 1, "failed Add leaves the store unchanged")
}

func TestAdd_ContinuationOfSession(t *testing.T) {
	s := New()
	ctx := ctxlog.Discard(context.Background())

	session := newBlock("demo", block.TypeSession, 1, "")
	session.Options.Command = &block.Command{Line: "bash"}
	require.NoError(t, s.Add(ctx, session))
	require.NoError(t, s.Add(ctx, newBlock("demo", block.TypeRawBlock, 10, "echo hi\n")))

	blocks, _ := s.BlocksOf(ctx, "demo")
	assert.Len(t, blocks, 2)

	opts, ok := s.OptionsOf(ctx, "demo")
	require.True(t, ok)
	assert.Equal(t, block.KindSession, opts.Kind(), "continuation keeps the identifier's type")
	assert.Equal(t, "bash", opts.Command.String())
}

func TestAdd_Redeclaration(t *testing.T) {
	s := New()
	ctx := ctxlog.Discard(context.Background())

	first := newBlock("x", block.TypeRawBlock, 1, "a\n")
	first.Options.FilePath = ptr("one.txt")
	second := newBlock("x", block.TypeRawBlock, 4, "b\n")
	second.Options.FilePath = ptr("two.txt")

	require.NoError(t, s.Add(ctx, first))
	err := s.Add(ctx, second)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Redeclaration of option filepath for lpid=x")
}

func TestAdd_ContinuationWithExtraKeysIsRedeclaration(t *testing.T) {
	s := New()
	ctx := ctxlog.Discard(context.Background())

	require.NoError(t, s.Add(ctx, newBlock("s", block.TypeSession, 1, "")))
	cont := newBlock("s", block.TypeRawBlock, 3, "x\n")
	cont.Options.FilePath = ptr("f")

	err := s.Add(ctx, cont)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Redeclaration of option lptype for lpid=s")
}

func TestDependenciesOf(t *testing.T) {
	s := New()
	ctx := ctxlog.Discard(context.Background())

	out := newBlock("out", block.TypeOutFile, 1, "")
	out.Options.Inputs = []string{"z", "a"}
	sess := newBlock("sess", block.TypeSession, 2, "")
	sess.Options.Requires = []string{"z", "a", "z"}
	require.NoError(t, s.Add(ctx, out))
	require.NoError(t, s.Add(ctx, sess))
	require.NoError(t, s.Add(ctx, newBlock("raw", block.TypeRawBlock, 3, "")))

	deps, err := s.DependenciesOf(ctx, "out")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a"}, deps, "inputs keep declared order")

	deps, err = s.DependenciesOf(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, deps)

	deps, err = s.DependenciesOf(ctx, "raw")
	require.NoError(t, err)
	assert.Empty(t, deps)

	_, err = s.DependenciesOf(ctx, "missing")
	assert.Error(t, err)
}
