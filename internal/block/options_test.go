package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestOptions_Conflict(t *testing.T) {
	base := Options{Type: ptr(TypeSession), ID: ptr("s"), Requires: []string{"b", "a"}}

	_, conflict := base.Conflict(Options{ID: ptr("s"), Requires: []string{"a", "b"}})
	assert.False(t, conflict, "requires is compared as a set")

	key, conflict := base.Conflict(Options{Type: ptr(TypeOutFile), ID: ptr("s")})
	assert.True(t, conflict)
	assert.Equal(t, KeyType, key)

	_, conflict = base.Conflict(Options{FilePath: ptr("x")})
	assert.False(t, conflict, "new keys never conflict")
}

func TestOptions_IsContinuation(t *testing.T) {
	assert.True(t, Options{Type: ptr(TypeRawBlock), ID: ptr("x")}.IsContinuation())
	assert.False(t, Options{Type: ptr(TypeRawBlock), ID: ptr("x"), FilePath: ptr("f")}.IsContinuation())
	assert.False(t, Options{Type: ptr(TypeSession), ID: ptr("x")}.IsContinuation())
}

func TestOptions_Merge(t *testing.T) {
	a := Options{Type: ptr(TypeOutFile), ID: ptr("o")}
	b := Options{FilePath: ptr("out.txt"), Type: ptr(TypeRawBlock), Extra: map[string]any{"k": 1}}

	merged := a.Merge(b)

	assert.Equal(t, TypeOutFile, *merged.Type, "existing keys win")
	assert.Equal(t, "out.txt", *merged.FilePath)
	assert.Equal(t, 1, merged.Extra["k"])
	assert.Nil(t, a.FilePath, "receiver is not modified")
}

func TestDecodeOptions_WeakTyping(t *testing.T) {
	opts, err := DecodeOptions(map[string]any{
		"lptype":             "session",
		"lpid":               42,
		"is_executable":      "true",
		"expected_exit_code": float64(3),
		"env":                map[string]any{"N": 1},
	})
	require.NoError(t, err)

	assert.Equal(t, "42", *opts.ID)
	assert.True(t, *opts.IsExecutable)
	assert.Equal(t, 3, *opts.ExpectedExitCode)
	assert.Equal(t, map[string]string{"N": "1"}, opts.Env)
	assert.Equal(t, KindSession, opts.Kind())
}

func TestDecodeOptions_RejectsUnknownKeys(t *testing.T) {
	_, err := DecodeOptions(map[string]any{"lptype": "out_file", "zzz": 1, "aaa": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aaa, zzz")
}

func TestCommand_Argv(t *testing.T) {
	argv, err := Command{Line: `bash -c "echo hi"`}.Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"bash", "-c", "echo hi"}, argv)

	argv, err = Command{Args: []string{"python3", "-i"}}.Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "-i"}, argv)
	assert.Equal(t, "python3 -i", Command{Args: []string{"python3", "-i"}}.String())
}

func TestParseKind(t *testing.T) {
	for _, name := range []string{TypeRawBlock, TypeOutFile, TypeSession, TypeMeta} {
		assert.Equal(t, name, ParseKind(name).String())
	}
	assert.Equal(t, KindUnknown, ParseKind("widget"))
}
