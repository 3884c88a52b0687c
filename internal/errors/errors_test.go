package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "code and message",
			err:  New(EBuildStall, "no progress"),
			want: "E_BUILD_STALL: no progress",
		},
		{
			name: "located",
			err:  At(EParse, "docs/a.md", 12, "Duplicated definition of %s", "x"),
			want: "E_PARSE: docs/a.md:12: Duplicated definition of x",
		},
		{
			name: "path only with cause",
			err:  &Error{Code: EIO, Msg: "write failed", Path: "out.txt", Cause: errors.New("disk full")},
			want: "E_IO: out.txt: write failed: disk full",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestGetCode_ThroughWrapping(t *testing.T) {
	base := New(ESessionExit, "exit 1 != 0")
	wrapped := fmt.Errorf("task demo: %w", base)

	assert.Equal(t, ESessionExit, GetCode(wrapped))
	assert.Equal(t, Code(""), GetCode(errors.New("plain")))

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "exit 1 != 0", e.Msg)
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ECacheCorrupt, "manifest unreadable", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestWithDetails_CopiesMap(t *testing.T) {
	details := map[string]string{"pending": "a,b"}
	err := WithDetails(New(EBuildStall, "stall"), details)
	details["pending"] = "mutated"

	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "a,b", e.Details["pending"])
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(New(EUsage, "bad flag")))
	assert.Equal(t, 1, ExitCode(New(EParse, "conflict")))
	assert.Equal(t, 1, ExitCode(errors.New("other")))
}
