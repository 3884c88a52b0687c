package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	lperrors "github.com/vk/litweave/internal/errors"
)

// AssertIdentifierDone checks the log output of a build to confirm that an
// identifier was marked done.
func AssertIdentifierDone(t *testing.T, result *HarnessResult, id string) {
	t.Helper()

	expected := fmt.Sprintf("msg=\"Marking lpid as done.\" lpid=%s ", id)
	require.True(t,
		strings.Contains(result.LogOutput, expected),
		"expected lpid=%s to be marked done, logs:\n%s", id, result.LogOutput,
	)
}

// AssertBuildFailed checks that a build failed with the given error code.
func AssertBuildFailed(t *testing.T, result *HarnessResult, code lperrors.Code) {
	t.Helper()

	require.Error(t, result.Err, "expected the build to fail with %s", code)
	require.Equal(t, code, lperrors.GetCode(result.Err), "unexpected error: %v", result.Err)
}
