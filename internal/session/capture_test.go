package session

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapture_SerializationIsStable(t *testing.T) {
	// --- Arrange ---
	c := &Capture{
		Command:  []string{"bash"},
		ExitCode: 0,
		Runtime:  1500 * time.Millisecond,
		Stdout: []Line{
			{Timestamp: 1, Text: "a", Stream: StreamStdout},
			{Timestamp: 2, Text: "b", Stream: StreamStdout},
		},
		Stderr: []Line{{Timestamp: 3, Text: "warn", Stream: StreamStderr}},
	}

	// --- Act ---
	first, err := c.Marshal()
	require.NoError(t, err)
	second, err := c.Marshal()
	require.NoError(t, err)
	decoded, err := Unmarshal(first)
	require.NoError(t, err)

	// --- Assert ---
	assert.Equal(t, Digest(first), Digest(second))
	assert.Len(t, Digest(first), 40)
	if diff := cmp.Diff(c, decoded); diff != "" {
		t.Errorf("decoded capture mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "a\nb", decoded.Output())
	assert.Equal(t, "warn", decoded.ErrorOutput())
}

func TestUnmarshal_Garbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xc1})
	assert.Error(t, err)
}

func TestNewOptions(t *testing.T) {
	o := NewOptions()
	assert.Equal(t, DefaultInputDelay, o.InputDelay)
	assert.Equal(t, DefaultKillGrace, o.KillGrace)

	o = NewOptions(WithInputDelay(0), WithEnv(map[string]string{"K": "V"}))
	assert.Equal(t, time.Duration(0), o.InputDelay)
	assert.Equal(t, "V", o.Env["K"])
}
