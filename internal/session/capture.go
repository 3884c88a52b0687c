package session

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Stream tags the origin of a captured line.
type Stream uint8

const (
	StreamStdout Stream = iota + 1
	StreamStderr
)

func (s Stream) String() string {
	switch s {
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// Line is one captured output line. Text carries no line terminator.
type Line struct {
	Timestamp int64  `msgpack:"ts"` // microseconds since the Unix epoch
	Text      string `msgpack:"text"`
	Stream    Stream `msgpack:"stream"`
}

// Capture is the recorded result of one session.
type Capture struct {
	Command  []string      `msgpack:"command"`
	ExitCode int           `msgpack:"exit_code"`
	Runtime  time.Duration `msgpack:"runtime"`
	Stdout   []Line        `msgpack:"stdout"`
	Stderr   []Line        `msgpack:"stderr"`
}

// Output is the newline-joined stdout of the capture.
func (c *Capture) Output() string {
	return joinText(c.Stdout)
}

// ErrorOutput is the newline-joined stderr of the capture.
func (c *Capture) ErrorOutput() string {
	return joinText(c.Stderr)
}

func joinText(lines []Line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

// Marshal serializes the capture.
func (c *Capture) Marshal() ([]byte, error) {
	data, err := msgpack.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize capture: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a capture produced by Marshal.
func Unmarshal(data []byte) (*Capture, error) {
	var c Capture
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode capture: %w", err)
	}
	return &c, nil
}

// Digest is the hex sha1 of serialized capture bytes.
func Digest(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
