// Package executor defines the interface for running one task. The
// in-process implementation lives in internal/localexecutor.
package executor

import (
	"context"

	"github.com/vk/litweave/internal/task"
)

// Executor produces the output of a single task whose dependencies are done.
//
// Per kind:
//   - raw_block: the concatenated content of its blocks
//   - out_file: the outputs of its inputs, concatenated in declared order
//   - session: the newline-joined stdout of the process, from the cache when
//     the task key is known
//   - meta: the empty string
//
// A task with a filepath option also writes its output there. Any error is
// fatal to the build.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) (string, error)
}
