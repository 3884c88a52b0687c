package localexecutor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/vk/litweave/internal/ctxlog"
	lperrors "github.com/vk/litweave/internal/errors"
	"github.com/vk/litweave/internal/task"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// lookupEncoding resolves an encoding name by its IANA name first, then by
// its WHATWG label. Names are also tried with dashes and underscores
// dropped, so "latin-1" and "utf_8" resolve.
func lookupEncoding(name string) (encoding.Encoding, error) {
	candidates := []string{name, strings.NewReplacer("-", "", "_", "").Replace(name), strings.ReplaceAll(name, "_", "-")}
	for _, n := range candidates {
		if enc, err := ianaindex.IANA.Encoding(n); err == nil && enc != nil {
			return enc, nil
		}
		if enc, err := htmlindex.Get(n); err == nil {
			return enc, nil
		}
	}
	return nil, fmt.Errorf("unknown encoding %q", name)
}

// writeArtifact writes out to path in the task's encoding, creating or
// truncating the file. A file that already holds the encoded bytes is left
// untouched so its mtime stays stable for session keys that name it.
func (e *Executor) writeArtifact(ctx context.Context, t *task.Task, path, out string) error {
	logger := ctxlog.FromContext(ctx)
	if !filepath.IsAbs(path) && e.workDir != "" {
		path = filepath.Join(e.workDir, path)
	}

	enc, err := lookupEncoding(t.Encoding())
	if err != nil {
		return e.locate(t, lperrors.EParse, "lpid=%s: %v", t.ID, err)
	}
	data, err := enc.NewEncoder().Bytes([]byte(out))
	if err != nil {
		return lperrors.Wrap(lperrors.EIO, fmt.Sprintf("cannot encode %s as %s", path, t.Encoding()), err)
	}

	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		logger.Debug("Artifact unchanged.", "path", path)
	} else {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return lperrors.Wrap(lperrors.EIO, "failed to create artifact directory", err)
			}
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return lperrors.Wrap(lperrors.EIO, "failed to write artifact", err)
		}
		logger.Info("Artifact written.", "path", path, "size", humanize.Bytes(uint64(len(data))), "encoding", t.Encoding())
	}

	if t.Executable() {
		info, err := os.Stat(path)
		if err != nil {
			return lperrors.Wrap(lperrors.EIO, "failed to stat artifact", err)
		}
		if mode := info.Mode(); mode&0o111 != 0o111 {
			if err := os.Chmod(path, mode|0o111); err != nil {
				return lperrors.Wrap(lperrors.EIO, "failed to make artifact executable", err)
			}
		}
	}
	return nil
}
