package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/radovskyb/watcher"
	"github.com/vk/litweave/internal/ctxlog"
	lperrors "github.com/vk/litweave/internal/errors"
)

// Watch builds once, then rebuilds whenever a document under the configured
// paths is written, created, removed or renamed. Build failures are logged
// and watching continues. Watch returns when ctx is cancelled.
func (a *App) Watch(ctx context.Context) error {
	ctx = a.withLogger(ctx)
	logger := ctxlog.FromContext(ctx)

	if err := a.rebuild(ctx); lperrors.GetCode(err) == lperrors.EUsage {
		return err
	}

	w := watcher.New()
	w.SetMaxEvents(1)
	w.IgnoreHiddenFiles(true)
	w.FilterOps(watcher.Write, watcher.Create, watcher.Remove, watcher.Rename, watcher.Move)
	defer w.Close()

	for _, p := range a.config.Paths {
		info, err := os.Stat(p)
		if err != nil {
			return lperrors.Wrap(lperrors.EIO, "cannot watch input", err)
		}
		if info.IsDir() {
			err = w.AddRecursive(p)
		} else {
			err = w.Add(p)
		}
		if err != nil {
			return lperrors.Wrap(lperrors.EIO, "cannot watch input", err)
		}
	}

	started := make(chan error, 1)
	go func() {
		// Start blocks until the watcher is closed.
		started <- w.Start(a.config.WatchInterval)
	}()
	logger.Info("Watching for changes.", "paths", a.config.Paths, "interval", a.config.WatchInterval)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Watch stopped.")
			return nil
		case event := <-w.Event:
			if event.IsDir() || !a.isDocument(event.Path) {
				continue
			}
			logger.Info("Document changed, rebuilding.", "path", event.Path, "op", event.Op.String())
			_ = a.rebuild(ctx)
		case err := <-w.Error:
			if errors.Is(err, watcher.ErrWatchedFileDeleted) {
				logger.Warn("Watched document was deleted.", "error", err)
				continue
			}
			return lperrors.Wrap(lperrors.EIO, "watcher failed", err)
		case err := <-started:
			if err != nil {
				return lperrors.Wrap(lperrors.EIO, "watcher failed to start", err)
			}
			return nil
		case <-w.Closed:
			return nil
		}
	}
}

func (a *App) rebuild(ctx context.Context) error {
	summary, err := a.Build(ctx)
	if a.onBuild != nil {
		a.onBuild(summary, err)
	}
	return err
}

func (a *App) isDocument(path string) bool {
	return slices.Contains(a.config.Extensions, strings.ToLower(filepath.Ext(path)))
}
