package app

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/litweave/internal/cache"
	"github.com/vk/litweave/internal/ctxlog"
	lperrors "github.com/vk/litweave/internal/errors"
	"github.com/vk/litweave/internal/loader"
	"github.com/vk/litweave/internal/localexecutor"
	"github.com/vk/litweave/internal/metrics"
	"github.com/vk/litweave/internal/scheduler"
)

// Summary describes a finished build.
type Summary struct {
	Documents   int
	Identifiers int
	Passes      int
	SessionsRun int
	CacheDir    string
	Duration    time.Duration
}

// Build loads the configured documents and runs every identifier once.
// Session results come from the cache when their task key is known, so an
// unchanged second build runs no session at all.
func (a *App) Build(ctx context.Context) (*Summary, error) {
	ctx = a.withLogger(ctx)
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	summary, err := a.build(ctx)
	outcome := metrics.OutcomeDone
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	a.metrics.BuildFinished(outcome)
	if summary != nil {
		summary.Duration = time.Since(start)
	}
	if err != nil {
		logger.Error("Build failed.", "error", err)
		return summary, err
	}

	logger.Info("Build finished.",
		"documents", summary.Documents,
		"identifiers", summary.Identifiers,
		"passes", summary.Passes,
		"sessions_run", summary.SessionsRun,
		"duration", summary.Duration)
	return summary, nil
}

func (a *App) build(ctx context.Context) (*Summary, error) {
	logger := ctxlog.FromContext(ctx)

	ld := loader.New(
		loader.WithExtensions(a.config.Extensions...),
		loader.WithDefaults(a.config.taskDefaults()),
	)
	res, err := ld.Load(ctx, a.config.Paths...)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		Documents:   len(res.Documents),
		Identifiers: len(res.Graph.IDs(ctx)),
	}

	execOpts := []localexecutor.Option{
		localexecutor.WithMetrics(a.metrics),
		localexecutor.WithErrorWriter(a.errW),
		localexecutor.WithWorkDir(a.config.WorkDir),
	}
	if !a.config.NoCache {
		c, err := a.openCache(ctx, res)
		if err != nil {
			return summary, err
		}
		summary.CacheDir = c.Dir()
		defer func() {
			if err := c.Flush(ctx); err != nil {
				logger.Warn("Failed to persist result cache.", "dir", c.Dir(), "error", err)
			}
		}()
		execOpts = append(execOpts, localexecutor.WithCache(c))
	}

	exec := localexecutor.New(res.Graph, a.starter, execOpts...)
	sched := scheduler.New(res.Graph, exec, scheduler.WithMetrics(a.metrics))
	err = sched.Run(ctx)
	summary.Passes = sched.Passes()
	summary.SessionsRun = exec.SessionsRun()
	return summary, err
}

// openCache opens the project cache.
func (a *App) openCache(ctx context.Context, res *loader.Result) (*cache.Cache, error) {
	dir, err := a.projectCacheDir(res)
	if err != nil {
		return nil, err
	}
	codec, err := cache.CodecByName(a.config.Compression)
	if err != nil {
		return nil, lperrors.Wrap(lperrors.EUsage, "invalid compression", err)
	}
	return cache.Open(ctx, dir, cache.WithCodec(codec), cache.WithWorkDir(a.config.WorkDir))
}

// projectCacheDir is the cache directory of the loaded project. The project
// is identified by the front matter of the documents, falling back to the
// directory of the first input.
func (a *App) projectCacheDir(res *loader.Result) (string, error) {
	root := a.config.CacheDir
	if root == "" {
		var err error
		if root, err = cache.DefaultRoot(); err != nil {
			return "", lperrors.Wrap(lperrors.EIO, "cannot locate the user cache directory", err)
		}
	}
	id := cache.ProjectID(res.FrontMatter, fallbackDir(a.config.Paths[0]))
	return cache.Dir(root, id), nil
}

// CacheDir loads the configured documents and returns the directory their
// result cache lives in, without opening it.
func (a *App) CacheDir(ctx context.Context) (string, error) {
	ctx = a.withLogger(ctx)
	res, err := loader.New(loader.WithExtensions(a.config.Extensions...)).Load(ctx, a.config.Paths...)
	if err != nil {
		return "", err
	}
	return a.projectCacheDir(res)
}

// fallbackDir is the absolute directory of an input path.
func fallbackDir(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		return filepath.Dir(abs)
	}
	return abs
}
