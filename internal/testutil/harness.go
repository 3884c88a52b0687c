// Package testutil provides an end-to-end harness that writes documents to
// a temporary project, builds them through the real app and exposes the
// logs, artifacts and cache for assertions.
package testutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/litweave/internal/app"
)

// HarnessResult holds the outcomes of one build.
type HarnessResult struct {
	LogOutput string
	Err       error
	Summary   *app.Summary
	App       *app.App
}

// Harness is a temporary project. Documents live in DocsDir, artifacts are
// written to WorkDir and the result cache lives under CacheRoot, so builds
// of one harness share their cache like consecutive runs of the tool.
type Harness struct {
	t         *testing.T
	DocsDir   string
	WorkDir   string
	CacheRoot string
	// Config is the base configuration of every build. Paths, CacheDir and
	// WorkDir are filled in by Build when empty.
	Config app.Config
}

// NewHarness creates a project holding files, keyed by path relative to the
// documents directory.
func NewHarness(t *testing.T, files map[string]string) *Harness {
	t.Helper()
	h := &Harness{
		t:         t,
		DocsDir:   t.TempDir(),
		WorkDir:   t.TempDir(),
		CacheRoot: t.TempDir(),
	}
	for name, content := range files {
		h.WriteFile(name, content)
	}
	return h
}

// WriteFile creates or replaces a document.
func (h *Harness) WriteFile(name, content string) {
	h.t.Helper()
	path := filepath.Join(h.DocsDir, name)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o644))
}

// Build runs one build with a fresh app.
func (h *Harness) Build(ctx context.Context) *HarnessResult {
	h.t.Helper()
	cfg := h.Config
	if len(cfg.Paths) == 0 {
		cfg.Paths = []string{h.DocsDir}
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = h.CacheRoot
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = h.WorkDir
	}

	a, logs := app.SetupAppTest(h.t, cfg)
	summary, err := a.Build(ctx)
	return &HarnessResult{
		LogOutput: logs.String(),
		Err:       err,
		Summary:   summary,
		App:       a,
	}
}

// Artifact reads a file written by a build.
func (h *Harness) Artifact(name string) string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.WorkDir, name))
	require.NoError(h.t, err, "artifact %s was not written", name)
	return string(data)
}

// RequireBash skips the test when bash is not on PATH.
func RequireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}
