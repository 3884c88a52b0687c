// Package loader turns a set of documents into the aggregated context of a
// build.
package loader

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/vk/litweave/internal/block"
	"github.com/vk/litweave/internal/ctxlog"
	lperrors "github.com/vk/litweave/internal/errors"
	"github.com/vk/litweave/internal/fsutil"
	"github.com/vk/litweave/internal/graph"
	"github.com/vk/litweave/internal/inmemorystore"
	"github.com/vk/litweave/internal/inmemorytopology"
	"github.com/vk/litweave/internal/task"
	"github.com/vk/litweave/internal/topologystore"
	"gopkg.in/yaml.v3"
)

// Result is the aggregated context of one build.
type Result struct {
	// Documents are the loaded files in load order.
	Documents []string
	// FrontMatter holds the decoded front matter of every document that has
	// one, in load order.
	FrontMatter []map[string]any
	Topology    topologystore.Store
	Graph       graph.Graph
	Blocks      int
}

// Loader reads and aggregates documents.
type Loader struct {
	parser     *block.Parser
	extensions []string
	defaults   task.Defaults
}

// Option configures a Loader.
type Option func(*Loader)

// WithExtensions sets the document extensions searched in directories.
func WithExtensions(exts ...string) Option {
	return func(l *Loader) {
		if len(exts) > 0 {
			l.extensions = exts
		}
	}
}

// WithDefaults sets the session defaults of derived tasks.
func WithDefaults(d task.Defaults) Option {
	return func(l *Loader) { l.defaults = d }
}

// New creates a new loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		parser:     block.NewParser(),
		extensions: fsutil.DefaultExtensions,
		defaults:   task.DefaultDefaults,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load expands paths into documents, parses them in sorted order and folds
// every block into a fresh topology. Any conflict fails the whole load.
func (l *Loader) Load(ctx context.Context, paths ...string) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	if len(paths) == 0 {
		return nil, lperrors.New(lperrors.EUsage, "no input documents given")
	}

	docs, err := fsutil.FindDocuments(paths, l.extensions...)
	if err != nil {
		return nil, lperrors.Wrap(lperrors.EIO, "failed to find documents", err)
	}
	if len(docs) == 0 {
		logger.Warn("No documents found.", "paths", paths, "extensions", l.extensions)
	}

	topo := inmemorytopology.New()
	res := &Result{
		Documents: docs,
		Topology:  topo,
		Graph:     graph.New(topo, inmemorystore.New(), l.defaults),
	}
	for _, doc := range docs {
		data, err := os.ReadFile(doc)
		if err != nil {
			return nil, lperrors.Wrap(lperrors.EIO, "failed to read document", err)
		}
		text := string(data)

		if fm, ok := frontMatter(ctx, doc, text); ok {
			res.FrontMatter = append(res.FrontMatter, fm)
		}

		blocks, err := l.parser.Parse(ctx, doc, text)
		if err != nil {
			return nil, err
		}
		for _, b := range blocks {
			if err := topo.Add(ctx, b); err != nil {
				return nil, err
			}
		}
		res.Blocks += len(blocks)
		logger.Debug("Document loaded.", "path", doc, "blocks", len(blocks))
	}

	logger.Info("Documents loaded.", "documents", len(docs), "blocks", res.Blocks, "identifiers", len(topo.IDs(ctx)))
	return res, nil
}

// frontMatter decodes the YAML mapping between a leading "---" line and the
// next "---" or "..." line. Malformed front matter is ignored.
func frontMatter(ctx context.Context, path, text string) (map[string]any, bool) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), len(text)+1)
	if !scanner.Scan() || strings.TrimRight(scanner.Text(), " \t\r") != "---" {
		return nil, false
	}

	var body strings.Builder
	closed := false
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "---" || line == "..." {
			closed = true
			break
		}
		body.WriteString(scanner.Text())
		body.WriteByte('\n')
	}
	if !closed {
		return nil, false
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(body.String()), &fm); err != nil {
		ctxlog.FromContext(ctx).Warn("Ignoring malformed front matter.", "path", path, "error", err)
		return nil, false
	}
	if fm == nil {
		return nil, false
	}
	return fm, true
}
