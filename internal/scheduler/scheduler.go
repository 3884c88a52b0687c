package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	algograph "github.com/twmb/algoimpl/go/graph"
	"github.com/vk/litweave/internal/ctxlog"
	lperrors "github.com/vk/litweave/internal/errors"
	"github.com/vk/litweave/internal/executor"
	"github.com/vk/litweave/internal/graph"
	"github.com/vk/litweave/internal/metrics"
	"github.com/vk/litweave/internal/nodestore"
)

// Fixpoint is the reference implementation of the Scheduler interface.
//
// The loop is single-threaded: sessions run one after another, in index
// order, so their side effects on the working directory are reproducible.
type Fixpoint struct {
	graph   graph.Graph
	exec    executor.Executor
	metrics *metrics.Metrics
	passes  int
}

// Option configures a Fixpoint scheduler.
type Option func(*Fixpoint)

// WithMetrics records the number of passes of each build.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Fixpoint) { s.metrics = m }
}

// New creates a new fixpoint scheduler over g.
func New(g graph.Graph, exec executor.Executor, opts ...Option) *Fixpoint {
	s := &Fixpoint{graph: g, exec: exec}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Scheduler = (*Fixpoint)(nil)

// Passes implements Scheduler.
func (s *Fixpoint) Passes() int {
	return s.passes
}

// Run implements Scheduler.
func (s *Fixpoint) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	s.passes = 0
	defer func() {
		if s.metrics != nil {
			s.metrics.BuildPasses(s.passes)
		}
	}()

	ids := s.graph.IDs(ctx)
	done := s.countDone(ctx, ids)
	for done < len(ids) {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.passes++
		before := done
		logger.Debug("Starting pass.", "pass", s.passes, "done", done, "total", len(ids))

		for _, id := range ids {
			if s.graph.Status(ctx, id) == nodestore.StatusDone {
				continue
			}
			ready, err := s.graph.Ready(ctx, id)
			if err != nil {
				return lperrors.Wrap(lperrors.EInternal, "failed to resolve dependencies", err)
			}
			if !ready {
				continue
			}
			if err := s.runOne(ctx, id); err != nil {
				return err
			}
			done++
		}

		if done == before {
			return s.stall(ctx)
		}
	}
	logger.Debug("All identifiers done.", "passes", s.passes, "total", len(ids))
	return nil
}

func (s *Fixpoint) runOne(ctx context.Context, id string) error {
	t, err := s.graph.Task(ctx, id)
	if err != nil {
		return lperrors.Wrap(lperrors.EInternal, "failed to derive task", err)
	}
	out, err := s.exec.Execute(ctx, t)
	if err != nil {
		if markErr := s.graph.MarkFailed(ctx, id, err); markErr != nil {
			ctxlog.FromContext(ctx).Error("Failed to record failure.", "lpid", id, "error", markErr)
		}
		return err
	}
	return s.graph.MarkDone(ctx, id, out)
}

func (s *Fixpoint) countDone(ctx context.Context, ids []string) int {
	n := 0
	for _, id := range ids {
		if s.graph.Status(ctx, id) == nodestore.StatusDone {
			n++
		}
	}
	return n
}

// stall builds the E_BUILD_STALL error, explaining why each pending
// identifier cannot run.
func (s *Fixpoint) stall(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	pending := s.graph.Pending(ctx)
	reasons := s.diagnose(ctx, pending)
	for _, id := range pending {
		logger.Error("Identifier cannot be built.", "lpid", id, "reason", reasons[id])
	}
	err := lperrors.Newf(lperrors.EBuildStall, "build stalled with %d pending identifier(s): %s",
		len(pending), strings.Join(pending, ", "))
	return lperrors.WithDetails(err, reasons)
}

// diagnose classifies every pending identifier. Identifiers on a cycle are
// found as strongly connected components of the pending dependency graph.
func (s *Fixpoint) diagnose(ctx context.Context, pending []string) map[string]string {
	deps := make(map[string][]string, len(pending))
	isPending := make(map[string]bool, len(pending))
	for _, id := range pending {
		isPending[id] = true
		deps[id], _ = s.graph.DependenciesOf(ctx, id)
	}

	g := algograph.New(algograph.Directed)
	nodes := make(map[string]algograph.Node, len(pending))
	for _, id := range pending {
		n := g.MakeNode()
		*n.Value = id
		nodes[id] = n
	}
	for _, id := range pending {
		for _, dep := range deps[id] {
			if isPending[dep] && dep != id {
				_ = g.MakeEdge(nodes[id], nodes[dep])
			}
		}
	}

	cycles := make(map[string][]string)
	for _, component := range g.StronglyConnectedComponents() {
		if len(component) < 2 {
			continue
		}
		members := make([]string, 0, len(component))
		for _, n := range component {
			members = append(members, (*n.Value).(string))
		}
		sort.Strings(members)
		for _, m := range members {
			cycles[m] = members
		}
	}

	reasons := make(map[string]string, len(pending))
	for _, id := range pending {
		var missing, blockers []string
		for _, dep := range deps[id] {
			switch {
			case !s.graph.Has(ctx, dep):
				missing = append(missing, dep)
			case isPending[dep]:
				blockers = append(blockers, dep)
			}
		}
		switch {
		case len(missing) > 0:
			reasons[id] = "missing dependency: " + strings.Join(missing, ", ")
		case slices.Contains(deps[id], id):
			reasons[id] = "cycle: " + id
		case cycles[id] != nil:
			reasons[id] = "cycle: " + strings.Join(cycles[id], ", ")
		case len(blockers) > 0:
			reasons[id] = "blocked by: " + strings.Join(blockers, ", ")
		default:
			reasons[id] = fmt.Sprintf("status %s", s.graph.Status(ctx, id))
		}
	}
	return reasons
}
