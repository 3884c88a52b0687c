package graph

import (
	"context"
	"fmt"

	"github.com/vk/litweave/internal/ctxlog"
	"github.com/vk/litweave/internal/nodestore"
	"github.com/vk/litweave/internal/task"
	"github.com/vk/litweave/internal/topologystore"
)

// Manager provides a high-level, thread-safe interface to a build by
// composing the topology and state stores.
type Manager struct {
	topology topologystore.Store
	state    nodestore.Store
	defaults task.Defaults
}

// New creates a new graph manager. Session tasks that do not declare their
// own settings use defaults.
func New(ts topologystore.Store, ns nodestore.Store, defaults task.Defaults) Graph {
	return &Manager{topology: ts, state: ns, defaults: defaults}
}

// IDs returns every identifier in index order.
func (m *Manager) IDs(ctx context.Context) []string {
	return m.topology.IDs(ctx)
}

// Has reports whether an identifier is defined.
func (m *Manager) Has(ctx context.Context, id string) bool {
	_, ok := m.topology.OptionsOf(ctx, id)
	return ok
}

// Task derives the task of an identifier from the topology.
func (m *Manager) Task(ctx context.Context, id string) (*task.Task, error) {
	opts, ok := m.topology.OptionsOf(ctx, id)
	if !ok {
		return nil, fmt.Errorf("lpid '%s' not found in topology", id)
	}
	blocks, _ := m.topology.BlocksOf(ctx, id)
	deps, err := m.topology.DependenciesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return task.New(id, blocks, opts, deps, m.defaults), nil
}

// DependenciesOf returns the dependency identifiers of an identifier.
func (m *Manager) DependenciesOf(ctx context.Context, id string) ([]string, error) {
	return m.topology.DependenciesOf(ctx, id)
}

// Status retrieves the execution status of an identifier.
func (m *Manager) Status(ctx context.Context, id string) nodestore.Status {
	status, err := m.state.GetStatus(ctx, id)
	if err != nil {
		ctxlog.FromContext(ctx).Error("Failed to read status.", "lpid", id, "error", err)
		return nodestore.StatusPending
	}
	return status
}

// Output retrieves the output of an identifier.
func (m *Manager) Output(ctx context.Context, id string) (string, bool) {
	out, ok, err := m.state.GetOutput(ctx, id)
	if err != nil {
		ctxlog.FromContext(ctx).Error("Failed to read output.", "lpid", id, "error", err)
		return "", false
	}
	return out, ok
}

// Ready reports whether every dependency of an identifier is done.
func (m *Manager) Ready(ctx context.Context, id string) (bool, error) {
	deps, err := m.topology.DependenciesOf(ctx, id)
	if err != nil {
		return false, err
	}
	for _, dep := range deps {
		if m.Status(ctx, dep) != nodestore.StatusDone {
			return false, nil
		}
	}
	return true, nil
}

// Pending returns the identifiers not yet done.
func (m *Manager) Pending(ctx context.Context) []string {
	var pending []string
	for _, id := range m.topology.IDs(ctx) {
		if m.Status(ctx, id) != nodestore.StatusDone {
			pending = append(pending, id)
		}
	}
	return pending
}

// MarkDone records the output of an identifier and marks it done.
func (m *Manager) MarkDone(ctx context.Context, id string, output string) error {
	ctxlog.FromContext(ctx).Debug("Marking lpid as done.", "lpid", id, "bytes", len(output))
	if err := m.state.SetOutput(ctx, id, output); err != nil {
		return err
	}
	return m.state.SetStatus(ctx, id, nodestore.StatusDone)
}

// MarkFailed records the failure of an identifier.
func (m *Manager) MarkFailed(ctx context.Context, id string, nodeErr error) error {
	ctxlog.FromContext(ctx).Debug("Marking lpid as failed.", "lpid", id, "error", nodeErr)
	if err := m.state.SetError(ctx, id, nodeErr); err != nil {
		return err
	}
	return m.state.SetStatus(ctx, id, nodestore.StatusFailed)
}
