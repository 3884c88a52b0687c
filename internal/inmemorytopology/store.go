package inmemorytopology

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/vk/litweave/internal/block"
	"github.com/vk/litweave/internal/ctxlog"
	lperrors "github.com/vk/litweave/internal/errors"
	"github.com/vk/litweave/internal/topologystore"
)

// Store implements the topologystore.Store interface using maps and a mutex
// for thread-safe concurrent access.
type Store struct {
	mu      sync.RWMutex
	order   []string
	blocks  map[string][]*block.Block
	options map[string]block.Options
}

// New creates a new, empty in-memory topology store.
func New() topologystore.Store {
	return &Store{
		blocks:  make(map[string][]*block.Block),
		options: make(map[string]block.Options),
	}
}

// Add folds a block into the context, validating its options against the
// options already recorded for its identifier.
func (s *Store) Add(ctx context.Context, b *block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.options[b.ID]
	if !exists {
		s.order = append(s.order, b.ID)
		s.blocks[b.ID] = []*block.Block{b}
		s.options[b.ID] = b.Options
		return nil
	}

	if b.Kind != block.KindRawBlock {
		return lperrors.At(lperrors.EParse, b.Path, b.FirstLine, "Duplicated definition of %s", b.ID)
	}

	incoming := b.Options
	if b.Options.IsContinuation() && prev.TypeName() != block.TypeRawBlock {
		// The appended block inherits the identifier's type.
		incoming.Type = nil
	}
	if key, conflict := prev.Conflict(incoming); conflict {
		return lperrors.At(lperrors.EParse, b.Path, b.FirstLine, "Redeclaration of option %s for lpid=%s", key, b.ID)
	}

	s.blocks[b.ID] = append(s.blocks[b.ID], b)
	s.options[b.ID] = prev.Merge(incoming)
	ctxlog.FromContext(ctx).Debug("Appended block to identifier.", "lpid", b.ID, "blocks", len(s.blocks[b.ID]))
	return nil
}

// IDs returns identifiers in first-encounter order.
func (s *Store) IDs(ctx context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.order)
}

// BlocksOf returns the blocks of an identifier.
func (s *Store) BlocksOf(ctx context.Context, id string) ([]*block.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocks, ok := s.blocks[id]
	return slices.Clone(blocks), ok
}

// OptionsOf returns the merged options of an identifier.
func (s *Store) OptionsOf(ctx context.Context, id string) (block.Options, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts, ok := s.options[id]
	return opts, ok
}

// DependenciesOf returns the dependency identifiers of an identifier.
func (s *Store) DependenciesOf(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts, ok := s.options[id]
	if !ok {
		return nil, fmt.Errorf("lpid '%s' not found in topology", id)
	}

	switch opts.Kind() {
	case block.KindOutFile:
		return slices.Clone(opts.Inputs), nil
	case block.KindSession:
		deps := slices.Clone(opts.Requires)
		sort.Strings(deps)
		return slices.Compact(deps), nil
	default:
		return []string{}, nil
	}
}
