package inmemorystore

import (
	"context"
	"sync"

	"github.com/vk/litweave/internal/nodestore"
)

// Store is an in-memory implementation of nodestore.Store using sync.Map.
//
// The store maintains three independent sync.Maps:
//   - states: Maps identifiers to nodestore.Status
//   - outputs: Maps identifiers to their text output
//   - errors: Maps identifiers to the error that failed them
type Store struct {
	states  sync.Map // Key: lpid, Value: nodestore.Status
	outputs sync.Map // Key: lpid, Value: string
	errors  sync.Map // Key: lpid, Value: error
}

// New creates a new, empty in-memory state store.
func New() nodestore.Store {
	return &Store{}
}

// SetStatus updates the execution status of an identifier.
func (s *Store) SetStatus(ctx context.Context, id string, status nodestore.Status) error {
	s.states.Store(id, status)
	return nil
}

// GetStatus retrieves the execution status of an identifier.
// If a status has not been set, it returns StatusPending.
func (s *Store) GetStatus(ctx context.Context, id string) (nodestore.Status, error) {
	status, ok := s.states.Load(id)
	if !ok {
		return nodestore.StatusPending, nil
	}
	return status.(nodestore.Status), nil
}

// SetOutput records the output of an identifier.
func (s *Store) SetOutput(ctx context.Context, id string, output string) error {
	s.outputs.Store(id, output)
	return nil
}

// GetOutput retrieves the recorded output of an identifier.
func (s *Store) GetOutput(ctx context.Context, id string) (string, bool, error) {
	output, ok := s.outputs.Load(id)
	if !ok {
		return "", false, nil
	}
	return output.(string), true, nil
}

// SetError records the failure of an identifier.
func (s *Store) SetError(ctx context.Context, id string, nodeErr error) error {
	s.errors.Store(id, nodeErr)
	return nil
}

// GetError retrieves the recorded failure of an identifier.
func (s *Store) GetError(ctx context.Context, id string) (error, error) {
	err, ok := s.errors.Load(id)
	if !ok {
		return nil, nil // If not found, there is no error.
	}
	return err.(error), nil
}
