package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/songzhibin97/itsm-workflow/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	workflows map[string]types.WorkflowDefinition
	mu        sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		workflows: make(map[string]types.WorkflowDefinition),
	}
}

// SaveWorkflow saves a workflow to memory.
func (s *MemoryStorage) SaveWorkflow(ctx context.Context, def types.WorkflowDefinition) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.workflows[def.ID] = def.Clone()
		return nil
	})
}

// GetWorkflow retrieves a workflow from memory.
func (s *MemoryStorage) GetWorkflow(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	return withContext(ctx, func() (types.WorkflowDefinition, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		def, ok := s.workflows[id]
		if !ok {
			return types.WorkflowDefinition{}, fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
		}
		return def.Clone(), nil
	})
}

// ListWorkflows returns all workflows ordered by ID.
func (s *MemoryStorage) ListWorkflows(ctx context.Context) ([]types.WorkflowDefinition, error) {
	return withContext(ctx, func() ([]types.WorkflowDefinition, error) {
		s.mu.RLock()
		defs := make([]types.WorkflowDefinition, 0, len(s.workflows))
		for _, def := range s.workflows {
			defs = append(defs, def.Clone())
		}
		s.mu.RUnlock()

		sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
		return defs, nil
	})
}

// DeleteWorkflow removes a workflow from memory.
func (s *MemoryStorage) DeleteWorkflow(ctx context.Context, id string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.workflows[id]; !ok {
			return fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
		}
		delete(s.workflows, id)
		return nil
	})
}

// SaveWorkflows saves multiple workflows in a single lock.
func (s *MemoryStorage) SaveWorkflows(ctx context.Context, defs []types.WorkflowDefinition) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, def := range defs {
			s.workflows[def.ID] = def.Clone()
		}
		return nil
	})
}

// PurgeArchived removes archived workflows and returns their ids.
func (s *MemoryStorage) PurgeArchived(ctx context.Context) ([]string, error) {
	return withContext(ctx, func() ([]string, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		purged := []string{}
		for id, def := range s.workflows {
			if def.Status == types.StatusArchived {
				delete(s.workflows, id)
				purged = append(purged, id)
			}
		}
		sort.Strings(purged)
		return purged, nil
	})
}

var (
	_ Storage       = (*MemoryStorage)(nil)
	_ BatchSaver    = (*MemoryStorage)(nil)
	_ ArchivePurger = (*MemoryStorage)(nil)
)
