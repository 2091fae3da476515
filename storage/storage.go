package storage

import (
	"context"
	"errors"

	"github.com/songzhibin97/itsm-workflow/types"
)

// ErrWorkflowNotFound is returned when no definition is stored under the requested id.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Storage defines the interface for persisting and retrieving workflow definitions.
type Storage interface {
	// SaveWorkflow creates or replaces a workflow definition.
	SaveWorkflow(ctx context.Context, def types.WorkflowDefinition) error

	// GetWorkflow retrieves a workflow definition by ID.
	GetWorkflow(ctx context.Context, id string) (types.WorkflowDefinition, error)

	// ListWorkflows returns every stored definition ordered by ID.
	ListWorkflows(ctx context.Context) ([]types.WorkflowDefinition, error)

	// DeleteWorkflow removes a workflow definition.
	DeleteWorkflow(ctx context.Context, id string) error
}

// BatchSaver is implemented by stores that can write several definitions in one round trip.
type BatchSaver interface {
	SaveWorkflows(ctx context.Context, defs []types.WorkflowDefinition) error
}

// ArchivePurger is implemented by stores that can delete every archived
// definition at once. PurgeArchived returns the removed ids in ascending order.
type ArchivePurger interface {
	PurgeArchived(ctx context.Context) ([]string, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
