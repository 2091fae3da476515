package storage

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/songzhibin97/itsm-workflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDefinition builds a small start -> task -> end definition.
func newDefinition(id string, status types.WorkflowStatus) types.WorkflowDefinition {
	return types.WorkflowDefinition{
		ID:      id,
		Name:    "Incident triage",
		Version: 1,
		Status:  status,
		Nodes: []types.WorkflowNode{
			types.NewNode("start", "Start", types.StartConfig{}),
			types.NewNode("triage", "Triage", types.TaskConfig{AssigneeType: "role", AssigneeRole: "l1"}),
			types.NewNode("end", "End", types.EndConfig{}),
		},
		Connections: []types.WorkflowConnection{
			{ID: "c1", SourceNodeID: "start", TargetNodeID: "triage"},
			{ID: "c2", SourceNodeID: "triage", TargetNodeID: "end"},
		},
	}
}

// onlyPrefixed drops definitions written by other tests sharing the backend.
func onlyPrefixed(defs []types.WorkflowDefinition, prefix string) []string {
	var ids []string
	for _, d := range defs {
		if strings.HasPrefix(d.ID, prefix) {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// runStorageSuite exercises the Storage contract against store.
func runStorageSuite(t *testing.T, store Storage) {
	ctx := context.Background()
	prefix := "test-" + uuid.NewString()[:8] + "-"

	t.Run("SaveAndGet", func(t *testing.T) {
		def := newDefinition(prefix+"a", types.StatusDraft)
		require.NoError(t, store.SaveWorkflow(ctx, def))

		got, err := store.GetWorkflow(ctx, def.ID)
		require.NoError(t, err)
		assert.Equal(t, def, got)
		assert.Equal(t, types.NodeTypeTask, got.Nodes[1].Type())
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		def := newDefinition(prefix+"a", types.StatusActive)
		def.Version = 2
		require.NoError(t, store.SaveWorkflow(ctx, def))

		got, err := store.GetWorkflow(ctx, def.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.Equal(t, types.StatusActive, got.Status)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetWorkflow(ctx, prefix+"missing")
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
	})

	t.Run("ListOrdered", func(t *testing.T) {
		require.NoError(t, store.SaveWorkflow(ctx, newDefinition(prefix+"c", types.StatusDraft)))
		require.NoError(t, store.SaveWorkflow(ctx, newDefinition(prefix+"b", types.StatusArchived)))

		defs, err := store.ListWorkflows(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{prefix + "a", prefix + "b", prefix + "c"}, onlyPrefixed(defs, prefix))
	})

	t.Run("PurgeArchived", func(t *testing.T) {
		p, ok := store.(ArchivePurger)
		require.True(t, ok)
		purged, err := p.PurgeArchived(ctx)
		require.NoError(t, err)
		assert.Contains(t, purged, prefix+"b")
		assert.NotContains(t, purged, prefix+"c")

		_, err = store.GetWorkflow(ctx, prefix+"b")
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
		_, err = store.GetWorkflow(ctx, prefix+"c")
		assert.NoError(t, err)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.DeleteWorkflow(ctx, prefix+"a"))
		_, err := store.GetWorkflow(ctx, prefix+"a")
		assert.ErrorIs(t, err, ErrWorkflowNotFound)

		err = store.DeleteWorkflow(ctx, prefix+"a")
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
		require.NoError(t, store.DeleteWorkflow(ctx, prefix+"c"))
	})

	t.Run("SaveWorkflows", func(t *testing.T) {
		b, ok := store.(BatchSaver)
		require.True(t, ok)
		defs := []types.WorkflowDefinition{
			newDefinition(prefix+"batch-2", types.StatusActive),
			newDefinition(prefix+"batch-1", types.StatusDraft),
		}
		require.NoError(t, b.SaveWorkflows(ctx, defs))

		for _, want := range defs {
			got, err := store.GetWorkflow(ctx, want.ID)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			require.NoError(t, store.DeleteWorkflow(ctx, want.ID))
		}
	})

	t.Run("ConcurrentSaves", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				def := newDefinition(prefix+"concurrent-"+string(rune('a'+i)), types.StatusDraft)
				assert.NoError(t, store.SaveWorkflow(ctx, def))
			}(i)
		}
		wg.Wait()

		defs, err := store.ListWorkflows(ctx)
		require.NoError(t, err)
		ids := onlyPrefixed(defs, prefix+"concurrent-")
		assert.Len(t, ids, 20)
		for _, id := range ids {
			require.NoError(t, store.DeleteWorkflow(ctx, id))
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, store.SaveWorkflow(cctx, newDefinition(prefix+"x", types.StatusDraft)), context.Canceled)
		_, err := store.GetWorkflow(cctx, prefix+"x")
		assert.ErrorIs(t, err, context.Canceled)
		_, err = store.ListWorkflows(cctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, store.DeleteWorkflow(cctx, prefix+"x"), context.Canceled)
	})
}
