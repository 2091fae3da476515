package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/songzhibin97/gkit/generator"
	"github.com/songzhibin97/itsm-workflow/events"
	"github.com/songzhibin97/itsm-workflow/rules"
	"github.com/songzhibin97/itsm-workflow/storage"
	"github.com/songzhibin97/itsm-workflow/types"
)

// Standard error definitions
var (
	ErrWorkflowNotFound  = storage.ErrWorkflowNotFound
	ErrNodeNotFound      = errors.New("node not found")
	ErrInvalidDefinition = errors.New("invalid workflow definition")
	ErrValidationFailed  = errors.New("workflow definition failed validation")
	ErrNotActive         = errors.New("workflow is not active")
	ErrArchived          = errors.New("workflow is archived")
)

// WorkflowEngine keeps workflow definitions, moves them through their
// lifecycle and answers routing questions for active ones.
type WorkflowEngine struct {
	workflows map[string]types.WorkflowDefinition
	resolver  *Resolver
	storage   storage.Storage
	eventBus  *events.EventBus
	validate  *validator.Validate
	generate  generator.Generator
	logger    *slog.Logger
	mu        sync.RWMutex
}

// Option configures a WorkflowEngine.
type Option func(*WorkflowEngine)

// WithLogger sets the engine logger. The resolver logs through it as well.
func WithLogger(logger *slog.Logger) Option {
	return func(e *WorkflowEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEventBus replaces the engine's private event bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *WorkflowEngine) {
		if bus != nil {
			e.eventBus = bus
		}
	}
}

// NewWorkflowEngine creates a WorkflowEngine. The generator is required; a nil
// store falls back to MemoryStorage and a nil evaluator to rules.ExprEvaluator.
func NewWorkflowEngine(generate generator.Generator, store storage.Storage, evaluator rules.Evaluator, opts ...Option) (*WorkflowEngine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}

	if store == nil {
		store = storage.NewMemoryStorage()
	}

	e := &WorkflowEngine{
		workflows: make(map[string]types.WorkflowDefinition),
		storage:   store,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		generate:  generate,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.eventBus == nil {
		e.eventBus = events.NewEventBus(events.WithLogger(e.logger))
	}
	e.resolver = NewResolver(evaluator, e.logger)

	return e, nil
}

// SubscribeEvent subscribes an event handler to a lifecycle event type and
// returns the subscription id.
func (e *WorkflowEngine) SubscribeEvent(eventType string, handler events.EventHandler) string {
	return e.eventBus.Subscribe(eventType, handler)
}

// GenerateID generates a unique ID using the configured generator.
func (e *WorkflowEngine) GenerateID() (string, error) {
	id, err := e.generate.NextID()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return strconv.FormatUint(id, 10), nil
}

// RegisterWorkflow stores a definition and returns it together with its validation result.
// A definition without an id gets one from the generator. Re-registering an
// existing id keeps its creation time and bumps its version; archived ids cannot
// be registered again. Definitions that are
// registered as active must validate without errors.
func (e *WorkflowEngine) RegisterWorkflow(ctx context.Context, def types.WorkflowDefinition) (types.WorkflowDefinition, types.ValidationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, result, err := e.prepareLocked(ctx, def, time.Now().UnixMilli())
	if err != nil {
		return def, result, err
	}
	if err := e.saveLocked(ctx, def); err != nil {
		return def, result, err
	}
	e.logger.Info("workflow registered", "workflow_id", def.ID, "version", def.Version, "status", def.Status)
	e.publish(events.TypeRegistered, def.ID, map[string]interface{}{"version": def.Version})
	return def, result, nil
}

// ImportWorkflows registers several definitions at once. Each one gets the
// RegisterWorkflow treatment, but nothing is stored unless all of them pass.
// Stores implementing storage.BatchSaver receive a single batch write.
func (e *WorkflowEngine) ImportWorkflows(ctx context.Context, defs []types.WorkflowDefinition) ([]types.WorkflowDefinition, []types.ValidationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UnixMilli()
	prepared := make([]types.WorkflowDefinition, 0, len(defs))
	results := make([]types.ValidationResult, 0, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for i, def := range defs {
		def, result, err := e.prepareLocked(ctx, def, now)
		results = append(results, result)
		if err != nil {
			return nil, results, fmt.Errorf("import item %d: %w", i, err)
		}
		if _, dup := seen[def.ID]; dup {
			return nil, results, fmt.Errorf("%w: duplicate id %s in import", ErrInvalidDefinition, def.ID)
		}
		seen[def.ID] = struct{}{}
		prepared = append(prepared, def)
	}

	if batch, ok := e.storage.(storage.BatchSaver); ok {
		if err := batch.SaveWorkflows(ctx, prepared); err != nil {
			return nil, results, fmt.Errorf("failed to save workflows: %w", err)
		}
		for _, def := range prepared {
			e.workflows[def.ID] = def.Clone()
		}
	} else {
		for _, def := range prepared {
			if err := e.saveLocked(ctx, def); err != nil {
				return nil, results, err
			}
		}
	}

	for _, def := range prepared {
		e.publish(events.TypeRegistered, def.ID, map[string]interface{}{"version": def.Version})
	}
	e.logger.Info("workflows imported", "count", len(prepared))
	return prepared, results, nil
}

// prepareLocked checks def, fills in its id, status, version and timestamps
// against any stored copy and validates it. The caller holds e.mu.
func (e *WorkflowEngine) prepareLocked(ctx context.Context, def types.WorkflowDefinition, now int64) (types.WorkflowDefinition, types.ValidationResult, error) {
	if err := e.validate.StructCtx(ctx, def); err != nil {
		return def, types.ValidationResult{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	if def.ID == "" {
		id, err := e.GenerateID()
		if err != nil {
			return def, types.ValidationResult{}, err
		}
		def.ID = id
	}
	if def.Status == "" {
		def.Status = types.StatusDraft
	}

	existing, err := e.loadLocked(ctx, def.ID)
	switch {
	case err == nil:
		if existing.Status == types.StatusArchived {
			return def, types.ValidationResult{}, fmt.Errorf("%w: %s", ErrArchived, def.ID)
		}
		def.CreatedAt = existing.CreatedAt
		if def.Version <= existing.Version {
			def.Version = existing.Version + 1
		}
	case errors.Is(err, ErrWorkflowNotFound):
		if def.CreatedAt == 0 {
			def.CreatedAt = now
		}
		if def.Version == 0 {
			def.Version = 1
		}
	default:
		return def, types.ValidationResult{}, err
	}
	def.UpdatedAt = now

	result := Validate(&def)
	if def.Status == types.StatusActive && !result.IsValid {
		e.publish(events.TypeValidationFailed, def.ID, map[string]interface{}{"errors": len(result.Errors)})
		return def, result, fmt.Errorf("%w: %s has %d error(s)", ErrValidationFailed, def.ID, len(result.Errors))
	}
	return def, result, nil
}

// ValidateWorkflow validates a stored definition.
func (e *WorkflowEngine) ValidateWorkflow(ctx context.Context, id string) (types.ValidationResult, error) {
	def, err := e.GetWorkflow(ctx, id)
	if err != nil {
		return types.ValidationResult{}, err
	}
	return Validate(&def), nil
}

// ActivateWorkflow makes a definition available for routing. It fails with
// ErrValidationFailed, together with the result, when the definition has errors.
func (e *WorkflowEngine) ActivateWorkflow(ctx context.Context, id string) (types.WorkflowDefinition, types.ValidationResult, error) {
	var result types.ValidationResult
	def, err := e.transition(ctx, id, func(def *types.WorkflowDefinition) error {
		if def.Status == types.StatusArchived {
			return fmt.Errorf("%w: %s", ErrArchived, def.ID)
		}
		result = Validate(def)
		if !result.IsValid {
			e.publish(events.TypeValidationFailed, def.ID, map[string]interface{}{"errors": len(result.Errors)})
			return fmt.Errorf("%w: %s has %d error(s)", ErrValidationFailed, def.ID, len(result.Errors))
		}
		def.Status = types.StatusActive
		return nil
	})
	if err != nil {
		return def, result, err
	}
	e.publish(events.TypeActivated, def.ID, map[string]interface{}{"version": def.Version})
	return def, result, nil
}

// DeactivateWorkflow takes an active definition out of routing.
func (e *WorkflowEngine) DeactivateWorkflow(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	return e.changeStatus(ctx, id, types.StatusInactive)
}

// ArchiveWorkflow archives a definition. Archived definitions cannot be reactivated.
func (e *WorkflowEngine) ArchiveWorkflow(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	return e.changeStatus(ctx, id, types.StatusArchived)
}

func (e *WorkflowEngine) changeStatus(ctx context.Context, id string, to types.WorkflowStatus) (types.WorkflowDefinition, error) {
	var from types.WorkflowStatus
	def, err := e.transition(ctx, id, func(def *types.WorkflowDefinition) error {
		from = def.Status
		if from == types.StatusArchived && to != types.StatusArchived {
			return fmt.Errorf("%w: %s", ErrArchived, def.ID)
		}
		def.Status = to
		return nil
	})
	if err != nil {
		return def, err
	}
	e.publish(events.TypeStatusChanged, def.ID, map[string]interface{}{"from": string(from), "to": string(to)})
	return def, nil
}

// transition loads a definition, applies fn and saves the result under the engine lock.
func (e *WorkflowEngine) transition(ctx context.Context, id string, fn func(def *types.WorkflowDefinition) error) (types.WorkflowDefinition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, err := e.loadLocked(ctx, id)
	if err != nil {
		return types.WorkflowDefinition{}, err
	}
	from := def.Status
	if err := fn(&def); err != nil {
		return def, err
	}
	def.UpdatedAt = time.Now().UnixMilli()
	if err := e.saveLocked(ctx, def); err != nil {
		return def, err
	}
	e.logger.Info("workflow status changed", "workflow_id", def.ID, "from", from, "to", def.Status)
	return def, nil
}

// GetWorkflow retrieves a workflow definition by ID.
func (e *WorkflowEngine) GetWorkflow(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	e.mu.RLock()
	def, ok := e.workflows[id]
	e.mu.RUnlock()
	if ok {
		return def.Clone(), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(ctx, id)
}

// ListWorkflows returns every stored definition ordered by ID.
func (e *WorkflowEngine) ListWorkflows(ctx context.Context) ([]types.WorkflowDefinition, error) {
	defs, err := e.storage.ListWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return defs, nil
}

// DeleteWorkflow removes a definition from storage and the cache.
func (e *WorkflowEngine) DeleteWorkflow(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.storage.DeleteWorkflow(ctx, id); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	delete(e.workflows, id)
	e.logger.Info("workflow deleted", "workflow_id", id)
	e.publish(events.TypeDeleted, id, nil)
	return nil
}

// PurgeArchived deletes every archived definition and returns the removed ids
// in ascending order. Stores implementing storage.ArchivePurger do it in one call.
func (e *WorkflowEngine) PurgeArchived(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var purged []string
	if p, ok := e.storage.(storage.ArchivePurger); ok {
		ids, err := p.PurgeArchived(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to purge archived workflows: %w", err)
		}
		purged = ids
	} else {
		defs, err := e.storage.ListWorkflows(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list workflows: %w", err)
		}
		for _, def := range defs {
			if def.Status != types.StatusArchived {
				continue
			}
			if err := e.storage.DeleteWorkflow(ctx, def.ID); err != nil && !errors.Is(err, ErrWorkflowNotFound) {
				return purged, fmt.Errorf("failed to delete workflow: %w", err)
			}
			purged = append(purged, def.ID)
		}
	}
	if purged == nil {
		purged = []string{}
	}

	for _, id := range purged {
		delete(e.workflows, id)
		e.publish(events.TypeDeleted, id, map[string]interface{}{"reason": "purge"})
	}
	e.logger.Info("archived workflows purged", "count", len(purged))
	return purged, nil
}

// NextNodes resolves the successors of currentNodeID in an active definition.
func (e *WorkflowEngine) NextNodes(ctx context.Context, id, currentNodeID string, variables map[string]interface{}) ([]string, error) {
	def, err := e.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if def.Status != types.StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, def.ID, def.Status)
	}
	if _, ok := findNode(&def, currentNodeID); !ok {
		return nil, fmt.Errorf("%w: %s in workflow %s", ErrNodeNotFound, currentNodeID, def.ID)
	}

	next := e.resolver.FindNextNodes(currentNodeID, &def, variables)
	e.logger.Debug("next nodes resolved", "workflow_id", def.ID, "node_id", currentNodeID, "next", next)
	return next, nil
}

// Simulate walks a stored definition from its start node with the given variables.
// Definitions in any status can be simulated.
func (e *WorkflowEngine) Simulate(ctx context.Context, id string, variables map[string]interface{}, maxSteps int) ([]Step, error) {
	def, err := e.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.resolver.Walk(&def, variables, maxSteps)
}

// Stop shuts down the event bus.
func (e *WorkflowEngine) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.eventBus.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadLocked reads through the cache and returns a copy the caller may modify.
// The caller holds e.mu.
func (e *WorkflowEngine) loadLocked(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	if def, ok := e.workflows[id]; ok {
		return def.Clone(), nil
	}
	def, err := e.storage.GetWorkflow(ctx, id)
	if err != nil {
		return types.WorkflowDefinition{}, fmt.Errorf("failed to get workflow: %w", err)
	}
	e.workflows[def.ID] = def.Clone()
	return def, nil
}

// saveLocked writes to storage, then to the cache. The caller holds e.mu.
func (e *WorkflowEngine) saveLocked(ctx context.Context, def types.WorkflowDefinition) error {
	if err := e.storage.SaveWorkflow(ctx, def); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	e.workflows[def.ID] = def.Clone()
	return nil
}

// publish delivers lifecycle events on a background context; request
// contexts end before the bus gets to them.
func (e *WorkflowEngine) publish(eventType, definitionID string, data map[string]interface{}) {
	err := e.eventBus.Publish(context.Background(), events.NewEvent(eventType, definitionID, data))
	if err != nil && !errors.Is(err, events.ErrNoHandler) {
		e.logger.Warn("failed to publish event", "event_type", eventType, "workflow_id", definitionID, "error", err)
	}
}
