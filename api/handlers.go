// Package api exposes the workflow engine over HTTP for the workflow editor.
package api

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/songzhibin97/itsm-workflow/types"
	"github.com/songzhibin97/itsm-workflow/workflow"
)

// NextRequest asks for the successors of a node.
type NextRequest struct {
	CurrentNodeID string                 `json:"currentNodeId" validate:"required"`
	Variables     map[string]interface{} `json:"variables"`
}

// SimulateRequest asks for a dry run from the start node.
type SimulateRequest struct {
	Variables map[string]interface{} `json:"variables"`
	MaxSteps  int                    `json:"maxSteps" validate:"gte=0,lte=10000"`
}

// ListQuery holds the query parameters of GET /workflows.
type ListQuery struct {
	Page     int    `validate:"gte=1"`
	PageSize int    `validate:"gte=1,lte=100"`
	Status   string `validate:"omitempty,oneof=draft active inactive archived"`
	IsActive *bool
}

// ListResponse is one page of stored definitions. Total counts every match.
type ListResponse struct {
	Workflows []types.WorkflowDefinition `json:"workflows"`
	Total     int                        `json:"total"`
	Page      int                        `json:"page"`
	PageSize  int                        `json:"page_size"`
}

// ImportResponse lists the stored definitions of an import with their validation results.
type ImportResponse struct {
	Workflows []WorkflowResponse `json:"workflows"`
}

// WorkflowResponse pairs a stored definition with its validation result.
type WorkflowResponse struct {
	Workflow   types.WorkflowDefinition `json:"workflow"`
	Validation types.ValidationResult   `json:"validation"`
}

// SimulateResponse is the trace of a dry run. Completed is false when the
// step budget ran out.
type SimulateResponse struct {
	Steps     []workflow.Step `json:"steps"`
	Completed bool            `json:"completed"`
	Detail    string          `json:"detail,omitempty"`
}

// Server holds the handlers of the HTTP API.
type Server struct {
	engine   *workflow.WorkflowEngine
	validate *validator.Validate
	logger   *slog.Logger
}

// NewServer creates a Server. A nil logger falls back to slog.Default.
func NewServer(engine *workflow.WorkflowEngine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// New builds the fiber app with every route registered.
func New(engine *workflow.WorkflowEngine, logger *slog.Logger) *fiber.App {
	return NewServer(engine, logger).App()
}

// App builds the fiber app for s.
func (s *Server) App() *fiber.App {
	app := fiber.New()
	app.Use(recover.New())

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	w := app.Group("/workflows")
	w.Post("/validate", s.ValidateDefinition)
	w.Get("/", s.ListWorkflows)
	w.Post("/", s.RegisterWorkflow)
	w.Delete("/", s.PurgeWorkflows)
	w.Post("/import", s.ImportWorkflows)
	w.Get("/:id", s.GetWorkflow)
	w.Delete("/:id", s.DeleteWorkflow)
	w.Post("/:id/activate", s.ActivateWorkflow)
	w.Post("/:id/deactivate", s.DeactivateWorkflow)
	w.Post("/:id/archive", s.ArchiveWorkflow)
	w.Post("/:id/next", s.NextNodes)
	w.Post("/:id/simulate", s.Simulate)

	return app
}

// ValidateDefinition validates a definition without storing it.
func (s *Server) ValidateDefinition(c fiber.Ctx) error {
	var def types.WorkflowDefinition
	if err := c.Bind().JSON(&def); err != nil {
		return badRequest(c, "invalid workflow definition: "+err.Error())
	}
	return c.JSON(workflow.Validate(&def))
}

// ListWorkflows returns one page of definitions ordered by id. It takes page
// (default 1), page_size (default 10, at most 100), status and is_active.
func (s *Server) ListWorkflows(c fiber.Ctx) error {
	query, err := s.parseListQuery(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	defs, err := s.engine.ListWorkflows(c.Context())
	if err != nil {
		return s.handleEngineError(c, err)
	}

	matched := make([]types.WorkflowDefinition, 0, len(defs))
	for _, def := range defs {
		if query.Status != "" && string(def.Status) != query.Status {
			continue
		}
		if query.IsActive != nil && (def.Status == types.StatusActive) != *query.IsActive {
			continue
		}
		matched = append(matched, def)
	}

	from := min((query.Page-1)*query.PageSize, len(matched))
	to := min(from+query.PageSize, len(matched))
	return c.JSON(ListResponse{
		Workflows: matched[from:to],
		Total:     len(matched),
		Page:      query.Page,
		PageSize:  query.PageSize,
	})
}

func (s *Server) parseListQuery(c fiber.Ctx) (ListQuery, error) {
	query := ListQuery{Status: c.Query("status")}

	var err error
	if query.Page, err = strconv.Atoi(c.Query("page", "1")); err != nil {
		return query, errors.New("page must be an integer")
	}
	if query.PageSize, err = strconv.Atoi(c.Query("page_size", "10")); err != nil {
		return query, errors.New("page_size must be an integer")
	}
	if raw := c.Query("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return query, errors.New("is_active must be a boolean")
		}
		query.IsActive = &active
	}

	if err := s.validate.Struct(query); err != nil {
		return query, err
	}
	return query, nil
}

// PurgeWorkflows deletes every archived definition. Only status=archived is accepted.
func (s *Server) PurgeWorkflows(c fiber.Ctx) error {
	if c.Query("status") != string(types.StatusArchived) {
		return badRequest(c, "only archived workflows can be deleted in bulk; pass status=archived")
	}
	purged, err := s.engine.PurgeArchived(c.Context())
	if err != nil {
		return s.handleEngineError(c, err)
	}
	return c.JSON(fiber.Map{"purged": purged})
}

// ImportWorkflows registers a JSON array of definitions. Either all of them are
// stored or none is.
func (s *Server) ImportWorkflows(c fiber.Ctx) error {
	var defs []types.WorkflowDefinition
	if err := c.Bind().JSON(&defs); err != nil {
		return badRequest(c, "invalid workflow definitions: "+err.Error())
	}
	if len(defs) == 0 {
		return badRequest(c, "no workflow definitions to import")
	}

	stored, results, err := s.engine.ImportWorkflows(c.Context(), defs)
	if errors.Is(err, workflow.ErrValidationFailed) {
		return validationFailed(c, err.Error(), results[len(results)-1])
	}
	if err != nil {
		return s.handleEngineError(c, err)
	}

	resp := ImportResponse{Workflows: make([]WorkflowResponse, len(stored))}
	for i := range stored {
		resp.Workflows[i] = WorkflowResponse{Workflow: stored[i], Validation: results[i]}
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// RegisterWorkflow stores a definition. Definitions posted as active that fail
// validation get a 422 carrying the validation result.
func (s *Server) RegisterWorkflow(c fiber.Ctx) error {
	var def types.WorkflowDefinition
	if err := c.Bind().JSON(&def); err != nil {
		return badRequest(c, "invalid workflow definition: "+err.Error())
	}

	stored, result, err := s.engine.RegisterWorkflow(c.Context(), def)
	if errors.Is(err, workflow.ErrValidationFailed) {
		return validationFailed(c, err.Error(), result)
	}
	if err != nil {
		return s.handleEngineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(WorkflowResponse{Workflow: stored, Validation: result})
}

// GetWorkflow returns a stored definition.
func (s *Server) GetWorkflow(c fiber.Ctx) error {
	def, err := s.engine.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return s.handleEngineError(c, err)
	}
	return c.JSON(def)
}

// DeleteWorkflow removes a definition in any status.
func (s *Server) DeleteWorkflow(c fiber.Ctx) error {
	if err := s.engine.DeleteWorkflow(c.Context(), c.Params("id")); err != nil {
		return s.handleEngineError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ActivateWorkflow validates a definition and makes it routable. A failed
// validation is a 422 with the result attached.
func (s *Server) ActivateWorkflow(c fiber.Ctx) error {
	def, result, err := s.engine.ActivateWorkflow(c.Context(), c.Params("id"))
	if errors.Is(err, workflow.ErrValidationFailed) {
		return validationFailed(c, err.Error(), result)
	}
	if err != nil {
		return s.handleEngineError(c, err)
	}
	return c.JSON(WorkflowResponse{Workflow: def, Validation: result})
}

// DeactivateWorkflow takes a definition out of routing.
func (s *Server) DeactivateWorkflow(c fiber.Ctx) error {
	def, err := s.engine.DeactivateWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return s.handleEngineError(c, err)
	}
	return c.JSON(def)
}

// ArchiveWorkflow archives a definition for good.
func (s *Server) ArchiveWorkflow(c fiber.Ctx) error {
	def, err := s.engine.ArchiveWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return s.handleEngineError(c, err)
	}
	return c.JSON(def)
}

// NextNodes resolves the successors of a node in an active workflow.
func (s *Server) NextNodes(c fiber.Ctx) error {
	var req NextRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	next, err := s.engine.NextNodes(c.Context(), c.Params("id"), req.CurrentNodeID, req.Variables)
	if err != nil {
		return s.handleEngineError(c, err)
	}
	return c.JSON(fiber.Map{"next": next})
}

// Simulate walks a workflow from its start node. An empty body is a walk without variables.
func (s *Server) Simulate(c fiber.Ctx) error {
	var req SimulateRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}
	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	steps, err := s.engine.Simulate(c.Context(), c.Params("id"), req.Variables, req.MaxSteps)
	if errors.Is(err, workflow.ErrMaxStepsExceeded) {
		return c.JSON(SimulateResponse{Steps: steps, Completed: false, Detail: err.Error()})
	}
	if err != nil {
		return s.handleEngineError(c, err)
	}
	return c.JSON(SimulateResponse{Steps: steps, Completed: true})
}
