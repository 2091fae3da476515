package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/songzhibin97/itsm-workflow/types"
	"github.com/songzhibin97/itsm-workflow/workflow"
)

// validationProblem is a 422 body that carries the full validation result.
type validationProblem struct {
	*problems.Problem
	Validation types.ValidationResult `json:"validation"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("bad_request").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func validationFailed(c fiber.Ctx, detail string, result types.ValidationResult) error {
	problem := problems.NewStatusProblem(fiber.StatusUnprocessableEntity).
		WithInstance(c.Path()).
		WithType("validation_failed").
		WithDetail(detail)

	return c.Status(fiber.StatusUnprocessableEntity).JSON(validationProblem{
		Problem:    problem,
		Validation: result,
	})
}

// handleEngineError maps engine errors to problem responses.
func (s *Server) handleEngineError(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	problemType := "internal_error"

	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		status, problemType = fiber.StatusNotFound, "workflow_not_found"
	case errors.Is(err, workflow.ErrNodeNotFound):
		status, problemType = fiber.StatusNotFound, "node_not_found"
	case errors.Is(err, workflow.ErrInvalidDefinition):
		status, problemType = fiber.StatusBadRequest, "invalid_definition"
	case errors.Is(err, workflow.ErrNotActive):
		status, problemType = fiber.StatusConflict, "workflow_not_active"
	case errors.Is(err, workflow.ErrArchived):
		status, problemType = fiber.StatusConflict, "workflow_archived"
	case errors.Is(err, workflow.ErrNoStartNode):
		status, problemType = fiber.StatusUnprocessableEntity, "no_start_node"
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType)
	if status == fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
		problem = problem.WithError(err)
	} else {
		problem = problem.WithDetail(err.Error())
	}

	return c.Status(status).JSON(problem)
}
