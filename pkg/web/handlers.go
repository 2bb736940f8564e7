// Package web provides the HTTP handlers for definition management, run
// inspection and domain event intake.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/taskforge/taskforge/pkg/eventbus"
	"github.com/taskforge/taskforge/pkg/events"
	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/registry"
	"github.com/taskforge/taskforge/pkg/services"
)

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	validator        *validator.Validate
	registry         *registry.Registry
	eventBus         eventbus.EventBus
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	validator *validator.Validate,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		validator:        validator,
		registry:         registry,
		eventBus:         eventBus,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req := services.ListWorkflowsRequest{}

	if projectID := c.Query("project_id"); projectID != "" {
		req.ProjectID = &projectID
	}

	if enabledStr := c.Query("enabled"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return badRequest(c, "Invalid enabled parameter")
		}

		req.EnabledOnly = enabled
	}

	workflows, err := h.workflowService.ListWorkflows(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchWorkflow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition := &models.WorkflowDefinition{
		Name:        req.Name,
		Description: req.Description,
		ProjectID:   req.ProjectID,
		Enabled:     req.Enabled,
		CreatedBy:   req.CreatedBy,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
	}

	created, err := h.workflowService.CreateWorkflow(c.Context(), definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition := &models.WorkflowDefinition{
		Name:        req.Name,
		Description: req.Description,
		ProjectID:   req.ProjectID,
		Enabled:     req.Enabled,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
	}

	updated, err := h.workflowService.UpdateWorkflow(c.Context(), id, definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.workflowService.DeleteWorkflow(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SetWorkflowEnabled(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req SetEnabledRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.workflowService.SetEnabled(c.Context(), id, req.Enabled)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) TriggerWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req TriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.executionService.TriggerManual(c.Context(), id, req.EntityType, req.EntityID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	req := services.ListExecutionsRequest{
		DefinitionID: c.Query("definition_id"),
		EntityID:     c.Query("entity_id"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ExecutionStatus(statusStr)
		req.Status = &status
	}

	executions, err := h.executionService.ListExecutions(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	detail, err := h.executionService.FetchExecution(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req ResumeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.executionService.Resume(c.Context(), id, req.NodeID, req.Result)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// PostTaskChange publishes a task change to the bus. Intake is
// fire-and-forget: the caller gets 202 once the event is on the bus,
// matching and run execution happen on the subscriber side.
func (h *APIHandlers) PostTaskChange(c fiber.Ctx) error {
	var req TaskChangeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := events.TaskChanged{
		BaseEvent: events.BaseEvent{
			ID:        h.eventBus.GenerateID(),
			Type:      events.TaskChangedEvent,
			Timestamp: time.Now().UTC(),
		},
		Task:    req.Task,
		OldTask: req.OldTask,
	}

	taskID, _ := req.Task["id"].(string)

	if err := h.eventBus.Publish(c.Context(), taskID, event); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// PostProjectChange publishes a project-level change to the bus.
func (h *APIHandlers) PostProjectChange(c fiber.Ctx) error {
	var req ProjectChangeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := events.ProjectChanged{
		BaseEvent: events.BaseEvent{
			ID:        h.eventBus.GenerateID(),
			Type:      events.ProjectChangedEvent,
			Timestamp: time.Now().UTC(),
		},
		ProjectID:  req.ProjectID,
		ChangeType: req.ChangeType,
		Data:       req.Data,
	}

	if err := h.eventBus.Publish(c.Context(), req.ProjectID, event); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
