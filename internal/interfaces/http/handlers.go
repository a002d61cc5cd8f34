package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/steadyrow/caseflow/internal/domain/lifecycle"
	"github.com/steadyrow/caseflow/internal/engine"
	"github.com/steadyrow/caseflow/pkg/utils"
)

// CorrelationHeader carries the caller's idempotency key. A request without
// it gets a generated one, returned in the response.
const CorrelationHeader = "X-Correlation-ID"

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine *engine.Engine
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(eng *engine.Engine, logger Logger) *Handlers {
	return &Handlers{engine: eng, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// TransitionRequest is the submit-transition request body
type TransitionRequest struct {
	EntityType        string         `json:"entity_type" binding:"required"`
	EntityID          string         `json:"entity_id" binding:"required"`
	OrganizationID    string         `json:"organization_id"`
	FromStateExpected string         `json:"from_state_expected"`
	ToState           string         `json:"to_state" binding:"required"`
	ActorID           string         `json:"actor_id" binding:"required"`
	Notes             string         `json:"notes"`
	Payload           map[string]any `json:"payload"`
}

// CreateEntityRequest is the create-entity request body
type CreateEntityRequest struct {
	EntityType     string `json:"entity_type" binding:"required"`
	EntityID       string `json:"entity_id" binding:"required"`
	OrganizationID string `json:"organization_id" binding:"required"`
}

// LinkRequest is the link-entities request body
type LinkRequest struct {
	SourceType string `json:"source_type" binding:"required"`
	SourceID   string `json:"source_id" binding:"required"`
	TargetType string `json:"target_type" binding:"required"`
	TargetID   string `json:"target_id" binding:"required"`
}

// HealthCheck handles GET /healthz
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// SubmitTransition handles POST /api/v1/transitions
func (h *Handlers) SubmitTransition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	correlationID := c.GetHeader(CorrelationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	if err := utils.ValidateCorrelationID(correlationID); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	for name, value := range map[string]string{
		"entity_type": req.EntityType,
		"entity_id":   req.EntityID,
	} {
		if err := utils.ValidateIdentifier(name, value); err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
			return
		}
	}

	outcome, err := h.engine.SubmitTransition(c.Request.Context(), correlationID, lifecycle.TransitionRequest{
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		OrganizationID:    req.OrganizationID,
		FromStateExpected: lifecycle.State(req.FromStateExpected),
		ToState:           lifecycle.State(req.ToState),
		ActorID:           req.ActorID,
		Notes:             utils.SanitizeString(req.Notes),
		Payload:           req.Payload,
	})
	if err != nil {
		h.renderTransitionError(c, correlationID, err)
		return
	}

	c.Header(CorrelationHeader, correlationID)
	status := http.StatusOK
	if !outcome.Replayed {
		status = http.StatusCreated
	}
	c.JSON(status, Response{Success: true, Data: outcome})
}

// GetTransitionStatus handles GET /api/v1/transitions/:correlation_id
func (h *Handlers) GetTransitionStatus(c *gin.Context) {
	correlationID := c.Param("correlation_id")

	cp, err := h.engine.GetStatus(c.Request.Context(), correlationID)
	if err != nil {
		if errors.Is(err, engine.ErrStatusNotFound) {
			c.JSON(http.StatusNotFound, Response{Success: false, Error: "unknown correlation id"})
			return
		}
		h.logger.Error("Failed to get transition status", "correlation_id", correlationID, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to retrieve transition status"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: cp})
}

// CreateEntity handles POST /api/v1/entities
func (h *Handlers) CreateEntity(c *gin.Context) {
	var req CreateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}
	for name, value := range map[string]string{
		"entity_type":     req.EntityType,
		"entity_id":       req.EntityID,
		"organization_id": req.OrganizationID,
	} {
		if err := utils.ValidateIdentifier(name, value); err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
			return
		}
	}

	e, err := h.engine.CreateEntity(c.Request.Context(), req.EntityType, req.EntityID, req.OrganizationID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnknownEntityType) {
			c.JSON(http.StatusNotFound, Response{Success: false, Error: "unknown entity type: " + req.EntityType})
			return
		}
		h.logger.Error("Failed to create entity", "entity_type", req.EntityType, "entity_id", req.EntityID, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to create entity"})
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: e})
}

// GetEntity handles GET /api/v1/entities/:type/:id
func (h *Handlers) GetEntity(c *gin.Context) {
	entityType := c.Param("type")
	entityID := c.Param("id")

	e, err := h.engine.GetEntity(c.Request.Context(), entityType, entityID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnknownEntity) {
			c.JSON(http.StatusNotFound, Response{Success: false, Error: "entity not found"})
			return
		}
		h.logger.Error("Failed to get entity", "entity_type", entityType, "entity_id", entityID, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to retrieve entity"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: e})
}

// GetHistory handles GET /api/v1/entities/:type/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	entityType := c.Param("type")
	entityID := c.Param("id")

	records, err := h.engine.GetHistory(c.Request.Context(), entityType, entityID)
	if err != nil {
		h.logger.Error("Failed to get history", "entity_type", entityType, "entity_id", entityID, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to retrieve history"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// LinkEntities handles POST /api/v1/links
func (h *Handlers) LinkEntities(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	err := h.engine.LinkEntities(c.Request.Context(), lifecycle.Link{
		Source: lifecycle.Ref{EntityType: req.SourceType, EntityID: req.SourceID},
		Target: lifecycle.Ref{EntityType: req.TargetType, EntityID: req.TargetID},
	})
	if err != nil {
		h.logger.Error("Failed to link entities", "source", req.SourceType+"/"+req.SourceID,
			"target", req.TargetType+"/"+req.TargetID, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to link entities"})
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true})
}

// renderTransitionError maps engine errors onto HTTP statuses. Structured
// rejections carry a machine-readable code; anything else is a 500.
func (h *Handlers) renderTransitionError(c *gin.Context, correlationID string, err error) {
	c.Header(CorrelationHeader, correlationID)

	if errors.Is(err, engine.ErrAlreadyInProgress) {
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
		return
	}

	var rej *lifecycle.Rejection
	if !errors.As(err, &rej) {
		h.logger.Error("Transition failed", "correlation_id", correlationID, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "transition failed"})
		return
	}

	status := http.StatusConflict
	switch {
	case errors.Is(rej, lifecycle.ErrUnknownEntity), errors.Is(rej, lifecycle.ErrUnknownEntityType):
		status = http.StatusNotFound
	case errors.Is(rej, lifecycle.ErrPreconditionFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(rej, lifecycle.ErrInvalidTransition), errors.Is(rej, lifecycle.ErrConcurrentModification):
		status = http.StatusConflict
	}
	c.JSON(status, Response{Success: false, Error: rej.Error()})
}
