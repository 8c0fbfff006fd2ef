package http

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/application/service"
	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/domain/errs"
	"github.com/garyjia/digital-fte/internal/infrastructure/audit"
)

// StatusProvider builds the system health snapshot
type StatusProvider interface {
	Check(ctx context.Context) entity.SystemHealth
}

// AuditQuerier reads the audit trail
type AuditQuerier interface {
	Query(ctx context.Context, f audit.Filter) ([]entity.AuditEntry, error)
}

// Deps are the services behind the API
type Deps struct {
	Store     port.TaskStore
	Approvals service.ApprovalService
	Health    StatusProvider
	Audit     AuditQuerier
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Deps
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the liveness response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// DecisionRequest is the body of approve and reject calls
type DecisionRequest struct {
	Note string `json:"note"`
	// Approver names the person deciding; it is recorded as human:http:<approver>.
	Approver string `json:"approver"`
}

// ListTasksRequest represents query parameters for listing tasks
type ListTasksRequest struct {
	Partition string `form:"partition"`
	Limit     int    `form:"limit"`
}

// AuditRequest represents query parameters for the audit trail
type AuditRequest struct {
	TaskID    string `form:"task_id"`
	EventType string `form:"event_type"`
	Since     string `form:"since"`
	Limit     int    `form:"limit"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// Status handles GET /api/status
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.deps.Health.Check(c.Request.Context())})
}

// ListTasks handles GET /api/tasks?partition=Needs_Action&limit=50
func (h *Handlers) ListTasks(c *gin.Context) {
	var req ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}

	partition := entity.PartitionNeedsAction
	if req.Partition != "" {
		partition = entity.Partition(req.Partition)
	}
	if !partition.HoldsRecords() {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "no task records in partition " + req.Partition})
		return
	}
	if req.Limit <= 0 || req.Limit > 500 {
		req.Limit = 100
	}

	tasks := make([]*entity.Task, 0)
	for task, err := range h.deps.Store.List(c.Request.Context(), partition) {
		if err != nil {
			h.logger.Error("Skipping unreadable task", "partition", partition, "error", err)
			continue
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return entity.Less(tasks[i], tasks[j]) })
	if len(tasks) > req.Limit {
		tasks = tasks[:req.Limit]
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

// GetTask handles GET /api/tasks/:id
func (h *Handlers) GetTask(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	partition, err := h.deps.Store.Locate(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	task, err := h.deps.Store.Read(ctx, id, partition)
	if err != nil {
		h.fail(c, err)
		return
	}

	data := gin.H{"task": task}
	if req, err := h.deps.Approvals.Get(ctx, id); err == nil {
		data["approval"] = req
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// ListApprovals handles GET /api/approvals
func (h *Handlers) ListApprovals(c *gin.Context) {
	pending, err := h.deps.Approvals.Pending(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if pending == nil {
		pending = []*entity.ApprovalRequest{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: pending})
}

// Approve handles POST /api/approvals/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	h.decide(c, h.deps.Approvals.Approve)
}

// Reject handles POST /api/approvals/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	h.decide(c, h.deps.Approvals.Reject)
}

type decideFunc func(ctx context.Context, taskID, actor, note string) (*entity.ApprovalRequest, error)

func (h *Handlers) decide(c *gin.Context, fn decideFunc) {
	var req DecisionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
			return
		}
	}

	channel := "http"
	if req.Approver != "" {
		channel = "http:" + req.Approver
	}

	result, err := fn(c.Request.Context(), c.Param("id"), channel, req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// Requeue handles POST /api/tasks/:id/requeue
func (h *Handlers) Requeue(c *gin.Context) {
	id := c.Param("id")
	if err := h.deps.Approvals.Requeue(c.Request.Context(), id, "http"); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"task_id": id, "partition": entity.PartitionNeedsAction}})
}

// Audit handles GET /api/audit
func (h *Handlers) Audit(c *gin.Context) {
	var req AuditRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}

	filter := audit.Filter{
		TaskID:    req.TaskID,
		EventType: entity.AuditEventType(req.EventType),
		Limit:     req.Limit,
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	if req.Since != "" {
		since, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "since must be RFC3339"})
			return
		}
		filter.From = since
	} else if req.TaskID == "" {
		filter.From = time.Now().Add(-24 * time.Hour)
	}

	entries, err := h.deps.Audit.Query(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []entity.AuditEntry{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// fail maps domain errors to status codes
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrApprovalExpired):
		status = http.StatusGone
	case errors.Is(err, errs.ErrApprovalResolved):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrInvalidPartition):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}
