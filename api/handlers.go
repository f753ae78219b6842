package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mirrorhub/pkg/models"
	"mirrorhub/pkg/orchestrator"
)

var orch *orchestrator.Orchestrator

// Init binds the handlers to the orchestrator instance.
func Init(o *orchestrator.Orchestrator) {
	orch = o
}

// SubmitTransfer handles POST /api/transfers
func SubmitTransfer(c *gin.Context) {
	var req models.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskID, err := orch.Submit(req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidSource), errors.Is(err, models.ErrNoDestinations):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrEngineUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": taskID,
		"status":  string(models.StateQueued),
	})
}

// GetTransfer handles GET /api/transfers/:taskID
func GetTransfer(c *gin.Context) {
	taskID := c.Param("taskID")

	snap, err := orch.GetStatus(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListTransfers handles GET /api/transfers?owner=<id>
func ListTransfers(c *gin.Context) {
	snaps := orch.ListStatus(c.Query("owner"))
	c.JSON(http.StatusOK, gin.H{
		"count": len(snaps),
		"tasks": snaps,
	})
}

// CancelTransfer handles DELETE /api/transfers/:taskID
func CancelTransfer(c *gin.Context) {
	taskID := c.Param("taskID")

	if err := orch.Cancel(taskID); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		case errors.Is(err, models.ErrAlreadyTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "task already finished"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling", "message": "Cancellation requested"})
}

// RetryTransfer handles POST /api/transfers/:taskID/retry
func RetryTransfer(c *gin.Context) {
	taskID := c.Param("taskID")

	if err := orch.RetryNow(taskID); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		case errors.Is(err, models.ErrNotRetryable):
			c.JSON(http.StatusConflict, gin.H{"error": "task is not failed or its retry budget is exhausted"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued", "message": "Retry queued"})
}

// AckTransfer handles POST /api/transfers/:taskID/ack
func AckTransfer(c *gin.Context) {
	taskID := c.Param("taskID")

	if err := orch.Acknowledge(taskID); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		case errors.Is(err, models.ErrNotTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "task is still running"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

// LimitsRequest is the body of PUT /api/limits.
type LimitsRequest struct {
	GlobalMax   int `json:"global_max" binding:"required,min=1"`
	PerOwnerMax int `json:"per_owner_max" binding:"required,min=1"`
}

// GetLimits handles GET /api/limits
func GetLimits(c *gin.Context) {
	globalMax, perOwnerMax := orch.Limits()
	c.JSON(http.StatusOK, gin.H{
		"global_max":    globalMax,
		"per_owner_max": perOwnerMax,
	})
}

// SetLimits handles PUT /api/limits
func SetLimits(c *gin.Context) {
	var req LimitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orch.SetLimits(req.GlobalMax, req.PerOwnerMax)
	c.JSON(http.StatusOK, gin.H{
		"global_max":    req.GlobalMax,
		"per_owner_max": req.PerOwnerMax,
	})
}

// HealthCheck handles GET /health
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "mirrorhub",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
