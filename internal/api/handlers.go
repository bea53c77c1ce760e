package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"tinybatch/internal/task"
)

// Scheduler is the part of task.Scheduler the HTTP layer drives.
type Scheduler interface {
	Submit(paths []string) ([]task.Task, error)
	Cancel(ctx context.Context, taskID string) error
	Stats() task.Stats
}

type submitBatchRequest struct {
	Paths []string `json:"paths"`
}

type batchResponse struct {
	Tasks []task.Task `json:"tasks"`
}

type taskListResponse struct {
	Tasks []task.Task `json:"tasks"`
	Stats task.Stats  `json:"stats"`
}

type API struct {
	scheduler Scheduler
	board     *task.Board
}

func NewAPI(scheduler Scheduler, board *task.Board) *API {
	return &API{scheduler: scheduler, board: board}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/batches", a.SubmitBatch)
		api.GET("/tasks", a.ListTasks)
		api.GET("/tasks/:id", a.GetTask)
		api.POST("/tasks/:id/cancel", a.CancelTask)
		api.GET("/stats", a.GetStats)
	}
}

// SubmitBatch queues one task per local path
func (a *API) SubmitBatch(c *gin.Context) {
	var req submitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid submit batch request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	tasks, err := a.scheduler.Submit(req.Paths)
	if err != nil {
		status := submitErrorStatus(err)
		log.Warn().Err(err).Int("paths", len(req.Paths)).Msg("batch rejected")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	log.Info().Int("tasks", len(tasks)).Msg("batch accepted")
	c.JSON(http.StatusCreated, batchResponse{Tasks: tasks})
}

func submitErrorStatus(err error) int {
	switch {
	case errors.Is(err, task.ErrSchedulerStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, task.ErrNoPaths), errors.Is(err, task.ErrExtNotAllowed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ListTasks returns every known task, optionally filtered by ?status=
func (a *API) ListTasks(c *gin.Context) {
	tasks := a.board.List()
	if want := strings.TrimSpace(c.Query("status")); want != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.Status) == want {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	c.JSON(http.StatusOK, taskListResponse{Tasks: tasks, Stats: a.scheduler.Stats()})
}

// GetTask returns the latest snapshot of a task
func (a *API) GetTask(c *gin.Context) {
	id := c.Param("id")
	if found, ok := a.board.Get(id); ok {
		c.JSON(http.StatusOK, found)
		return
	}
	log.Warn().Str("task_id", id).Msg("task not found on get")
	c.JSON(http.StatusNotFound, gin.H{"error": task.ErrTaskNotFound.Error()})
}

// CancelTask aborts an in-flight task
func (a *API) CancelTask(c *gin.Context) {
	id := c.Param("id")
	err := a.scheduler.Cancel(c.Request.Context(), id)
	switch {
	case err == nil:
		log.Info().Str("task_id", id).Msg("task canceled")
		c.JSON(http.StatusAccepted, gin.H{"task_id": id, "status": task.StatusError})
	case errors.Is(err, task.ErrNotInFlight):
		if _, known := a.board.Get(id); !known {
			c.JSON(http.StatusNotFound, gin.H{"error": task.ErrTaskNotFound.Error()})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrSchedulerStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Warn().Str("task_id", id).Err(err).Msg("failed to cancel task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// GetStats returns scheduler counters
func (a *API) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.scheduler.Stats())
}
