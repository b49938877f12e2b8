package api

import (
	"net/http"

	"github.com/emberhost/panel/internal/events"
	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
	"github.com/emberhost/panel/internal/monitoring"
	"github.com/emberhost/panel/internal/repository"
	"github.com/emberhost/panel/internal/service"
	"github.com/gin-gonic/gin"
)

type TaskHandler struct {
	sequencer *service.TaskSequencer
	schedules *repository.ScheduleRepository
	tasks     *repository.TaskRepository
	servers   *repository.ServerRepository
	bus       *events.Bus
}

func NewTaskHandler(
	sequencer *service.TaskSequencer,
	schedules *repository.ScheduleRepository,
	tasks *repository.TaskRepository,
	servers *repository.ServerRepository,
	bus *events.Bus,
) *TaskHandler {
	return &TaskHandler{
		sequencer: sequencer,
		schedules: schedules,
		tasks:     tasks,
		servers:   servers,
		bus:       bus,
	}
}

type taskRequest struct {
	Action            string `json:"action" binding:"required"`
	Payload           string `json:"payload"`
	TimeOffset        int    `json:"time_offset"`
	ContinueOnFailure bool   `json:"continue_on_failure"`

	// Sequence is optional; omitting it appends on create and keeps the
	// current position on update.
	Sequence *int `json:"sequence_id"`
}

func (r *taskRequest) fields() service.TaskFields {
	return service.TaskFields{
		Action:            models.TaskAction(r.Action),
		Payload:           r.Payload,
		TimeOffset:        r.TimeOffset,
		ContinueOnFailure: r.ContinueOnFailure,
		Sequence:          r.Sequence,
	}
}

// StoreTask handles POST /api/servers/:server/schedules/:schedule/tasks
func (h *TaskHandler) StoreTask(c *gin.Context) {
	server, schedule, err := h.loadParents(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError(err.Error()))
		return
	}

	task, err := h.sequencer.Insert(server, schedule, req.fields())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	monitoring.TaskMutations.WithLabelValues("create").Inc()
	h.publish(events.EventTaskCreate, server.ID, currentUserID(c), schedule, task)

	c.JSON(http.StatusCreated, task)
}

// UpdateTask handles PUT /api/servers/:server/schedules/:schedule/tasks/:task
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	server, schedule, task, err := h.loadTask(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError(err.Error()))
		return
	}

	task, err = h.sequencer.Update(server, schedule, task, req.fields())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	monitoring.TaskMutations.WithLabelValues("update").Inc()
	h.publish(events.EventTaskUpdate, server.ID, currentUserID(c), schedule, task)

	c.JSON(http.StatusOK, task)
}

// DeleteTask handles DELETE /api/servers/:server/schedules/:schedule/tasks/:task
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	server, schedule, task, err := h.loadTask(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	if err := h.sequencer.Delete(server, schedule, task); err != nil {
		middleware.HandleError(c, err)
		return
	}

	monitoring.TaskMutations.WithLabelValues("delete").Inc()
	h.publish(events.EventTaskDelete, server.ID, currentUserID(c), schedule, task)

	c.Status(http.StatusNoContent)
}

func (h *TaskHandler) publish(eventType events.EventType, serverID uint, userID *uint, schedule *models.Schedule, task *models.Task) {
	h.bus.Publish(events.Event{
		Type:     eventType,
		ServerID: serverID,
		UserID:   userID,
		Properties: map[string]interface{}{
			"schedule_id": schedule.ID,
			"task_id":     task.ID,
			"action":      task.Action,
			"sequence":    task.Sequence,
		},
	})
}

func (h *TaskHandler) loadParents(c *gin.Context) (*models.Server, *models.Schedule, error) {
	server, err := loadServer(c, h.servers)
	if err != nil {
		return nil, nil, err
	}

	scheduleID, ok := uintParam(c, "schedule")
	if !ok {
		return nil, nil, middleware.NewNotFoundError("Schedule")
	}

	schedule, err := h.schedules.FindByID(scheduleID)
	if err != nil {
		if service.IsNotFound(err) {
			return nil, nil, middleware.NewNotFoundError("Schedule")
		}
		return nil, nil, err
	}
	if schedule.ServerID != server.ID {
		return nil, nil, middleware.NewNotFoundError("Schedule")
	}

	return server, schedule, nil
}

func (h *TaskHandler) loadTask(c *gin.Context) (*models.Server, *models.Schedule, *models.Task, error) {
	server, schedule, err := h.loadParents(c)
	if err != nil {
		return nil, nil, nil, err
	}

	taskID, ok := uintParam(c, "task")
	if !ok {
		return nil, nil, nil, middleware.NewNotFoundError("Task")
	}

	task, err := h.tasks.FindByID(taskID)
	if err != nil {
		if service.IsNotFound(err) {
			return nil, nil, nil, middleware.NewNotFoundError("Task")
		}
		return nil, nil, nil, err
	}

	return server, schedule, task, nil
}
