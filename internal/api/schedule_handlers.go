package api

import (
	"context"
	"net/http"
	"time"

	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
	"github.com/emberhost/panel/internal/repository"
	"github.com/emberhost/panel/internal/service"
	"github.com/emberhost/panel/pkg/logger"
	"github.com/gin-gonic/gin"
)

type ScheduleHandler struct {
	schedules *repository.ScheduleRepository
	servers   *repository.ServerRepository
	runner    *service.ScheduleRunner
}

func NewScheduleHandler(
	schedules *repository.ScheduleRepository,
	servers *repository.ServerRepository,
	runner *service.ScheduleRunner,
) *ScheduleHandler {
	return &ScheduleHandler{
		schedules: schedules,
		servers:   servers,
		runner:    runner,
	}
}

type scheduleRequest struct {
	Name           string `json:"name" binding:"required,max=255"`
	IsActive       *bool  `json:"is_active"`
	CronMinute     string `json:"cron_minute"`
	CronHour       string `json:"cron_hour"`
	CronDayOfMonth string `json:"cron_day_of_month"`
	CronMonth      string `json:"cron_month"`
	CronDayOfWeek  string `json:"cron_day_of_week"`
	OnlyWhenOnline bool   `json:"only_when_online"`
}

func (r *scheduleRequest) apply(schedule *models.Schedule) {
	schedule.Name = r.Name
	if r.IsActive != nil {
		schedule.IsActive = *r.IsActive
	}
	schedule.CronMinute = defaultField(r.CronMinute)
	schedule.CronHour = defaultField(r.CronHour)
	schedule.CronDayOfMonth = defaultField(r.CronDayOfMonth)
	schedule.CronMonth = defaultField(r.CronMonth)
	schedule.CronDayOfWeek = defaultField(r.CronDayOfWeek)
	schedule.OnlyWhenOnline = r.OnlyWhenOnline
}

func defaultField(v string) string {
	if v == "" {
		return "*"
	}
	return v
}

// ListSchedules handles GET /api/servers/:server/schedules
func (h *ScheduleHandler) ListSchedules(c *gin.Context) {
	server, err := loadServer(c, h.servers)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	schedules, err := h.schedules.FindByServerID(server.ID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, schedules)
}

// CreateSchedule handles POST /api/servers/:server/schedules
func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	server, err := loadServer(c, h.servers)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError(err.Error()))
		return
	}

	schedule := &models.Schedule{ServerID: server.ID, IsActive: true}
	req.apply(schedule)

	next, err := service.NextRunTime(schedule, time.Now())
	if err != nil {
		middleware.HandleError(c, middleware.NewValidationError("The cron expression is not valid."))
		return
	}
	schedule.NextRunAt = &next

	if err := h.schedules.Create(schedule); err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, schedule)
}

// ViewSchedule handles GET /api/servers/:server/schedules/:schedule
func (h *ScheduleHandler) ViewSchedule(c *gin.Context) {
	_, schedule, err := h.load(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedule)
}

// UpdateSchedule handles PUT /api/servers/:server/schedules/:schedule
func (h *ScheduleHandler) UpdateSchedule(c *gin.Context) {
	_, schedule, err := h.load(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError(err.Error()))
		return
	}

	req.apply(schedule)

	next, err := service.NextRunTime(schedule, time.Now())
	if err != nil {
		middleware.HandleError(c, middleware.NewValidationError("The cron expression is not valid."))
		return
	}
	schedule.NextRunAt = &next

	if err := h.schedules.Update(schedule); err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, schedule)
}

// DeleteSchedule handles DELETE /api/servers/:server/schedules/:schedule
func (h *ScheduleHandler) DeleteSchedule(c *gin.Context) {
	_, schedule, err := h.load(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	if err := h.schedules.Delete(schedule.ID); err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ExecuteSchedule handles POST /api/servers/:server/schedules/:schedule/execute
func (h *ScheduleHandler) ExecuteSchedule(c *gin.Context) {
	_, schedule, err := h.load(c)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	// Fast rejection for the common case; Execute re-checks with a
	// conditional update so a concurrent caller cannot slip past this.
	if schedule.IsProcessing {
		middleware.HandleError(c, middleware.NewConflictError("This schedule is already being processed."))
		return
	}

	// Run outside the request; the task chain can sleep between steps
	go func(s *models.Schedule) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := h.runner.Execute(ctx, s, time.Now()); err != nil {
			logger.Error("SCHEDULER: Manual run failed", err, map[string]interface{}{
				"schedule_id": s.ID,
			})
		}
	}(schedule)

	c.Status(http.StatusAccepted)
}

// load resolves the :server and :schedule parameters together, verifying the
// parent-child ownership chain.
func (h *ScheduleHandler) load(c *gin.Context) (*models.Server, *models.Schedule, error) {
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
