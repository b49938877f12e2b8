package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emberhost/panel/internal/events"
	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
	"github.com/emberhost/panel/internal/monitoring"
	"github.com/emberhost/panel/internal/repository"
	"github.com/emberhost/panel/pkg/logger"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NextRunTime computes when a schedule should next fire after the given time
func NextRunTime(schedule *models.Schedule, after time.Time) (time.Time, error) {
	expr, err := cronParser.Parse(schedule.CronExpression())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", schedule.CronExpression(), err)
	}
	return expr.Next(after), nil
}

// TaskDaemon is the slice of the daemon client the runner needs
type TaskDaemon interface {
	SendCommand(ctx context.Context, node *models.Node, server *models.Server, commands []string) error
	SendPowerAction(ctx context.Context, node *models.Node, server *models.Server, action string) error
	ServerIsRunning(ctx context.Context, node *models.Node, server *models.Server) (bool, error)
}

// BackupCreator starts a backup on behalf of a schedule task
type BackupCreator interface {
	Create(ctx context.Context, server *models.Server, name string, ignoredFiles []string, isLocked, canLock bool, userID *uint) (*models.Backup, error)
}

// ScheduleRunner polls for due schedules and executes their task chains in
// sequence order. One runner goroutine serves the whole panel.
type ScheduleRunner struct {
	schedules *repository.ScheduleRepository
	tasks     *repository.TaskRepository
	servers   *repository.ServerRepository
	daemon    TaskDaemon
	backups   BackupCreator
	bus       *events.Bus
	interval  time.Duration
}

// NewScheduleRunner creates a new schedule runner
func NewScheduleRunner(
	schedules *repository.ScheduleRepository,
	tasks *repository.TaskRepository,
	servers *repository.ServerRepository,
	daemon TaskDaemon,
	backups BackupCreator,
	bus *events.Bus,
	interval time.Duration,
) *ScheduleRunner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ScheduleRunner{
		schedules: schedules,
		tasks:     tasks,
		servers:   servers,
		daemon:    daemon,
		backups:   backups,
		bus:       bus,
		interval:  interval,
	}
}

// Run polls until the context is cancelled
func (r *ScheduleRunner) Run(ctx context.Context) {
	logger.Info("SCHEDULER: Runner started", map[string]interface{}{
		"interval": r.interval.String(),
	})

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("SCHEDULER: Runner stopped", nil)
			return
		case <-ticker.C:
			r.Tick(ctx, time.Now())
		}
	}
}

// Tick executes every schedule that is due at the given time
func (r *ScheduleRunner) Tick(ctx context.Context, now time.Time) {
	due, err := r.schedules.FindDue(now)
	if err != nil {
		logger.Error("SCHEDULER: Failed to query due schedules", err, nil)
		return
	}

	for i := range due {
		schedule := &due[i]
		if err := r.Execute(ctx, schedule, now); err != nil {
			logger.Error("SCHEDULER: Schedule run failed", err, map[string]interface{}{
				"schedule_id": schedule.ID,
				"name":        schedule.Name,
			})
		}
	}
}

// Execute runs a single schedule's task chain. The schedule is claimed with a
// conditional update on the is_processing guard, so two concurrent callers
// cannot both run it. The guard is always released afterwards, including when
// the run aborts or the next-run computation fails.
func (r *ScheduleRunner) Execute(ctx context.Context, schedule *models.Schedule, now time.Time) error {
	claimed, err := r.schedules.MarkProcessing(schedule.ID)
	if err != nil {
		return fmt.Errorf("failed to mark schedule as processing: %w", err)
	}
	if !claimed {
		return middleware.NewConflictError("This schedule is already being processed.")
	}
	schedule.IsProcessing = true

	server, err := r.servers.FindByID(schedule.ServerID)
	if err != nil {
		_ = r.finishRun(schedule, now)
		return fmt.Errorf("failed to load schedule's server: %w", err)
	}

	// A server under a blocking status (suspended, restoring, installing)
	// skips its runs entirely; the schedule is still advanced so it does
	// not fire in a burst once the status clears.
	if !server.IsInstalled() {
		logger.Debug("SCHEDULER: Skipping schedule for unavailable server", map[string]interface{}{
			"schedule_id": schedule.ID,
			"server_uuid": server.UUID,
			"status":      *server.Status,
		})
		return r.finishRun(schedule, now)
	}

	if schedule.OnlyWhenOnline {
		running, err := r.daemon.ServerIsRunning(ctx, server.Node, server)
		if err != nil || !running {
			if err != nil {
				logger.Warn("SCHEDULER: Could not determine server state, skipping run", map[string]interface{}{
					"schedule_id": schedule.ID,
					"server_uuid": server.UUID,
					"error":       err.Error(),
				})
			}
			return r.finishRun(schedule, now)
		}
	}

	runErr := r.runTasks(ctx, schedule, server)

	result := "success"
	if runErr != nil {
		result = "failure"
		r.bus.Publish(events.Event{
			Type:     events.EventScheduleFailed,
			ServerID: server.ID,
			Properties: map[string]interface{}{
				"schedule_id": schedule.ID,
				"name":        schedule.Name,
				"error":       runErr.Error(),
			},
		})
	} else {
		r.bus.Publish(events.Event{
			Type:     events.EventScheduleRun,
			ServerID: server.ID,
			Properties: map[string]interface{}{
				"schedule_id": schedule.ID,
				"name":        schedule.Name,
			},
		})
	}
	monitoring.ScheduleRuns.WithLabelValues(result).Inc()

	if err := r.finishRun(schedule, now); err != nil {
		return err
	}
	return runErr
}

// finishRun records the run and schedules the next one
func (r *ScheduleRunner) finishRun(schedule *models.Schedule, now time.Time) error {
	schedule.LastRunAt = &now
	schedule.IsProcessing = false

	next, err := NextRunTime(schedule, now)
	if err != nil {
		// A schedule with an unparseable expression is deactivated rather
		// than retried every tick.
		logger.Warn("SCHEDULER: Deactivating schedule with invalid cron expression", map[string]interface{}{
			"schedule_id": schedule.ID,
			"expression":  schedule.CronExpression(),
		})
		schedule.IsActive = false
		schedule.NextRunAt = nil
	} else {
		schedule.NextRunAt = &next
	}

	if err := r.schedules.Update(schedule); err != nil {
		return fmt.Errorf("failed to record schedule run: %w", err)
	}
	return nil
}

func (r *ScheduleRunner) runTasks(ctx context.Context, schedule *models.Schedule, server *models.Server) error {
	for i := range schedule.Tasks {
		task := &schedule.Tasks[i]

		if task.TimeOffset > 0 {
			if err := r.tasks.SetQueued(task.ID, true); err != nil {
				return fmt.Errorf("failed to queue task %d: %w", task.Sequence, err)
			}
			select {
			case <-ctx.Done():
				_ = r.tasks.SetQueued(task.ID, false)
				return ctx.Err()
			case <-time.After(time.Duration(task.TimeOffset) * time.Second):
			}
		}

		err := r.runTask(ctx, task, server)

		if qErr := r.tasks.SetQueued(task.ID, false); qErr != nil {
			logger.Warn("SCHEDULER: Failed to clear task queue flag", map[string]interface{}{
				"task_id": task.ID,
			})
		}

		if err != nil {
			// A backup task that hit the server's backup limit always
			// stops the chain; retrying later tasks cannot help until an
			// old backup is removed.
			var appErr *middleware.AppError
			limitHit := errors.As(err, &appErr) && appErr.Code == "LIMIT_EXCEEDED"

			if task.ContinueOnFailure && !limitHit {
				logger.Warn("SCHEDULER: Task failed, continuing chain", map[string]interface{}{
					"schedule_id": schedule.ID,
					"sequence":    task.Sequence,
					"error":       err.Error(),
				})
				continue
			}
			return fmt.Errorf("task %d (%s) failed: %w", task.Sequence, task.Action, err)
		}
	}
	return nil
}

func (r *ScheduleRunner) runTask(ctx context.Context, task *models.Task, server *models.Server) error {
	start := time.Now()
	defer func() {
		monitoring.DaemonRequestDuration.WithLabelValues(string(task.Action)).
			Observe(time.Since(start).Seconds())
	}()

	switch task.Action {
	case models.TaskActionCommand:
		return r.daemon.SendCommand(ctx, server.Node, server, []string{task.Payload})
	case models.TaskActionPower:
		return r.daemon.SendPowerAction(ctx, server.Node, server, task.Payload)
	case models.TaskActionBackup:
		var ignored []string
		for _, line := range strings.Split(task.Payload, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				ignored = append(ignored, line)
			}
		}
		_, err := r.backups.Create(ctx, server, "", ignored, false, false, nil)
		return err
	default:
		return fmt.Errorf("unknown task action %q", task.Action)
	}
}
