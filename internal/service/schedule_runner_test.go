package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emberhost/panel/internal/events"
	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
	"github.com/emberhost/panel/internal/repository"
	"gorm.io/gorm"
)

// mockTaskDaemon records the instructions the runner issues
type mockTaskDaemon struct {
	commands []string
	powers   []string
	running  bool

	commandErr error
	stateErr   error
}

func (m *mockTaskDaemon) SendCommand(ctx context.Context, node *models.Node, server *models.Server, commands []string) error {
	m.commands = append(m.commands, commands...)
	return m.commandErr
}

func (m *mockTaskDaemon) SendPowerAction(ctx context.Context, node *models.Node, server *models.Server, action string) error {
	m.powers = append(m.powers, action)
	return nil
}

func (m *mockTaskDaemon) ServerIsRunning(ctx context.Context, node *models.Node, server *models.Server) (bool, error) {
	return m.running, m.stateErr
}

// mockBackupCreator counts backup requests from schedule tasks
type mockBackupCreator struct {
	created int
	err     error
}

func (m *mockBackupCreator) Create(ctx context.Context, server *models.Server, name string, ignoredFiles []string, isLocked, canLock bool, userID *uint) (*models.Backup, error) {
	m.created++
	if m.err != nil {
		return nil, m.err
	}
	return &models.Backup{UUID: "b-task", ServerID: server.ID}, nil
}

func newRunnerFixture(t *testing.T) (*gorm.DB, *ScheduleRunner, *mockTaskDaemon, *mockBackupCreator, *models.Server, *models.Schedule) {
	t.Helper()

	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 2)

	daemon := &mockTaskDaemon{running: true}
	backups := &mockBackupCreator{}
	runner := NewScheduleRunner(
		repository.NewScheduleRepository(db),
		repository.NewTaskRepository(db),
		repository.NewServerRepository(db),
		daemon, backups,
		events.NewBus(nil),
		time.Minute,
	)

	return db, runner, daemon, backups, server, schedule
}

func addTask(t *testing.T, db *gorm.DB, schedule *models.Schedule, sequence int, action models.TaskAction, payload string, continueOnFailure bool) {
	t.Helper()

	task := &models.Task{
		ScheduleID:        schedule.ID,
		Sequence:          sequence,
		Action:            action,
		Payload:           payload,
		ContinueOnFailure: continueOnFailure,
	}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}
	schedule.Tasks = append(schedule.Tasks, *task)
}

func TestExecuteRunsTasksInOrder(t *testing.T) {
	db, runner, daemon, backups, _, schedule := newRunnerFixture(t)

	addTask(t, db, schedule, 1, models.TaskActionCommand, "save-all", false)
	addTask(t, db, schedule, 2, models.TaskActionPower, "restart", false)
	addTask(t, db, schedule, 3, models.TaskActionBackup, "", false)

	if err := runner.Execute(context.Background(), schedule, time.Now()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if len(daemon.commands) != 1 || daemon.commands[0] != "save-all" {
		t.Errorf("expected command save-all, got %v", daemon.commands)
	}
	if len(daemon.powers) != 1 || daemon.powers[0] != "restart" {
		t.Errorf("expected power restart, got %v", daemon.powers)
	}
	if backups.created != 1 {
		t.Errorf("expected one backup, got %d", backups.created)
	}

	var reloaded models.Schedule
	if err := db.First(&reloaded, "id = ?", schedule.ID).Error; err != nil {
		t.Fatalf("failed to reload schedule: %v", err)
	}
	if reloaded.IsProcessing {
		t.Error("expected processing flag released")
	}
	if reloaded.LastRunAt == nil || reloaded.NextRunAt == nil {
		t.Error("expected run recorded and next run scheduled")
	}
}

func TestExecuteRefusesAlreadyClaimedSchedule(t *testing.T) {
	db, runner, daemon, _, _, schedule := newRunnerFixture(t)

	addTask(t, db, schedule, 1, models.TaskActionCommand, "save-all", false)

	err := db.Model(&models.Schedule{}).
		Where("id = ?", schedule.ID).
		Update("is_processing", true).Error
	if err != nil {
		t.Fatalf("failed to claim schedule: %v", err)
	}

	err = runner.Execute(context.Background(), schedule, time.Now())
	var appErr *middleware.AppError
	if !errors.As(err, &appErr) || appErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if len(daemon.commands) != 0 {
		t.Errorf("expected no commands sent, got %v", daemon.commands)
	}

	var reloaded models.Schedule
	if err := db.First(&reloaded, "id = ?", schedule.ID).Error; err != nil {
		t.Fatalf("failed to reload schedule: %v", err)
	}
	if !reloaded.IsProcessing {
		t.Error("expected existing claim left untouched")
	}
}

func TestExecuteAbortsChainOnFailure(t *testing.T) {
	db, runner, daemon, backups, _, schedule := newRunnerFixture(t)

	daemon.commandErr = errors.New("console unavailable")
	addTask(t, db, schedule, 1, models.TaskActionCommand, "save-all", false)
	addTask(t, db, schedule, 2, models.TaskActionBackup, "", false)

	if err := runner.Execute(context.Background(), schedule, time.Now()); err == nil {
		t.Fatal("expected execute to report the failure")
	}
	if backups.created != 0 {
		t.Error("later tasks must not run after an aborting failure")
	}

	var reloaded models.Schedule
	if err := db.First(&reloaded, "id = ?", schedule.ID).Error; err != nil {
		t.Fatalf("failed to reload schedule: %v", err)
	}
	if reloaded.IsProcessing {
		t.Error("processing flag must be released after a failed run")
	}
	if reloaded.NextRunAt == nil {
		t.Error("a failed run still schedules the next one")
	}
}

func TestExecuteContinuesPastFailureWhenFlagged(t *testing.T) {
	db, runner, daemon, backups, _, schedule := newRunnerFixture(t)

	daemon.commandErr = errors.New("console unavailable")
	addTask(t, db, schedule, 1, models.TaskActionCommand, "save-all", true)
	addTask(t, db, schedule, 2, models.TaskActionBackup, "", false)

	if err := runner.Execute(context.Background(), schedule, time.Now()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if backups.created != 1 {
		t.Error("expected the chain to continue past the flagged failure")
	}
}

func TestExecuteBackupLimitAlwaysAborts(t *testing.T) {
	db, runner, daemon, backups, _, schedule := newRunnerFixture(t)

	backups.err = middleware.NewLimitExceededError("too many backups")
	addTask(t, db, schedule, 1, models.TaskActionBackup, "", true)
	addTask(t, db, schedule, 2, models.TaskActionCommand, "say done", true)

	if err := runner.Execute(context.Background(), schedule, time.Now()); err == nil {
		t.Fatal("expected execute to report the limit failure")
	}
	if len(daemon.commands) != 0 {
		t.Error("the chain must stop when the backup limit is hit, even with continue_on_failure")
	}
}

func TestExecuteSkipsServerUnderStatus(t *testing.T) {
	db, runner, daemon, _, server, schedule := newRunnerFixture(t)

	addTask(t, db, schedule, 1, models.TaskActionCommand, "save-all", false)
	if err := db.Model(&models.Server{}).Where("id = ?", server.ID).
		Update("status", string(models.StatusSuspended)).Error; err != nil {
		t.Fatalf("failed to suspend server: %v", err)
	}

	if err := runner.Execute(context.Background(), schedule, time.Now()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(daemon.commands) != 0 {
		t.Error("tasks must not run for a suspended server")
	}

	var reloaded models.Schedule
	if err := db.First(&reloaded, "id = ?", schedule.ID).Error; err != nil {
		t.Fatalf("failed to reload schedule: %v", err)
	}
	if reloaded.NextRunAt == nil {
		t.Error("a skipped run still advances the schedule")
	}
}

func TestExecuteHonorsOnlyWhenOnline(t *testing.T) {
	db, runner, daemon, _, _, schedule := newRunnerFixture(t)

	daemon.running = false
	schedule.OnlyWhenOnline = true
	if err := db.Save(schedule).Error; err != nil {
		t.Fatalf("failed to update schedule: %v", err)
	}
	addTask(t, db, schedule, 1, models.TaskActionCommand, "save-all", false)

	if err := runner.Execute(context.Background(), schedule, time.Now()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(daemon.commands) != 0 {
		t.Error("tasks must not run while the server process is offline")
	}
}

func TestExecuteDeactivatesInvalidCron(t *testing.T) {
	db, runner, _, _, _, schedule := newRunnerFixture(t)

	schedule.CronMinute = "not-a-minute"
	if err := db.Save(schedule).Error; err != nil {
		t.Fatalf("failed to update schedule: %v", err)
	}

	if err := runner.Execute(context.Background(), schedule, time.Now()); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	var reloaded models.Schedule
	if err := db.First(&reloaded, "id = ?", schedule.ID).Error; err != nil {
		t.Fatalf("failed to reload schedule: %v", err)
	}
	if reloaded.IsActive {
		t.Error("expected schedule deactivated")
	}
	if reloaded.NextRunAt != nil {
		t.Error("expected next run cleared")
	}
}

func TestNextRunTimeParsesFiveFieldExpressions(t *testing.T) {
	schedule := &models.Schedule{
		CronMinute:     "30",
		CronHour:       "4",
		CronDayOfMonth: "*",
		CronMonth:      "*",
		CronDayOfWeek:  "*",
	}

	after := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next, err := NextRunTime(schedule, after)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	want := time.Date(2025, 6, 2, 4, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}
