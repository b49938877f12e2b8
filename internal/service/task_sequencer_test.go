package service

import (
	"errors"
	"testing"

	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{}, &models.Node{}, &models.Server{},
		&models.Schedule{}, &models.Task{},
		&models.Backup{}, &models.ActivityEvent{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func seedSchedule(t *testing.T, db *gorm.DB, backupLimit int) (*models.Server, *models.Schedule) {
	t.Helper()

	node := &models.Node{Name: "node-1", FQDN: "node1.test", Scheme: "http", DaemonPort: 8080, TokenID: "tid-" + t.Name(), Token: "secret"}
	if err := db.Create(node).Error; err != nil {
		t.Fatalf("failed to seed node: %v", err)
	}

	server := &models.Server{UUID: "srv-" + t.Name(), Name: "test server", OwnerID: 1, NodeID: node.ID, BackupLimit: backupLimit}
	if err := db.Create(server).Error; err != nil {
		t.Fatalf("failed to seed server: %v", err)
	}
	server.Node = node

	schedule := &models.Schedule{
		ServerID: server.ID, Name: "nightly", IsActive: true,
		CronMinute: "*", CronHour: "*", CronDayOfMonth: "*", CronMonth: "*", CronDayOfWeek: "*",
	}
	if err := db.Create(schedule).Error; err != nil {
		t.Fatalf("failed to seed schedule: %v", err)
	}

	return server, schedule
}

func sequencesOf(t *testing.T, db *gorm.DB, scheduleID uint) []int {
	t.Helper()

	var tasks []models.Task
	if err := db.Where("schedule_id = ?", scheduleID).Order("sequence ASC").Find(&tasks).Error; err != nil {
		t.Fatalf("failed to load tasks: %v", err)
	}

	seqs := make([]int, len(tasks))
	for i, task := range tasks {
		seqs[i] = task.Sequence
	}
	return seqs
}

func position(n int) *int {
	return &n
}

func assertDense(t *testing.T, seqs []int) {
	t.Helper()
	for i, s := range seqs {
		if s != i+1 {
			t.Fatalf("sequences are not dense: got %v", seqs)
		}
	}
}

func TestInsertAppendsWhenNoPositionRequested(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	for i := 0; i < 3; i++ {
		task, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand, Payload: "say hi"})
		if err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
		if task.Sequence != i+1 {
			t.Errorf("expected sequence %d, got %d", i+1, task.Sequence)
		}
	}

	assertDense(t, sequencesOf(t, db, schedule.ID))
}

func TestInsertAtOccupiedPositionShiftsRight(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	var ids []uint
	for i := 0; i < 3; i++ {
		task, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand, Payload: "step"})
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		ids = append(ids, task.ID)
	}

	inserted, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionPower, Payload: "restart", Sequence: position(2)})
	if err != nil {
		t.Fatalf("positioned insert failed: %v", err)
	}
	if inserted.Sequence != 2 {
		t.Fatalf("expected inserted task at sequence 2, got %d", inserted.Sequence)
	}

	seqs := sequencesOf(t, db, schedule.ID)
	if len(seqs) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(seqs))
	}
	assertDense(t, seqs)

	// The tasks that were at 2 and 3 moved to 3 and 4
	var moved models.Task
	if err := db.First(&moved, "id = ?", ids[1]).Error; err != nil {
		t.Fatalf("failed to reload task: %v", err)
	}
	if moved.Sequence != 3 {
		t.Errorf("expected displaced task at sequence 3, got %d", moved.Sequence)
	}
}

func TestInsertBeyondEndAppends(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	if _, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	task, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand, Sequence: position(50)})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if task.Sequence != 2 {
		t.Errorf("expected clamp to sequence 2, got %d", task.Sequence)
	}
	assertDense(t, sequencesOf(t, db, schedule.ID))
}

func TestInsertBelowOneClampsToFront(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	var ids []uint
	for i := 0; i < 3; i++ {
		task, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand, Payload: "step"})
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		ids = append(ids, task.ID)
	}

	inserted, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionPower, Payload: "restart", Sequence: position(-5)})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if inserted.Sequence != 1 {
		t.Fatalf("expected clamp to sequence 1, got %d", inserted.Sequence)
	}

	seqs := sequencesOf(t, db, schedule.ID)
	if len(seqs) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(seqs))
	}
	assertDense(t, seqs)

	var first models.Task
	if err := db.First(&first, "id = ?", ids[0]).Error; err != nil {
		t.Fatalf("failed to reload task: %v", err)
	}
	if first.Sequence != 2 {
		t.Errorf("expected displaced task at sequence 2, got %d", first.Sequence)
	}
}

func TestInsertEnforcesTaskLimit(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 2)

	for i := 0; i < 2; i++ {
		if _, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand}); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	_, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand})
	var appErr *middleware.AppError
	if !errors.As(err, &appErr) || appErr.Code != "LIMIT_EXCEEDED" {
		t.Fatalf("expected LIMIT_EXCEEDED, got %v", err)
	}
}

func TestInsertRejectsBackupTaskWithZeroBackupLimit(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 0)
	seq := NewTaskSequencer(db, 10)

	_, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionBackup})
	var appErr *middleware.AppError
	if !errors.As(err, &appErr) || appErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestInsertRejectsInvalidAction(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	_, err := seq.Insert(server, schedule, TaskFields{Action: "reboot"})
	var appErr *middleware.AppError
	if !errors.As(err, &appErr) || appErr.Code != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %v", err)
	}
}

func TestInsertRejectsForeignSchedule(t *testing.T) {
	db := newTestDB(t)
	server, _ := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	other := &models.Schedule{ServerID: server.ID + 100, Name: "other"}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("failed to seed schedule: %v", err)
	}

	_, err := seq.Insert(server, other, TaskFields{Action: models.TaskActionCommand})
	var appErr *middleware.AppError
	if !errors.As(err, &appErr) || appErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestUpdateMovesTaskDown(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	var tasks []*models.Task
	for i := 0; i < 4; i++ {
		task, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand, Payload: "step"})
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		tasks = append(tasks, task)
	}

	// Move the task at 4 to 2; tasks at 2 and 3 shift right
	moved, err := seq.Update(server, schedule, tasks[3], TaskFields{Action: models.TaskActionCommand, Payload: "step", Sequence: position(2)})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if moved.Sequence != 2 {
		t.Fatalf("expected sequence 2, got %d", moved.Sequence)
	}
	assertDense(t, sequencesOf(t, db, schedule.ID))

	var displaced models.Task
	if err := db.First(&displaced, "id = ?", tasks[1].ID).Error; err != nil {
		t.Fatalf("failed to reload task: %v", err)
	}
	if displaced.Sequence != 3 {
		t.Errorf("expected displaced task at 3, got %d", displaced.Sequence)
	}
}

func TestUpdateMovesTaskUp(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	var tasks []*models.Task
	for i := 0; i < 4; i++ {
		task, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand, Payload: "step"})
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		tasks = append(tasks, task)
	}

	moved, err := seq.Update(server, schedule, tasks[0], TaskFields{Action: models.TaskActionCommand, Payload: "step", Sequence: position(3)})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if moved.Sequence != 3 {
		t.Fatalf("expected sequence 3, got %d", moved.Sequence)
	}
	assertDense(t, sequencesOf(t, db, schedule.ID))
}

func TestUpdateClampsMovePastEnd(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	var first *models.Task
	for i := 0; i < 3; i++ {
		task, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand})
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		if i == 0 {
			first = task
		}
	}

	moved, err := seq.Update(server, schedule, first, TaskFields{Action: models.TaskActionCommand, Sequence: position(99)})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if moved.Sequence != 3 {
		t.Fatalf("expected clamp to 3, got %d", moved.Sequence)
	}
	assertDense(t, sequencesOf(t, db, schedule.ID))
}

func TestUpdateBelowOneClampsToFront(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	var last *models.Task
	for i := 0; i < 3; i++ {
		task, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand})
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		last = task
	}

	moved, err := seq.Update(server, schedule, last, TaskFields{Action: models.TaskActionCommand, Sequence: position(-1)})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if moved.Sequence != 1 {
		t.Fatalf("expected clamp to 1, got %d", moved.Sequence)
	}
	assertDense(t, sequencesOf(t, db, schedule.ID))
}

func TestUpdateWithSamePositionKeepsOrder(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	var second *models.Task
	for i := 0; i < 3; i++ {
		task, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand})
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		if i == 1 {
			second = task
		}
	}

	moved, err := seq.Update(server, schedule, second, TaskFields{Action: models.TaskActionPower, Payload: "restart", Sequence: position(2)})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if moved.Sequence != 2 {
		t.Fatalf("expected sequence 2, got %d", moved.Sequence)
	}
	if moved.Action != models.TaskActionPower || moved.Payload != "restart" {
		t.Errorf("expected fields rewritten, got %+v", moved)
	}
	assertDense(t, sequencesOf(t, db, schedule.ID))
}

func TestDeleteClosesGap(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	var tasks []*models.Task
	for i := 0; i < 4; i++ {
		task, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand})
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		tasks = append(tasks, task)
	}

	if err := seq.Delete(server, schedule, tasks[1]); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	seqs := sequencesOf(t, db, schedule.ID)
	if len(seqs) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(seqs))
	}
	assertDense(t, seqs)
}

func TestDeleteLastTaskNeedsNoShift(t *testing.T) {
	db := newTestDB(t)
	server, schedule := seedSchedule(t, db, 1)
	seq := NewTaskSequencer(db, 10)

	var last *models.Task
	for i := 0; i < 3; i++ {
		task, err := seq.Insert(server, schedule, TaskFields{Action: models.TaskActionCommand})
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		last = task
	}

	if err := seq.Delete(server, schedule, last); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	assertDense(t, sequencesOf(t, db, schedule.ID))
}
