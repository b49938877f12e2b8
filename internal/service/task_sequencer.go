package service

import (
	"errors"
	"fmt"

	"github.com/emberhost/panel/internal/middleware"
	"github.com/emberhost/panel/internal/models"
	"github.com/emberhost/panel/pkg/logger"
	"gorm.io/gorm"
)

// TaskSequencer maintains the ordered task list of a schedule. Sequence
// values within a schedule are always the dense set {1..N}; every mutation
// runs inside one transaction so no reader observes a gap or duplicate.
type TaskSequencer struct {
	db        *gorm.DB
	taskLimit int
}

// NewTaskSequencer creates a new task sequencer. taskLimit caps how many
// tasks a single schedule may hold.
func NewTaskSequencer(db *gorm.DB, taskLimit int) *TaskSequencer {
	if taskLimit <= 0 {
		taskLimit = 10
	}
	return &TaskSequencer{db: db, taskLimit: taskLimit}
}

// TaskFields carries the caller-editable attributes of a task
type TaskFields struct {
	Action            models.TaskAction
	Payload           string
	TimeOffset        int
	ContinueOnFailure bool

	// Sequence is the requested position. Nil means "append" on insert
	// and "keep the current position" on update. Provided values clamp
	// to [1, N] so the sequence set never gains a gap.
	Sequence *int
}

func validAction(action models.TaskAction) bool {
	switch action {
	case models.TaskActionCommand, models.TaskActionPower, models.TaskActionBackup:
		return true
	}
	return false
}

// Insert creates a new task in the schedule at the requested position,
// shifting later tasks right when the position is already taken.
func (s *TaskSequencer) Insert(server *models.Server, schedule *models.Schedule, fields TaskFields) (*models.Task, error) {
	if schedule.ServerID != server.ID {
		return nil, middleware.NewNotFoundError("Schedule")
	}
	if !validAction(fields.Action) {
		return nil, middleware.NewValidationError(fmt.Sprintf("Invalid task action: %s", fields.Action))
	}
	if fields.TimeOffset < 0 {
		return nil, middleware.NewValidationError("Task time offset must not be negative")
	}

	var count int64
	if err := s.db.Model(&models.Task{}).Where("schedule_id = ?", schedule.ID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to count schedule tasks: %w", err)
	}
	if count >= int64(s.taskLimit) {
		return nil, middleware.NewLimitExceededError(fmt.Sprintf(
			"Schedules may not have more than %d tasks associated with them. Creating this task would put this schedule over the limit.", s.taskLimit,
		))
	}

	if fields.Action == models.TaskActionBackup && server.BackupLimit == 0 {
		return nil, middleware.NewForbiddenError("A backup task cannot be created when the server's backup limit is set to 0.")
	}

	task := &models.Task{
		ScheduleID:        schedule.ID,
		Action:            fields.Action,
		Payload:           fields.Payload,
		TimeOffset:        fields.TimeOffset,
		ContinueOnFailure: fields.ContinueOnFailure,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		maxSeq, err := maxSequence(tx, schedule.ID)
		if err != nil {
			return err
		}

		nextSeq := maxSeq + 1
		target := nextSeq
		if fields.Sequence != nil {
			target = *fields.Sequence
			if target < 1 {
				target = 1
			}
		}

		// A request below the next free slot displaces existing tasks;
		// anything at or beyond it simply appends.
		if target < nextSeq {
			if err := shiftRight(tx, schedule.ID, target, maxSeq); err != nil {
				return err
			}
			task.Sequence = target
		} else {
			task.Sequence = nextSeq
		}

		return tx.Create(task).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert schedule task: %w", err)
	}

	logger.Info("SEQUENCER: Task created", map[string]interface{}{
		"schedule_id": schedule.ID,
		"task_id":     task.ID,
		"sequence":    task.Sequence,
		"action":      task.Action,
	})

	return task, nil
}

// Update rewrites a task's fields and moves it to the requested sequence,
// shifting the tasks between the old and new positions by one.
func (s *TaskSequencer) Update(server *models.Server, schedule *models.Schedule, task *models.Task, fields TaskFields) (*models.Task, error) {
	if !task.BelongsToServer(schedule, server.ID) {
		return nil, middleware.NewNotFoundError("Task")
	}
	if !validAction(fields.Action) {
		return nil, middleware.NewValidationError(fmt.Sprintf("Invalid task action: %s", fields.Action))
	}
	if fields.TimeOffset < 0 {
		return nil, middleware.NewValidationError("Task time offset must not be negative")
	}
	if fields.Action == models.TaskActionBackup && server.BackupLimit == 0 {
		return nil, middleware.NewForbiddenError("A backup task cannot be created when the server's backup limit is set to 0.")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		maxSeq, err := maxSequence(tx, schedule.ID)
		if err != nil {
			return err
		}

		newSeq := task.Sequence
		if fields.Sequence != nil {
			newSeq = *fields.Sequence
			if newSeq < 1 {
				newSeq = 1
			}
		}
		// Clamp to the last occupied slot so a move past the end of the
		// list cannot open a gap.
		if newSeq > maxSeq {
			newSeq = maxSeq
		}

		switch {
		case newSeq < task.Sequence:
			if err := shiftRight(tx, schedule.ID, newSeq, task.Sequence-1); err != nil {
				return err
			}
		case newSeq > task.Sequence:
			if err := shiftLeft(tx, schedule.ID, task.Sequence+1, newSeq); err != nil {
				return err
			}
		}

		task.Sequence = newSeq
		task.Action = fields.Action
		task.Payload = fields.Payload
		task.TimeOffset = fields.TimeOffset
		task.ContinueOnFailure = fields.ContinueOnFailure

		return tx.Save(task).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update schedule task: %w", err)
	}

	return task, nil
}

// Delete removes a task and closes the gap it leaves behind. The decrement
// and the delete commit together or not at all.
func (s *TaskSequencer) Delete(server *models.Server, schedule *models.Schedule, task *models.Task) error {
	if !task.BelongsToServer(schedule, server.ID) {
		return middleware.NewNotFoundError("Task")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Remove the row first so the shift never collides with it
		if err := tx.Delete(&models.Task{}, "id = ?", task.ID).Error; err != nil {
			return err
		}

		maxSeq, err := maxSequence(tx, schedule.ID)
		if err != nil {
			return err
		}
		if maxSeq <= task.Sequence {
			return nil
		}

		return shiftLeft(tx, schedule.ID, task.Sequence+1, maxSeq)
	})
	if err != nil {
		return fmt.Errorf("failed to delete schedule task: %w", err)
	}

	logger.Info("SEQUENCER: Task deleted", map[string]interface{}{
		"schedule_id": schedule.ID,
		"task_id":     task.ID,
		"sequence":    task.Sequence,
	})

	return nil
}

func maxSequence(tx *gorm.DB, scheduleID uint) (int, error) {
	var max int
	err := tx.Model(&models.Task{}).
		Where("schedule_id = ?", scheduleID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max, nil
}

// shiftRight increments the sequence of every task in [from, to] by one.
// Rows are renumbered highest-first so the unique (schedule_id, sequence)
// index never sees a transient duplicate.
func shiftRight(tx *gorm.DB, scheduleID uint, from, to int) error {
	return renumberRange(tx, scheduleID, from, to, +1, "sequence DESC")
}

// shiftLeft decrements the sequence of every task in [from, to] by one,
// renumbering lowest-first for the same reason.
func shiftLeft(tx *gorm.DB, scheduleID uint, from, to int) error {
	return renumberRange(tx, scheduleID, from, to, -1, "sequence ASC")
}

func renumberRange(tx *gorm.DB, scheduleID uint, from, to, delta int, order string) error {
	if from > to {
		return nil
	}

	var tasks []models.Task
	err := tx.Where("schedule_id = ? AND sequence >= ? AND sequence <= ?", scheduleID, from, to).
		Order(order).
		Find(&tasks).Error
	if err != nil {
		return err
	}

	for i := range tasks {
		err := tx.Model(&models.Task{}).
			Where("id = ?", tasks[i].ID).
			Update("sequence", tasks[i].Sequence+delta).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// IsNotFound reports whether err is a GORM record-not-found error. Handlers
// use it to translate lookup failures into 404 responses.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
