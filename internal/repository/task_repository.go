package repository

import (
	"github.com/emberhost/panel/internal/models"
	"gorm.io/gorm"
)

// TaskRepository handles database operations for schedule tasks
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// FindByID finds a task by its primary key
func (r *TaskRepository) FindByID(id uint) (*models.Task, error) {
	var task models.Task
	if err := r.db.First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// FindBySchedule returns all tasks for a schedule ordered by sequence
func (r *TaskRepository) FindBySchedule(scheduleID uint) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.Where("schedule_id = ?", scheduleID).
		Order("sequence ASC").
		Find(&tasks).Error
	return tasks, err
}

// CountBySchedule counts the tasks attached to a schedule
func (r *TaskRepository) CountBySchedule(scheduleID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Task{}).
		Where("schedule_id = ?", scheduleID).
		Count(&count).Error
	return count, err
}

// MaxSequence returns the highest sequence value in a schedule, or 0 when the
// schedule has no tasks.
func (r *TaskRepository) MaxSequence(scheduleID uint) (int, error) {
	var max int
	err := r.db.Model(&models.Task{}).
		Where("schedule_id = ?", scheduleID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&max).Error
	return max, err
}

// SetQueued flips the is_queued flag for a task
func (r *TaskRepository) SetQueued(taskID uint, queued bool) error {
	return r.db.Model(&models.Task{}).
		Where("id = ?", taskID).
		Update("is_queued", queued).Error
}
