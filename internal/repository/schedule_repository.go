package repository

import (
	"time"

	"github.com/emberhost/panel/internal/models"
	"gorm.io/gorm"
)

// ScheduleRepository handles database operations for schedules and tasks
type ScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a new schedule repository
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Create creates a new schedule record
func (r *ScheduleRepository) Create(schedule *models.Schedule) error {
	return r.db.Create(schedule).Error
}

// FindByID finds a schedule by ID with its tasks ordered by sequence
func (r *ScheduleRepository) FindByID(id uint) (*models.Schedule, error) {
	var schedule models.Schedule
	err := r.db.Preload("Tasks", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence ASC")
	}).First(&schedule, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

// FindByServerID finds all schedules for a server
func (r *ScheduleRepository) FindByServerID(serverID uint) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := r.db.Preload("Tasks", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence ASC")
	}).Where("server_id = ?", serverID).
		Order("created_at DESC").
		Find(&schedules).Error
	return schedules, err
}

// FindDue finds active schedules whose next run time has elapsed and that
// are not already being processed.
func (r *ScheduleRepository) FindDue(now time.Time) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := r.db.Preload("Tasks", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence ASC")
	}).Where("is_active = ? AND is_processing = ? AND next_run_at IS NOT NULL AND next_run_at <= ?",
		true, false, now).
		Find(&schedules).Error
	return schedules, err
}

// Update persists changes to a schedule record
func (r *ScheduleRepository) Update(schedule *models.Schedule) error {
	return r.db.Save(schedule).Error
}

// MarkProcessing claims a schedule for execution. The update only matches
// when the guard is still clear, so concurrent callers see swapped == false
// instead of both proceeding.
func (r *ScheduleRepository) MarkProcessing(scheduleID uint) (bool, error) {
	result := r.db.Model(&models.Schedule{}).
		Where("id = ? AND is_processing = ?", scheduleID, false).
		Update("is_processing", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Delete removes a schedule; its tasks cascade
func (r *ScheduleRepository) Delete(id uint) error {
	return r.db.Select("Tasks").Delete(&models.Schedule{ID: id}).Error
}
