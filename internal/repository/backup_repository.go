package repository

import (
	"github.com/emberhost/panel/internal/models"
	"gorm.io/gorm"
)

// BackupRepository handles database operations for backups
type BackupRepository struct {
	db *gorm.DB
}

// NewBackupRepository creates a new backup repository
func NewBackupRepository(db *gorm.DB) *BackupRepository {
	return &BackupRepository{db: db}
}

// Create creates a new backup record
func (r *BackupRepository) Create(backup *models.Backup) error {
	return r.db.Create(backup).Error
}

// Update persists changes to a backup record
func (r *BackupRepository) Update(backup *models.Backup) error {
	return r.db.Save(backup).Error
}

// FindByUUID finds a backup by UUID, preloading its server and node
func (r *BackupRepository) FindByUUID(uuid string) (*models.Backup, error) {
	var backup models.Backup
	err := r.db.Preload("Server").Preload("Server.Node").
		First(&backup, "uuid = ?", uuid).Error
	if err != nil {
		return nil, err
	}
	return &backup, nil
}

// FindByServerID finds all backups for a server, newest first
func (r *BackupRepository) FindByServerID(serverID uint) ([]models.Backup, error) {
	var backups []models.Backup
	err := r.db.Where("server_id = ?", serverID).
		Order("created_at DESC").
		Find(&backups).Error
	return backups, err
}

// CountNonFailed counts a server's backups that have not failed. Pending
// backups count against the limit so a burst of creations cannot overshoot.
func (r *BackupRepository) CountNonFailed(serverID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Backup{}).
		Where("server_id = ? AND (is_successful IS NULL OR is_successful = ?)", serverID, true).
		Count(&count).Error
	return count, err
}

// Delete removes a backup record
func (r *BackupRepository) Delete(id uint) error {
	return r.db.Delete(&models.Backup{}, "id = ?", id).Error
}
