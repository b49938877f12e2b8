package repository

import (
	"github.com/emberhost/panel/internal/models"
	"gorm.io/gorm"
)

// ServerRepository handles database operations for servers
type ServerRepository struct {
	db *gorm.DB
}

// NewServerRepository creates a new server repository
func NewServerRepository(db *gorm.DB) *ServerRepository {
	return &ServerRepository{db: db}
}

// Create creates a new server record
func (r *ServerRepository) Create(server *models.Server) error {
	return r.db.Create(server).Error
}

// FindByID finds a server by its primary key
func (r *ServerRepository) FindByID(id uint) (*models.Server, error) {
	var server models.Server
	err := r.db.Preload("Node").First(&server, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &server, nil
}

// FindByUUID finds a server by UUID
func (r *ServerRepository) FindByUUID(uuid string) (*models.Server, error) {
	var server models.Server
	err := r.db.Preload("Node").First(&server, "uuid = ?", uuid).Error
	if err != nil {
		return nil, err
	}
	return &server, nil
}

// FindByOwner finds all servers belonging to a user
func (r *ServerRepository) FindByOwner(ownerID uint) ([]models.Server, error) {
	var servers []models.Server
	err := r.db.Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&servers).Error
	return servers, err
}

// Update persists changes to a server record
func (r *ServerRepository) Update(server *models.Server) error {
	return r.db.Save(server).Error
}

// SetStatus unconditionally writes the server's status column. A nil status
// marks the server installed and idle.
func (r *ServerRepository) SetStatus(serverID uint, status *string) error {
	return r.db.Model(&models.Server{}).
		Where("id = ?", serverID).
		Update("status", status).Error
}

// TransitionStatus performs a compare-and-swap on the status column: the
// update only applies when the current value matches from. Returns false when
// zero rows were affected, meaning another writer got there first.
func (r *ServerRepository) TransitionStatus(serverID uint, from *string, to *string) (bool, error) {
	query := r.db.Model(&models.Server{}).Where("id = ?", serverID)
	if from == nil {
		query = query.Where("status IS NULL")
	} else {
		query = query.Where("status = ?", *from)
	}

	result := query.Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
