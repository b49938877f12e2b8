package repository

import (
	"github.com/emberhost/panel/internal/models"
	"gorm.io/gorm"
)

// NodeRepository handles database operations for nodes
type NodeRepository struct {
	db *gorm.DB
}

// NewNodeRepository creates a new node repository
func NewNodeRepository(db *gorm.DB) *NodeRepository {
	return &NodeRepository{db: db}
}

// Create creates a new node record
func (r *NodeRepository) Create(node *models.Node) error {
	return r.db.Create(node).Error
}

// FindByID finds a node by its primary key
func (r *NodeRepository) FindByID(id uint) (*models.Node, error) {
	var node models.Node
	if err := r.db.First(&node, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &node, nil
}

// FindByTokenID finds a node by the identifier half of its daemon credential
func (r *NodeRepository) FindByTokenID(tokenID string) (*models.Node, error) {
	var node models.Node
	if err := r.db.First(&node, "token_id = ?", tokenID).Error; err != nil {
		return nil, err
	}
	return &node, nil
}

// Update persists changes to a node record
func (r *NodeRepository) Update(node *models.Node) error {
	return r.db.Save(node).Error
}
