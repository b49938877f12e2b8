package models

import (
	"time"
)

// User represents a panel account
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Email        string `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Username     string `gorm:"size:100;not null" json:"username"`
	PasswordHash string `gorm:"size:255;not null" json:"-"`
	IsAdmin      bool   `gorm:"not null;default:false" json:"is_admin"`

	// CanDeleteBackups gates the backup-delete capability. It also controls
	// whether an is_locked flag supplied on backup creation is honored.
	CanDeleteBackups bool `gorm:"not null;default:true" json:"can_delete_backups"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}
