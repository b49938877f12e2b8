package models

import (
	"time"
)

// ServerStatus represents a non-ready state a server can be in. A server with
// a nil status is installed and available for normal operation.
type ServerStatus string

const (
	StatusInstalling      ServerStatus = "installing"
	StatusInstallFailed   ServerStatus = "install_failed"
	StatusSuspended       ServerStatus = "suspended"
	StatusRestoringBackup ServerStatus = "restoring_backup"
)

// Server represents a game server instance managed by the panel. The actual
// process lives on a node and is driven by that node's daemon; the panel only
// tracks state and issues RPCs.
type Server struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	UUID      string `gorm:"size:36;not null;uniqueIndex" json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name    string `gorm:"size:255;not null" json:"name"`
	OwnerID uint   `gorm:"not null;index" json:"owner_id"`

	// Node placement
	NodeID uint  `gorm:"not null;index" json:"node_id"`
	Node   *Node `gorm:"foreignKey:NodeID" json:"-"`

	// Status is nil when the server is installed and idle. Destructive
	// operations (reinstall, restore, transfer) flip it to one of the
	// ServerStatus values until the daemon reports back.
	Status *string `gorm:"size:50" json:"status"`

	// BackupLimit is the number of backups the server may keep. Zero
	// disables backups entirely, including backup schedule tasks.
	BackupLimit int `gorm:"not null;default:0" json:"backup_limit"`

	// Relations
	Schedules []Schedule `gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE" json:"-"`
	Backups   []Backup   `gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name
func (Server) TableName() string {
	return "servers"
}

// IsInstalled reports whether the server has no blocking status set
func (s *Server) IsInstalled() bool {
	return s.Status == nil
}

// StatusPtr returns a *string for the given status, for assignment to Server.Status
func StatusPtr(status ServerStatus) *string {
	v := string(status)
	return &v
}
