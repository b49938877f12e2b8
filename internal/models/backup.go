package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// BackupDisk identifies where a backup archive is stored
type BackupDisk string

const (
	BackupDiskWings BackupDisk = "wings" // Archive lives on the daemon's local disk
	BackupDiskS3    BackupDisk = "s3"    // Archive lives in S3-compatible object storage
)

// Backup represents one backup attempt for a server. IsSuccessful is nil
// while the daemon is still working; the completion callback resolves it to
// true or false exactly once.
type Backup struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UUID      string    `gorm:"size:36;not null;uniqueIndex" json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ServerID uint    `gorm:"not null;index" json:"server_id"`
	Server   *Server `gorm:"foreignKey:ServerID" json:"-"`

	Name string `gorm:"size:255;not null" json:"name"`

	IsSuccessful *bool `json:"is_successful"`

	// IsLocked prevents deletion. A failed backup is never lockable.
	IsLocked bool `gorm:"not null;default:false" json:"is_locked"`

	Disk BackupDisk `gorm:"size:20;not null" json:"disk"`

	// IgnoredFiles holds the glob patterns excluded from the archive
	IgnoredFiles datatypes.JSON `gorm:"type:json" json:"ignored_files"`

	// Checksum is "algorithm:hex", set only when the backup succeeded
	Checksum *string `gorm:"size:128" json:"checksum"`
	Bytes    int64   `gorm:"not null;default:0" json:"bytes"`

	// UploadID is the S3 multipart upload identifier. Only present for
	// s3-disk backups, and only until the upload is finalized.
	UploadID *string `gorm:"size:256" json:"-"`

	CompletedAt *time.Time `json:"completed_at"`
}

// TableName specifies the table name
func (Backup) TableName() string {
	return "backups"
}

// IsPending reports whether the daemon has not yet reported a result
func (b *Backup) IsPending() bool {
	return b.IsSuccessful == nil
}

// Succeeded reports whether the backup completed successfully
func (b *Backup) Succeeded() bool {
	return b.IsSuccessful != nil && *b.IsSuccessful
}

// BelongsToServer reports whether the backup is owned by the given server
func (b *Backup) BelongsToServer(serverID uint) bool {
	return b.ServerID == serverID
}

// StorageKey is the object key under which an s3-disk archive is stored
func (b *Backup) StorageKey(serverUUID string) string {
	return fmt.Sprintf("%s/%s.tar.gz", serverUUID, b.UUID)
}
