package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityEvent is the persisted form of an activity-log event. The audit
// trail is append-only; nothing in the panel updates or deletes rows here.
type ActivityEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventID   string    `gorm:"size:36;not null;uniqueIndex" json:"event_id"`
	Type      string    `gorm:"size:100;not null;index" json:"type"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`

	ServerID uint  `gorm:"index" json:"server_id,omitempty"`
	UserID   *uint `gorm:"index" json:"user_id,omitempty"`

	// Properties carries event-specific details (backup name, task action,
	// restore outcome) as free-form JSON.
	Properties datatypes.JSON `gorm:"type:json" json:"properties"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name
func (ActivityEvent) TableName() string {
	return "activity_events"
}
