package models

import (
	"time"
)

// TaskAction enumerates the work a schedule task can perform
type TaskAction string

const (
	TaskActionCommand TaskAction = "command" // Send a console command through the daemon
	TaskActionPower   TaskAction = "power"   // Send a power signal (start/stop/restart/kill)
	TaskActionBackup  TaskAction = "backup"  // Create a backup of the server
)

// Schedule represents a named, ordered list of automation tasks bound to one
// server. Tasks are ordered by a dense sequence (1..N) maintained by the
// task sequencer; nothing else writes sequence values.
type Schedule struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ServerID uint    `gorm:"not null;index" json:"server_id"`
	Server   *Server `gorm:"foreignKey:ServerID" json:"-"`

	Name     string `gorm:"size:255;not null" json:"name"`
	IsActive bool   `gorm:"not null;default:true" json:"is_active"`

	// Cron fields, matching the daemon-side scheduler format
	CronMinute     string `gorm:"size:16;not null;default:'*'" json:"cron_minute"`
	CronHour       string `gorm:"size:16;not null;default:'*'" json:"cron_hour"`
	CronDayOfMonth string `gorm:"size:16;not null;default:'*'" json:"cron_day_of_month"`
	CronMonth      string `gorm:"size:16;not null;default:'*'" json:"cron_month"`
	CronDayOfWeek  string `gorm:"size:16;not null;default:'*'" json:"cron_day_of_week"`

	// OnlyWhenOnline skips runs while the server process is offline
	OnlyWhenOnline bool `gorm:"not null;default:false" json:"only_when_online"`

	// IsProcessing is set while the runner is executing this schedule's
	// task chain so a slow run is never picked up twice.
	IsProcessing bool       `gorm:"not null;default:false" json:"is_processing"`
	LastRunAt    *time.Time `json:"last_run_at"`
	NextRunAt    *time.Time `gorm:"index" json:"next_run_at"`

	Tasks []Task `gorm:"foreignKey:ScheduleID;constraint:OnDelete:CASCADE" json:"tasks,omitempty"`
}

// TableName specifies the table name
func (Schedule) TableName() string {
	return "schedules"
}

// CronExpression assembles the five cron fields into a single expression
func (s *Schedule) CronExpression() string {
	return s.CronMinute + " " + s.CronHour + " " + s.CronDayOfMonth + " " + s.CronMonth + " " + s.CronDayOfWeek
}

// Task is one step in a schedule. Sequence values within a schedule are
// unique and contiguous starting at 1; the unique index backstops the
// sequencer's transactional renumbering.
type Task struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ScheduleID uint      `gorm:"not null;uniqueIndex:idx_tasks_schedule_sequence" json:"schedule_id"`
	Schedule   *Schedule `gorm:"foreignKey:ScheduleID" json:"-"`

	Sequence int        `gorm:"not null;uniqueIndex:idx_tasks_schedule_sequence" json:"sequence"`
	Action   TaskAction `gorm:"size:20;not null" json:"action"`

	// Payload semantics depend on Action: console command text, power
	// signal name, or ignored-file patterns for backups.
	Payload string `gorm:"size:1024;not null;default:''" json:"payload"`

	// TimeOffset is how many seconds to wait after the previous task
	TimeOffset int `gorm:"not null;default:0" json:"time_offset"`

	ContinueOnFailure bool `gorm:"not null;default:false" json:"continue_on_failure"`
	IsQueued          bool `gorm:"not null;default:false" json:"is_queued"`
}

// TableName specifies the table name
func (Task) TableName() string {
	return "tasks"
}

// BelongsToServer reports whether this task's schedule is bound to the given
// server. Tasks are the one resource reached through two parents, so the
// ownership check has to walk through the schedule.
func (t *Task) BelongsToServer(schedule *Schedule, serverID uint) bool {
	return t.ScheduleID == schedule.ID && schedule.ServerID == serverID
}
