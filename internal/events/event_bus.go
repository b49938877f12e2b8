package events

import (
	"sync"
	"time"

	"github.com/emberhost/panel/pkg/logger"
	"github.com/google/uuid"
)

// EventType identifies an activity-log event
type EventType string

const (
	// Backup lifecycle
	EventBackupStart           EventType = "server:backup.start"
	EventBackupComplete        EventType = "server:backup.complete"
	EventBackupFail            EventType = "server:backup.fail"
	EventBackupDelete          EventType = "server:backup.delete"
	EventBackupLock            EventType = "server:backup.lock"
	EventBackupUnlock          EventType = "server:backup.unlock"
	EventBackupDownload        EventType = "server:backup.download"
	EventBackupRestore         EventType = "server:backup.restore"
	EventBackupRestoreComplete EventType = "server:backup.restore-complete"
	EventBackupRestoreFailed   EventType = "server:backup.restore-failed"

	// Schedule tasks
	EventTaskCreate EventType = "server:task.create"
	EventTaskUpdate EventType = "server:task.update"
	EventTaskDelete EventType = "server:task.delete"

	// Schedule runs
	EventScheduleRun    EventType = "server:schedule.run"
	EventScheduleFailed EventType = "server:schedule.run-failed"
)

// Event is one activity-log entry flowing through the bus
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	ServerID   uint                   `json:"server_id,omitempty"`
	UserID     *uint                  `json:"user_id,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Handler is a function invoked for published events
type Handler func(event Event)

// Storage persists events beyond the in-process subscribers
type Storage interface {
	Store(event Event) error
	Query(filters Filters) ([]Event, error)
}

// Filters narrows event queries
type Filters struct {
	Types     []EventType
	ServerID  uint
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Bus fan-outs events to subscribers and the configured storage
type Bus struct {
	mu          sync.RWMutex
	subscribers []Handler
	storage     Storage
}

// NewBus creates an event bus backed by the given storage (may be nil)
func NewBus(storage Storage) *Bus {
	return &Bus{storage: storage}
}

// Subscribe registers a handler that receives every published event
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, handler)
}

// Publish stores the event and delivers it to all subscribers. Delivery is
// synchronous; handlers must not block.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	b.mu.RLock()
	storage := b.storage
	subscribers := make([]Handler, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	if storage != nil {
		if err := storage.Store(event); err != nil {
			logger.Error("EVENTS: Failed to store event", err, map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.Type,
			})
		}
	}

	for _, handler := range subscribers {
		handler(event)
	}
}

// Query reads back stored events
func (b *Bus) Query(filters Filters) ([]Event, error) {
	b.mu.RLock()
	storage := b.storage
	b.mu.RUnlock()

	if storage == nil {
		return nil, nil
	}
	return storage.Query(filters)
}

// MultiStorage writes every event to all configured sinks. Queries are
// served from the first sink, which is always the database.
type MultiStorage struct {
	sinks []Storage
}

// NewMultiStorage creates a storage fan-out
func NewMultiStorage(sinks ...Storage) *MultiStorage {
	return &MultiStorage{sinks: sinks}
}

// Store writes the event to every sink, keeping the first error
func (m *MultiStorage) Store(event Event) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Store(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Query reads from the primary sink
func (m *MultiStorage) Query(filters Filters) ([]Event, error) {
	if len(m.sinks) == 0 {
		return nil, nil
	}
	return m.sinks[0].Query(filters)
}
