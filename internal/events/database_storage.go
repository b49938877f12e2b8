package events

import (
	"encoding/json"

	"github.com/emberhost/panel/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DatabaseStorage persists activity events in the relational database
type DatabaseStorage struct {
	db *gorm.DB
}

// NewDatabaseStorage creates a new database-backed event storage
func NewDatabaseStorage(db *gorm.DB) *DatabaseStorage {
	return &DatabaseStorage{db: db}
}

// Store saves an event as an activity_events row
func (s *DatabaseStorage) Store(event Event) error {
	propsJSON, err := json.Marshal(event.Properties)
	if err != nil {
		return err
	}

	row := &models.ActivityEvent{
		EventID:    event.ID,
		Type:       string(event.Type),
		Timestamp:  event.Timestamp,
		ServerID:   event.ServerID,
		UserID:     event.UserID,
		Properties: datatypes.JSON(propsJSON),
	}

	return s.db.Create(row).Error
}

// Query retrieves stored events, newest first
func (s *DatabaseStorage) Query(filters Filters) ([]Event, error) {
	query := s.db.Model(&models.ActivityEvent{})

	if len(filters.Types) > 0 {
		types := make([]string, len(filters.Types))
		for i, t := range filters.Types {
			types[i] = string(t)
		}
		query = query.Where("type IN ?", types)
	}

	if filters.ServerID != 0 {
		query = query.Where("server_id = ?", filters.ServerID)
	}
	if !filters.StartTime.IsZero() {
		query = query.Where("timestamp >= ?", filters.StartTime)
	}
	if !filters.EndTime.IsZero() {
		query = query.Where("timestamp <= ?", filters.EndTime)
	}

	query = query.Order("timestamp DESC")

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100)
	}

	var rows []models.ActivityEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]Event, len(rows))
	for i, row := range rows {
		var props map[string]interface{}
		if len(row.Properties) > 0 {
			if err := json.Unmarshal(row.Properties, &props); err != nil {
				props = nil
			}
		}

		result[i] = Event{
			ID:         row.EventID,
			Type:       EventType(row.Type),
			Timestamp:  row.Timestamp,
			ServerID:   row.ServerID,
			UserID:     row.UserID,
			Properties: props,
		}
	}
	return result, nil
}
