package events

import (
	"context"
	"fmt"
	"time"

	"github.com/emberhost/panel/pkg/config"
	"github.com/emberhost/panel/pkg/logger"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxDBStorage mirrors activity events into InfluxDB for time-series
// analysis. It is write-only; queries always go to the database sink.
type InfluxDBStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// NewInfluxDBStorage connects to InfluxDB and verifies its health
func NewInfluxDBStorage(cfg *config.Config) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.InfluxDBURL, cfg.InfluxDBToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", healthMessage(health.Message))
	}

	logger.Info("EVENTS: InfluxDB sink initialized", map[string]interface{}{
		"url":    cfg.InfluxDBURL,
		"org":    cfg.InfluxDBOrg,
		"bucket": cfg.InfluxDBBucket,
	})

	return &InfluxDBStorage{
		client:   client,
		writeAPI: client.WriteAPI(cfg.InfluxDBOrg, cfg.InfluxDBBucket),
	}, nil
}

// Store writes the event as a point; writes are batched and non-blocking
func (s *InfluxDBStorage) Store(event Event) error {
	tags := map[string]string{
		"event_type": string(event.Type),
		"server_id":  fmt.Sprintf("%d", event.ServerID),
	}
	if event.UserID != nil {
		tags["user_id"] = fmt.Sprintf("%d", *event.UserID)
	}

	fields := map[string]interface{}{"event_id": event.ID}
	for k, v := range event.Properties {
		fields[k] = v
	}

	s.writeAPI.WritePoint(influxdb2.NewPoint("activity_event", tags, fields, event.Timestamp))
	return nil
}

// Query is not supported by the time-series sink
func (s *InfluxDBStorage) Query(filters Filters) ([]Event, error) {
	return nil, fmt.Errorf("the InfluxDB event sink does not support queries")
}

// Close flushes pending writes and releases the client
func (s *InfluxDBStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

func healthMessage(message *string) string {
	if message == nil {
		return "unknown"
	}
	return *message
}
