package events

import (
	"errors"
	"testing"
	"time"
)

type recordingStorage struct {
	stored []Event
	err    error
}

func (s *recordingStorage) Store(event Event) error {
	s.stored = append(s.stored, event)
	return s.err
}

func (s *recordingStorage) Query(filters Filters) ([]Event, error) {
	return s.stored, nil
}

func TestPublishAssignsIdentityAndTimestamp(t *testing.T) {
	storage := &recordingStorage{}
	bus := NewBus(storage)

	bus.Publish(Event{Type: EventBackupStart, ServerID: 1})

	if len(storage.stored) != 1 {
		t.Fatalf("expected one stored event, got %d", len(storage.stored))
	}
	stored := storage.stored[0]
	if stored.ID == "" {
		t.Error("expected an event id assigned")
	}
	if stored.Timestamp.IsZero() {
		t.Error("expected a timestamp assigned")
	}
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(nil)

	var first, second []Event
	bus.Subscribe(func(e Event) { first = append(first, e) })
	bus.Subscribe(func(e Event) { second = append(second, e) })

	bus.Publish(Event{Type: EventTaskCreate, ServerID: 2})

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected delivery to both subscribers, got %d and %d", len(first), len(second))
	}
	if first[0].Type != EventTaskCreate {
		t.Errorf("unexpected event type %s", first[0].Type)
	}
}

func TestPublishSurvivesStorageFailure(t *testing.T) {
	storage := &recordingStorage{err: errors.New("sink down")}
	bus := NewBus(storage)

	delivered := false
	bus.Subscribe(func(e Event) { delivered = true })

	bus.Publish(Event{Type: EventBackupFail, ServerID: 3})

	if !delivered {
		t.Error("subscribers must still receive events when storage fails")
	}
}

func TestMultiStorageWritesAllSinksQueriesFirst(t *testing.T) {
	primary := &recordingStorage{}
	secondary := &recordingStorage{}
	multi := NewMultiStorage(primary, secondary)

	event := Event{ID: "e1", Type: EventScheduleRun, Timestamp: time.Now(), ServerID: 4}
	if err := multi.Store(event); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	if len(primary.stored) != 1 || len(secondary.stored) != 1 {
		t.Fatalf("expected writes to both sinks, got %d and %d", len(primary.stored), len(secondary.stored))
	}

	secondary.stored = nil
	results, err := multi.Query(Filters{ServerID: 4})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(results) != 1 {
		t.Error("queries must be served from the primary sink")
	}
}

func TestMultiStorageKeepsFirstError(t *testing.T) {
	failing := &recordingStorage{err: errors.New("first failure")}
	healthy := &recordingStorage{}
	multi := NewMultiStorage(failing, healthy)

	err := multi.Store(Event{ID: "e2", Type: EventBackupDelete})
	if err == nil || err.Error() != "first failure" {
		t.Fatalf("expected first failure surfaced, got %v", err)
	}
	if len(healthy.stored) != 1 {
		t.Error("remaining sinks must still receive the event")
	}
}
