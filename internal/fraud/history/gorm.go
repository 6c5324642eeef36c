package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is the gorm model backing the fraud_events table.
type EventRecord struct {
	ID                uuid.UUID `gorm:"primaryKey;type:uuid"`
	ActorID           string    `gorm:"index;size:64"`
	IPAddress         string    `gorm:"index;size:45"`
	DeviceFingerprint string    `gorm:"index;size:64"`
	Action            string    `gorm:"index;size:32;not null"`
	Module            string    `gorm:"size:32"`
	OperationType     string    `gorm:"size:32"`
	Country           string    `gorm:"size:2"`
	Latitude          float64
	Longitude         float64
	CreatedAt         time.Time `gorm:"index;not null"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (EventRecord) TableName() string { return "fraud_events" }

func (r *EventRecord) toEvent() Event {
	return Event{
		ID:                r.ID,
		ActorID:           r.ActorID,
		IPAddress:         r.IPAddress,
		DeviceFingerprint: r.DeviceFingerprint,
		Action:            r.Action,
		Module:            r.Module,
		OperationType:     r.OperationType,
		Country:           r.Country,
		Latitude:          r.Latitude,
		Longitude:         r.Longitude,
		CreatedAt:         r.CreatedAt,
	}
}

// GormStore implements Reader and Recorder over a gorm-managed database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the fraud_events table and returns a store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate fraud_events: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) query(ctx context.Context, f Filter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&EventRecord{})
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.IPAddress != "" {
		q = q.Where("ip_address = ?", f.IPAddress)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.Module != "" {
		q = q.Where("module = ?", f.Module)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	return q
}

// CountEvents implements Reader.
func (s *GormStore) CountEvents(ctx context.Context, f Filter) (int64, error) {
	var n int64
	if err := s.query(ctx, f).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// FindRecentEvents implements Reader, newest first.
func (s *GormStore) FindRecentEvents(ctx context.Context, f Filter, limit int) ([]Event, error) {
	var records []EventRecord
	if err := s.query(ctx, f).Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	events := make([]Event, len(records))
	for i := range records {
		events[i] = records[i].toEvent()
	}
	return events, nil
}

// Append implements Recorder.
func (s *GormStore) Append(ctx context.Context, e Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	rec := EventRecord{
		ID:                e.ID,
		ActorID:           e.ActorID,
		IPAddress:         e.IPAddress,
		DeviceFingerprint: e.DeviceFingerprint,
		Action:            e.Action,
		Module:            e.Module,
		OperationType:     e.OperationType,
		Country:           e.Country,
		Latitude:          e.Latitude,
		Longitude:         e.Longitude,
		CreatedAt:         e.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}
