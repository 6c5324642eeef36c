package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veloria/fraudguard/pkg/metrics"
)

// Record is the gorm model backing the fraud_audit_log table.
type Record struct {
	ID          uuid.UUID `gorm:"primaryKey;type:uuid"`
	Action      string    `gorm:"index;size:64;not null"`
	Module      string    `gorm:"index;size:32;not null"`
	ActorID     string    `gorm:"index;size:64"`
	ActorType   string    `gorm:"size:16"`
	EntityType  string    `gorm:"size:32"`
	EntityID    string    `gorm:"size:64"`
	Description string    `gorm:"size:512"`
	CreatedAt   time.Time `gorm:"index;not null"`
}

func (Record) TableName() string { return "fraud_audit_log" }

// GormSink appends audit entries asynchronously through a buffered queue
// so the request path never waits on the database.
type GormSink struct {
	db     *gorm.DB
	logger *zap.Logger
	queue  chan Entry
	done   chan struct{}
}

// NewGormSink migrates the audit table and starts the background writer.
func NewGormSink(db *gorm.DB, logger *zap.Logger) (*GormSink, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate fraud_audit_log: %w", err)
	}
	s := &GormSink{
		db:     db,
		logger: logger.Named("audit"),
		queue:  make(chan Entry, 1024),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Record implements Sink. When the queue is full the entry is dropped and
// counted; audit writes must never stall request handling.
func (s *GormSink) Record(_ context.Context, e Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	select {
	case s.queue <- e:
	default:
		metrics.CollaboratorFailures.WithLabelValues("audit").Inc()
		s.logger.Warn("audit queue full, dropping entry", zap.String("action", e.Action))
	}
}

// Close flushes queued entries and stops the writer.
func (s *GormSink) Close() {
	close(s.queue)
	<-s.done
}

func (s *GormSink) writeLoop() {
	defer close(s.done)
	for e := range s.queue {
		rec := Record{
			ID:          e.ID,
			Action:      e.Action,
			Module:      e.Module,
			ActorID:     e.ActorID,
			ActorType:   e.ActorType,
			EntityType:  e.EntityType,
			EntityID:    e.EntityID,
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		}
		if err := s.db.Create(&rec).Error; err != nil {
			metrics.CollaboratorFailures.WithLabelValues("audit").Inc()
			s.logger.Error("failed to persist audit entry", zap.Error(err), zap.String("action", e.Action))
		}
	}
}
