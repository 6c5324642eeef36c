package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Reader/Recorder used in tests and local
// development where no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func matches(e *Event, f Filter) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// CountEvents implements Reader.
func (s *MemoryStore) CountEvents(_ context.Context, f Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for i := range s.events {
		if matches(&s.events[i], f) {
			n++
		}
	}
	return n, nil
}

// FindRecentEvents implements Reader, newest first.
func (s *MemoryStore) FindRecentEvents(_ context.Context, f Filter, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for i := range s.events {
		if matches(&s.events[i], f) {
			out = append(out, s.events[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Append implements Recorder.
func (s *MemoryStore) Append(_ context.Context, e Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}
