// Package response maps risk assessments onto automated, escalating
// threat responses and owns the active-block state.
package response

import (
	"context"
	"sync"
	"time"
)

// Block is one active denial entry keyed by identifier. At most one block
// exists per identifier; a new block overwrites the prior one.
type Block struct {
	Identifier string    `json:"identifier"`
	Reason     string    `json:"reason"`
	RiskScore  int       `json:"risk_score"`
	Permanent  bool      `json:"permanent"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"` // zero when permanent
}

// Expired reports whether a non-permanent block has lapsed.
func (b *Block) Expired(now time.Time) bool {
	return !b.Permanent && now.After(b.ExpiresAt)
}

// RemainingSeconds is the block's remaining TTL: -1 for permanent blocks,
// clamped at 0 for expired-but-unswept entries.
func (b *Block) RemainingSeconds(now time.Time) int64 {
	if b.Permanent {
		return -1
	}
	remaining := int64(b.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BlockStore is the injected shared state behind the response engine.
// Implementations must be safe for concurrent use.
type BlockStore interface {
	// Get returns the block for the identifier, expired or not, or nil.
	Get(ctx context.Context, identifier string) (*Block, error)
	// Set writes or overwrites the identifier's block.
	Set(ctx context.Context, b Block) error
	// Delete removes the identifier's block.
	Delete(ctx context.Context, identifier string) error
	// All returns every stored block, including expired-but-unswept ones.
	All(ctx context.Context) ([]Block, error)
	// WasBlocked reports whether the identifier has ever been blocked,
	// even if the entry has since expired or been swept.
	WasBlocked(ctx context.Context, identifier string) (bool, error)
}

// MemoryStore is the default single-process BlockStore: a mutex-guarded
// map plus a tombstone set for repeat-offender memory.
type MemoryStore struct {
	mu       sync.RWMutex
	blocks   map[string]Block
	everSeen map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:   make(map[string]Block),
		everSeen: make(map[string]struct{}),
	}
}

// Get implements BlockStore.
func (s *MemoryStore) Get(_ context.Context, identifier string) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.blocks[identifier]; ok {
		return &b, nil
	}
	return nil, nil
}

// Set implements BlockStore.
func (s *MemoryStore) Set(_ context.Context, b Block) error {
	s.mu.Lock()
	s.blocks[b.Identifier] = b
	s.everSeen[b.Identifier] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Delete implements BlockStore.
func (s *MemoryStore) Delete(_ context.Context, identifier string) error {
	s.mu.Lock()
	delete(s.blocks, identifier)
	s.mu.Unlock()
	return nil
}

// All implements BlockStore.
func (s *MemoryStore) All(_ context.Context) ([]Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b)
	}
	return out, nil
}

// WasBlocked implements BlockStore.
func (s *MemoryStore) WasBlocked(_ context.Context, identifier string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.everSeen[identifier]
	return ok, nil
}
