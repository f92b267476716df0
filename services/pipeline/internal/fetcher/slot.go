package fetcher

import (
	"context"
	"sync"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
)

// Slot holds the latest snapshot. Every Store bumps the version and wakes
// all waiters; presence is tracked separately from emptiness.
type Slot struct {
	mu      sync.Mutex
	snap    models.Snapshot
	version uint64
	present bool
	changed chan struct{}
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{changed: make(chan struct{})}
}

// Store replaces the snapshot and returns its version.
func (s *Slot) Store(snap models.Snapshot) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.present = true
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
	return s.version
}

// Load returns the current snapshot; ok is false until the first Store.
func (s *Slot) Load() (snap models.Snapshot, version uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.version, s.present
}

// Wait blocks until a snapshot newer than version is stored.
func (s *Slot) Wait(ctx context.Context, version uint64) (models.Snapshot, uint64, error) {
	for {
		s.mu.Lock()
		if s.present && s.version > version {
			snap, v := s.snap, s.version
			s.mu.Unlock()
			return snap, v, nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.Snapshot{}, version, ctx.Err()
		case <-ch:
		}
	}
}
