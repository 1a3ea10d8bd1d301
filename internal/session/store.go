// Package session keeps one workflow machine per visitor, in memory only.
// Sessions that stay idle past the TTL are evicted by a background sweep.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"provador/internal/domain"
	"provador/internal/workflow"
)

type entry struct {
	machine  *workflow.Machine
	lastSeen time.Time
}

// Store holds live workflow machines keyed by session ID.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
}

// NewStore creates a store evicting sessions idle longer than ttl.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Create registers a new machine and returns its session ID.
func (s *Store) Create(m *workflow.Machine) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.entries[id] = &entry{machine: m, lastSeen: s.now()}
	s.mu.Unlock()
	return id
}

// Get returns the machine for the given session and refreshes its idle
// timer. Unknown or expired sessions yield domain.ErrSessionGone.
func (s *Store) Get(id string) (*workflow.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, domain.ErrSessionGone
	}
	if s.now().Sub(e.lastSeen) > s.ttl {
		delete(s.entries, id)
		return nil, domain.ErrSessionGone
	}
	e.lastSeen = s.now()
	return e.machine, nil
}

// Delete removes a session if present.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep runs periodic eviction until the context is cancelled.
func (s *Store) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Store) evictExpired() {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	for id, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()
}
