package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arklim/authguard/internal/core/port"
)

// RateLimitStore is an in-process sliding-window store used when Redis is not configured.
type RateLimitStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

var _ port.RateLimitStore = (*RateLimitStore)(nil)

// NewRateLimitStore returns an empty store.
func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{attempts: make(map[string][]time.Time)}
}

// TrimWindow drops attempts older than the window ending at reference.
func (s *RateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := reference.Add(-window)
	kept := s.attempts[identifier][:0]
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(s.attempts, identifier)
		return nil
	}
	s.attempts[identifier] = kept
	return nil
}

// CountAttempts counts attempts inside the window ending at reference.
func (s *RateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := reference.Add(-window)
	count := 0
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) && !at.After(reference) {
			count++
		}
	}
	return count, nil
}

// RecordAttempt stores an attempt at the given instant.
func (s *RateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.attempts[identifier], at)
	sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
	s.attempts[identifier] = list
	return nil
}

// OldestAttempt returns the earliest attempt inside the window.
func (s *RateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := reference.Add(-window)
	for _, at := range s.attempts[identifier] {
		if at.After(cutoff) {
			return at, true, nil
		}
	}
	return time.Time{}, false, nil
}
