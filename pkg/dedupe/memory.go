package dedupe

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps dedupe claims in process memory. Suitable for a single
// gateway instance and for tests; multi-instance deployments use RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	claims  map[string]time.Time
	now     func() time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims:  make(map[string]time.Time),
		now:     time.Now,
		gcEvery: time.Minute,
	}
}

func (s *MemoryStore) AdmitOnce(_ context.Context, triggerID, key string, windowSeconds int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.maybeCollect(now)

	claim := triggerID + "\x00" + key

	expiry, seen := s.claims[claim]
	if seen && now.Before(expiry) {
		return false, nil
	}

	s.claims[claim] = now.Add(time.Duration(windowSeconds) * time.Second)

	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, triggerID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claims, triggerID+"\x00"+key)

	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// maybeCollect drops expired claims at most once per gcEvery. Called with the
// lock held.
func (s *MemoryStore) maybeCollect(now time.Time) {
	if now.Sub(s.lastGC) < s.gcEvery {
		return
	}

	s.lastGC = now

	for claim, expiry := range s.claims {
		if now.After(expiry) {
			delete(s.claims, claim)
		}
	}
}
