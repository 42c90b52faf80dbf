package store

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by unit tests. A single mutex gives
// it the same per-operation atomicity the Redis adapter gets from the server,
// including the conditional activation transition.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[string]string
	markers map[string]time.Time

	// now is replaceable so tests can control marker expiry
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]string),
		markers: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	return ok, nil
}

func (s *MemoryStore) ReadRecord(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	out := make(map[string]string, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) WriteRecord(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		record = make(map[string]string, len(fields))
		s.records[key] = record
	}
	for k, v := range fields {
		record[k] = v
	}
	return nil
}

func (s *MemoryStore) DeleteRecords(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := s.records[key]; ok {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) MarkerExists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.markers[key]
	if !ok {
		return false, nil
	}
	if s.now().After(expiry) {
		delete(s.markers, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) ActivateIfUnused(_ context.Context, recordKey string, fields map[string]string, markerKey string, markerTTL time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordKey]
	if !ok || record["validation_status"] != "unused" {
		return false, nil
	}
	for k, v := range fields {
		record[k] = v
	}
	if markerKey != "" {
		s.markers[markerKey] = s.now().Add(markerTTL)
	}
	return true, nil
}

func (s *MemoryStore) ScanRecords(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.records {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// MarkerTTL reports the remaining TTL of a marker, for test assertions
func (s *MemoryStore) MarkerTTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.markers[key]
	if !ok {
		return 0, false
	}
	return expiry.Sub(s.now()), true
}

// SetClock overrides the store clock, for marker expiry tests
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
