package photcache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryStore is a process-local Store. Entries are kept as encoded JSON so
// callers can never mutate a stored snapshot.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, fingerprint string) (*Entry, error) {
	s.mu.RLock()
	b, ok := s.entries[fingerprint]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *MemoryStore) Save(_ context.Context, entry *Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[entry.Fingerprint] = b
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		e, err := s.Load(ctx, k)
		if err != nil {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FetchedAt.After(out[j].FetchedAt)
	})
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	delete(s.entries, fingerprint)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
