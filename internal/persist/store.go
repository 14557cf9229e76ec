// Package persist keeps named state slices (strategies, bots, history and
// so on) as JSON documents under "<namespace>/<slice>".
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Load when a slice was never saved.
var ErrNotFound = errors.New("persist: slice not found")

// Slice names.
const (
	SliceSolPrice   = "solPrice"
	SliceStrategies = "strategies"
	SliceBots       = "bots"
	SliceHistory    = "history"
	SliceFilters    = "filters"
	SliceTokens     = "tokens"
	SliceSignals    = "signals"
)

// DefaultNamespace is the key prefix used when none is configured.
const DefaultNamespace = "axiom-trader-storage"

// Store saves and loads named slices.
type Store interface {
	Save(ctx context.Context, slice string, v any) error
	// Load decodes the slice into dst. It returns ErrNotFound when absent.
	Load(ctx context.Context, slice string, dst any) error
	Ping(ctx context.Context) error
	Close() error
}

// Key builds the storage key of a slice.
func Key(namespace, slice string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + "/" + slice
}

// --- in-memory store ---

// MemoryStore keeps encoded slices in a map. Used when Redis is disabled and in tests.
type MemoryStore struct {
	namespace string

	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(namespace string) *MemoryStore {
	return &MemoryStore{namespace: namespace, data: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, slice string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", slice, err)
	}
	s.mu.Lock()
	s.data[Key(s.namespace, slice)] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, slice string, dst any) error {
	s.mu.RLock()
	raw, ok := s.data[Key(s.namespace, slice)]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", slice, err)
	}
	return nil
}

// Keys returns the stored keys.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }
