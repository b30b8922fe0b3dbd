package splists

import (
	"context"
	"sync"
)

// MissingFieldCache remembers optional fields a list does not have, so reads
// stop requesting them. Implementations must be safe for concurrent use.
type MissingFieldCache interface {
	Missing(ctx context.Context, listKey string) (map[string]struct{}, error)
	Add(ctx context.Context, listKey, field string) error
	Reset(ctx context.Context) error
}

// InMemoryMissingFields is the default process-local MissingFieldCache.
type InMemoryMissingFields struct {
	mu     sync.RWMutex
	fields map[string]map[string]struct{}
}

// NewInMemoryMissingFields creates an empty cache.
func NewInMemoryMissingFields() *InMemoryMissingFields {
	return &InMemoryMissingFields{fields: make(map[string]map[string]struct{})}
}

// Missing returns a copy of the fields known to be absent from listKey.
func (m *InMemoryMissingFields) Missing(_ context.Context, listKey string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.fields[listKey]
	out := make(map[string]struct{}, len(set))
	for f := range set {
		out[f] = struct{}{}
	}
	return out, nil
}

// Add records field as absent from listKey.
func (m *InMemoryMissingFields) Add(_ context.Context, listKey, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.fields[listKey]
	if !ok {
		set = make(map[string]struct{})
		m.fields[listKey] = set
	}
	set[field] = struct{}{}
	return nil
}

// Reset forgets everything.
func (m *InMemoryMissingFields) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fields = make(map[string]map[string]struct{})
	return nil
}

// ResetMissingFields clears the client's missing-field knowledge.
func (c *Client) ResetMissingFields(ctx context.Context) error {
	return c.missing.Reset(ctx)
}
