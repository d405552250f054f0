package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. It backs tests and single-user local
// runs; the on-disk equivalent is SQLite.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]json.RawMessage
	n     *notifier
}

// NewMemory returns an empty in-memory tree.
func NewMemory() *Memory {
	return &Memory{
		nodes: make(map[string]json.RawMessage),
		n:     newNotifier(),
	}
}

func (m *Memory) Get(ctx context.Context, path string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.nodes[path]
	if !ok {
		return nil, nil
	}
	return raw, nil
}

func (m *Memory) GetRange(ctx context.Context, parent, startAfter string, limit int) ([]KV, error) {
	m.mu.RLock()
	keys := make([]string, 0)
	for path := range m.nodes {
		if child, ok := childOf(parent, path); ok {
			if startAfter != "" && child <= startAfter {
				continue
			}
			keys = append(keys, child)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]KV, 0, len(keys))
	for _, k := range keys {
		out = append(out, KV{Key: k, Value: m.nodes[parent+"/"+k]})
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *Memory) Set(ctx context.Context, path string, value any) error {
	return m.Update(ctx, map[string]any{path: value})
}

func (m *Memory) Update(ctx context.Context, values map[string]any) error {
	// Encode everything before touching the tree so a marshal failure
	// leaves it untouched.
	encoded := make(map[string]json.RawMessage, len(values))
	for path, value := range values {
		if value == nil {
			encoded[path] = nil
			continue
		}
		raw, err := encode(value)
		if err != nil {
			return err
		}
		encoded[path] = raw
	}

	m.mu.Lock()
	changed := make([]string, 0, len(encoded))
	for path, raw := range encoded {
		if raw == nil {
			m.removeSubtree(path)
		} else {
			m.nodes[path] = raw
		}
		changed = append(changed, path)
	}
	m.mu.Unlock()

	m.n.notify(changed)
	return nil
}

func (m *Memory) Remove(ctx context.Context, path string) error {
	m.mu.Lock()
	m.removeSubtree(path)
	m.mu.Unlock()
	m.n.notify([]string{path})
	return nil
}

func (m *Memory) Subscribe(path string, onChange func()) (cancel func()) {
	return m.n.subscribe(path, onChange)
}

// removeSubtree deletes path and all descendants. Caller holds the lock.
func (m *Memory) removeSubtree(path string) {
	delete(m.nodes, path)
	prefix := path + "/"
	for p := range m.nodes {
		if strings.HasPrefix(p, prefix) {
			delete(m.nodes, p)
		}
	}
}
