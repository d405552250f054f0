// Package store provides the hierarchical key-value tree the engine is
// written against: point reads, ordered range reads over the direct
// children of a path, and atomic multi-path updates.
//
// Paths are slash-separated. Range reads return direct children in
// lexicographic key order, which is why due-order index keys are
// zero-padded timestamps.
package store

import (
	"context"
	"encoding/json"
	"strings"
)

// KV is one child returned by a range read. Key is the child segment,
// not the full path.
type KV struct {
	Key   string
	Value json.RawMessage
}

// Store is the reduced persistence contract. Update applies every listed
// path atomically: all succeed or none do. A nil value in an Update map
// deletes the path.
type Store interface {
	// Get returns the value at path, or (nil, nil) when absent.
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// GetRange returns up to limit direct children of parent in key
	// order, resuming after startAfter when it is non-empty. limit <= 0
	// means no limit.
	GetRange(ctx context.Context, parent, startAfter string, limit int) ([]KV, error)

	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, values map[string]any) error

	// Remove deletes the path and everything below it.
	Remove(ctx context.Context, path string) error

	// Subscribe registers a change notification for path and its
	// subtree. Used by listing surfaces only, never by the engine.
	Subscribe(path string, onChange func()) (cancel func())
}

// Join assembles a path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

func encode(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(value)
}

// childOf returns the direct-child segment of full under parent, or
// ("", false) when full is not a direct child.
func childOf(parent, full string) (string, bool) {
	prefix := parent + "/"
	if !strings.HasPrefix(full, prefix) {
		return "", false
	}
	child := full[len(prefix):]
	if child == "" || strings.Contains(child, "/") {
		return "", false
	}
	return child, true
}
