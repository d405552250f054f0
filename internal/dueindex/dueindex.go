// Package dueindex maintains the due-order index: for every live card,
// exactly one entry under its current bucket in the owner's global queue
// tree and one in the per-folder queue tree. Both trees are written by
// the single transition planner here so they cannot drift apart.
package dueindex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conorfennell/recalldeck/internal/domain"
	"github.com/conorfennell/recalldeck/internal/store"
)

// Key encodes (due time, card id) so that lexicographic order equals due
// order. 13 digits of zero padding cover unix milliseconds far past any
// plausible due date.
func Key(dueAtMillis int64, cardID string) string {
	if dueAtMillis < 0 {
		dueAtMillis = 0
	}
	return fmt.Sprintf("%013d_%s", dueAtMillis, cardID)
}

// Entry is one index slot: the bucket a card is filed under and the due
// time its key is derived from.
type Entry struct {
	Bucket domain.Bucket
	DueAt  int64
}

// Parent returns the tree holding entries for one bucket: the owner's
// global queue when folderID is empty, otherwise the per-folder queue.
func Parent(ownerUID, folderID string, bucket domain.Bucket) string {
	if folderID == "" {
		return store.Join("users", ownerUID, "queue", string(bucket))
	}
	return store.Join("users", ownerUID, "folderQueue", folderID, string(bucket))
}

// Transition adds the multi-path writes for one card transition to m.
// prev is nil on create, next is nil on delete; a folder move passes
// different prevFolder/nextFolder with an unchanged entry. Removing a
// slot that was never written is a no-op at the store, so re-applying
// the same transition is idempotent.
func Transition(m map[string]any, ownerUID, cardID string, prevFolder string, prev *Entry, nextFolder string, next *Entry) {
	if prev != nil {
		key := Key(prev.DueAt, cardID)
		m[store.Join(Parent(ownerUID, "", prev.Bucket), key)] = nil
		m[store.Join(Parent(ownerUID, prevFolder, prev.Bucket), key)] = nil
	}
	if next != nil {
		key := Key(next.DueAt, cardID)
		m[store.Join(Parent(ownerUID, "", next.Bucket), key)] = cardID
		m[store.Join(Parent(ownerUID, nextFolder, next.Bucket), key)] = cardID
	}
}

// Read returns up to limit card ids due in the given bucket, in due
// order, scoped to folderID when non-empty. The returned cursor resumes
// the scan; it is empty when the bucket is exhausted.
func Read(ctx context.Context, st store.Store, ownerUID, folderID string, bucket domain.Bucket, startAfter string, limit int) ([]string, string, error) {
	kvs, err := st.GetRange(ctx, Parent(ownerUID, folderID, bucket), startAfter, limit)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s index for %s: %w", bucket, ownerUID, err)
	}
	ids := make([]string, 0, len(kvs))
	cursor := ""
	for _, kv := range kvs {
		var id string
		if err := json.Unmarshal(kv.Value, &id); err != nil {
			return nil, "", fmt.Errorf("corrupt index entry %s: %w", kv.Key, err)
		}
		ids = append(ids, id)
		cursor = kv.Key
	}
	if limit > 0 && len(kvs) < limit {
		cursor = ""
	}
	return ids, cursor, nil
}
