package session

import (
	"context"
	"fmt"

	"github.com/conorfennell/recalldeck/internal/domain"
	"github.com/conorfennell/recalldeck/internal/dueindex"
)

// pulled is one card id read from the due-order index, tagged with the
// access metadata of the selection it came from.
type pulled struct {
	ownerUID string
	cardID   string
	rctx     domain.ReviewContext
}

// BuildQueue assembles the ordered, capped, deduplicated review queue
// for the given options and installs it as the session's current queue.
// A build that finishes after a newer one started is discarded
// (last-applied-wins).
func (s *Session) BuildQueue(ctx context.Context, opts Options) ([]QueuedCard, error) {
	enabled := make(map[domain.Bucket]bool)
	for _, b := range opts.Buckets {
		if b.Valid() {
			enabled[b] = true
		}
	}
	if len(enabled) == 0 {
		return nil, ErrNothingToReview
	}
	if opts.MaxNew < 0 {
		opts.MaxNew = 0
	}
	if opts.MaxReviews < 0 {
		opts.MaxReviews = 0
	}
	if opts.MaxNew+opts.MaxReviews == 0 {
		return nil, ErrNothingToReview
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	selections, err := s.resolver.ResolveAll(ctx, s.callerUID, opts.Selections)
	if err != nil {
		return nil, err
	}
	if len(selections) == 0 {
		return nil, ErrNothingToReview
	}

	// Pull ids per (selection x bucket). The merge below is keyed by
	// card id, so the result is the same for a given input set no
	// matter what order the reads complete in.
	var merged []pulled
	seen := make(map[string]bool)
	for _, sel := range selections {
		ids, err := s.pullSelection(ctx, sel, enabled, opts)
		if err != nil {
			return nil, err
		}
		for _, p := range ids {
			key := p.ownerUID + "/" + p.cardID
			if seen[key] {
				continue // first occurrence keeps its metadata
			}
			seen[key] = true
			merged = append(merged, p)
		}
	}

	// Fetch full records, cache first, and group by the freshly
	// fetched bucket: a card may have changed bucket between the index
	// read and now, and the stale pull bucket must not leak through.
	groups := make(map[domain.Bucket][]QueuedCard)
	for _, p := range merged {
		card, err := s.fetchCard(ctx, p.ownerUID, p.cardID)
		if err != nil {
			return nil, err
		}
		if card == nil {
			s.log.Debugw("index entry without card record", "card_id", p.cardID)
			continue
		}
		if !s.passesTagFilter(*card, opts) {
			continue
		}
		if !enabled[card.Srs.Bucket] {
			continue
		}
		groups[card.Srs.Bucket] = append(groups[card.Srs.Bucket], QueuedCard{
			Card:    *card,
			Context: p.rctx,
		})
	}

	// Shuffle within each bucket to avoid positional bias, then
	// concatenate buckets in priority order under the caps.
	queue := make([]QueuedCard, 0, opts.MaxNew+opts.MaxReviews)
	newTaken, reviewsTaken := 0, 0
	for _, b := range domain.BucketPriority {
		group := groups[b]
		if len(group) == 0 {
			continue
		}
		s.rng.Shuffle(len(group), func(i, j int) {
			group[i], group[j] = group[j], group[i]
		})
		for _, qc := range group {
			if b == domain.BucketNew {
				if newTaken >= opts.MaxNew {
					break
				}
				newTaken++
			} else {
				if reviewsTaken >= opts.MaxReviews {
					break
				}
				reviewsTaken++
			}
			queue = append(queue, qc)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen < s.applied {
		// a newer build already landed
		return queue, nil
	}
	s.applied = gen
	s.queue = queue
	s.pos = 0
	s.lastRatedAt = s.clock()
	if len(queue) > 0 {
		s.phase = PhaseFront
	} else {
		s.phase = PhaseIdle
	}
	return queue, nil
}

// pullSelection reads the due ids for one selection across the enabled
// buckets, falling back to the one-shot index repair when a folder that
// is known to contain cards yields nothing.
func (s *Session) pullSelection(ctx context.Context, sel domain.ReviewSelection, enabled map[domain.Bucket]bool, opts Options) ([]pulled, error) {
	out, err := s.pullOnce(ctx, sel, enabled, opts)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 || sel.FolderID == "" {
		return out, nil
	}

	s.mu.Lock()
	alreadyRepaired := s.repaired
	s.mu.Unlock()
	if alreadyRepaired {
		return out, nil
	}

	folder, err := s.repo.GetFolder(ctx, sel.OwnerUID, sel.FolderID)
	if err != nil {
		return nil, err
	}
	if folder == nil || folder.CardCount == 0 {
		return out, nil
	}

	// The folder claims cards but the index produced nothing: rebuild
	// its entries once per session, then retry the pull.
	s.mu.Lock()
	s.repaired = true
	s.mu.Unlock()
	s.log.Warnw("due index empty for non-empty folder, rebuilding",
		"folder_id", sel.FolderID, "card_count", folder.CardCount)
	if _, err := s.repo.RebuildFolderIndex(ctx, sel.OwnerUID, sel.FolderID); err != nil {
		return nil, fmt.Errorf("index repair failed: %w", err)
	}
	return s.pullOnce(ctx, sel, enabled, opts)
}

func (s *Session) pullOnce(ctx context.Context, sel domain.ReviewSelection, enabled map[domain.Bucket]bool, opts Options) ([]pulled, error) {
	rctx := domain.ReviewContext{
		OwnerUID: sel.OwnerUID,
		Role:     sel.Role,
		Shared:   sel.Shared,
	}
	var out []pulled
	for _, b := range domain.BucketPriority {
		if !enabled[b] {
			continue
		}
		limit := opts.MaxReviews
		if b == domain.BucketNew {
			limit = opts.MaxNew
		}
		if limit == 0 {
			continue
		}
		ids, _, err := dueindex.Read(ctx, s.repo.Store(), sel.OwnerUID, sel.FolderID, b, "", limit)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			out = append(out, pulled{ownerUID: sel.OwnerUID, cardID: id, rctx: rctx})
		}
	}
	return out, nil
}

// fetchCard reads a card through the session-scoped cache.
func (s *Session) fetchCard(ctx context.Context, ownerUID, cardID string) (*domain.Card, error) {
	key := ownerUID + "/" + cardID
	s.mu.Lock()
	card, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return card, nil
	}
	card, err := s.repo.GetCard(ctx, ownerUID, cardID)
	if err != nil {
		return nil, err
	}
	if card != nil {
		s.mu.Lock()
		s.cache[key] = card
		s.mu.Unlock()
	}
	return card, nil
}

func (s *Session) passesTagFilter(card domain.Card, opts Options) bool {
	if len(opts.TagFilter) == 0 {
		return true
	}
	if opts.TagFilterMode == TagFilterAll {
		return card.HasAllTags(opts.TagFilter)
	}
	return card.HasAnyTag(opts.TagFilter)
}
