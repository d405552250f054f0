// Package session holds the per-session review state: the built queue,
// the presentation pointer, and the commit path that turns a rating into
// a scheduling update. All mutable state lives on the Session value;
// nothing here is global, so concurrent sessions never interfere.
package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/recalldeck/internal/access"
	"github.com/conorfennell/recalldeck/internal/cards"
	"github.com/conorfennell/recalldeck/internal/domain"
	"github.com/conorfennell/recalldeck/internal/logger"
	"github.com/conorfennell/recalldeck/internal/srs"
	"github.com/conorfennell/recalldeck/internal/stats"
)

var (
	// ErrNothingToReview reports an empty or unsatisfiable queue
	// request. It is a user-facing condition, not a crash.
	ErrNothingToReview = errors.New("nothing to review")

	ErrNoActiveCard = errors.New("no active card")
	ErrNotRevealed  = errors.New("answer not revealed")
)

// Phase is the review state machine position for the current card.
type Phase string

const (
	PhaseIdle  Phase = "idle"
	PhaseFront Phase = "card-shown-front"
	PhaseBack  Phase = "card-shown-back"
)

// TagFilterMode selects how a non-empty tag filter matches.
type TagFilterMode string

const (
	// TagFilterAny passes a card when any of its tags is in the filter.
	// This is the default and the only mode the UI exposes today.
	TagFilterAny TagFilterMode = "any"
	// TagFilterAll passes a card only when it carries every filter tag.
	TagFilterAll TagFilterMode = "all"
)

// Options parameterize one queue build.
type Options struct {
	Selections    []string        `json:"selections" validate:"required,min=1"`
	Buckets       []domain.Bucket `json:"buckets" validate:"required,min=1"`
	MaxNew        int             `json:"maxNew" validate:"min=0"`
	MaxReviews    int             `json:"maxReviews" validate:"min=0"`
	TagFilter     []string        `json:"tagFilter"`
	TagFilterMode TagFilterMode   `json:"tagFilterMode" validate:"omitempty,oneof=any all"`
}

// QueuedCard is a card plus the access metadata of the selection it was
// pulled under, which the commit path needs for permission checks.
type QueuedCard struct {
	domain.Card
	Context domain.ReviewContext `json:"context"`
}

// Session is one bounded sequence of card presentations.
type Session struct {
	ID string

	callerUID string
	repo      *cards.Repository
	resolver  *access.Resolver
	policy    *srs.Params
	collab    stats.Collaborator
	log       *logger.Logger
	clock     func() time.Time
	rng       *rand.Rand

	mu          sync.Mutex
	queue       []QueuedCard
	pos         int
	phase       Phase
	cache       map[string]*domain.Card
	repaired    bool
	gen         uint64
	applied     uint64
	lastRatedAt time.Time
}

// Option configures a Session at construction.
type Option func(*Session)

// WithClock replaces the time source. Tests use a fixed clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Session) { s.clock = clock }
}

// WithRand replaces the shuffle source. Tests use a seeded one.
func WithRand(rng *rand.Rand) Option {
	return func(s *Session) { s.rng = rng }
}

// New creates an idle session for callerUID.
func New(callerUID string, repo *cards.Repository, resolver *access.Resolver, policy *srs.Params, collab stats.Collaborator, log *logger.Logger, opts ...Option) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		callerUID: callerUID,
		repo:      repo,
		resolver:  resolver,
		policy:    policy,
		collab:    collab,
		log:       log,
		clock:     time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		phase:     PhaseIdle,
		cache:     make(map[string]*domain.Card),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the card under the pointer and the phase it is in.
func (s *Session) Current() (QueuedCard, Phase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.queue) {
		return QueuedCard{}, PhaseIdle, false
	}
	return s.queue[s.pos], s.phase, true
}

// Remaining reports how many cards are left, including the current one.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.queue) {
		return 0
	}
	return len(s.queue) - s.pos
}

// Reveal flips the current card to its back.
func (s *Session) Reveal() (QueuedCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.queue) {
		return QueuedCard{}, ErrNoActiveCard
	}
	s.phase = PhaseBack
	return s.queue[s.pos], nil
}

// Skip advances past the current card without committing anything.
func (s *Session) Skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.queue) {
		return ErrNoActiveCard
	}
	s.advanceLocked()
	return nil
}

// Rate commits a rating for the current card. For writable roles the
// scheduling policy runs and the card plus both index entries are
// written in one atomic update; a write failure leaves the pointer in
// place so the user can retry the same commit. For a viewer the pointer
// advances but nothing is persisted.
func (s *Session) Rate(ctx context.Context, rating domain.Rating) (*domain.Card, error) {
	s.mu.Lock()
	if s.pos >= len(s.queue) {
		s.mu.Unlock()
		return nil, ErrNoActiveCard
	}
	if s.phase != PhaseBack {
		s.mu.Unlock()
		return nil, ErrNotRevealed
	}
	qc := s.queue[s.pos]
	lastRatedAt := s.lastRatedAt
	s.mu.Unlock()

	now := s.clock()
	isNew := qc.Srs.LastReviewedAt == 0
	minutes := 0.0
	if !lastRatedAt.IsZero() {
		minutes = now.Sub(lastRatedAt).Minutes()
	}

	if !qc.Context.Role.CanWrite() {
		// read-only skip: a viewer advances without mutating the
		// owner's scheduling state
		s.log.Debugw("viewer rating discarded", "card_id", qc.Card.ID, "rating", rating)
		s.mu.Lock()
		s.lastRatedAt = now
		s.advanceLocked()
		s.mu.Unlock()
		card := qc.Card
		return &card, nil
	}

	next := s.policy.NextState(qc.Srs, rating, now)
	updated, err := s.repo.ApplyRating(ctx, qc.Context.OwnerUID, qc.Card, next)
	if err != nil {
		// pointer stays on this card; a retry re-attempts the commit
		return nil, err
	}

	if err := s.collab.RecordReview(ctx, s.callerUID, domain.StatsEvent{
		Rating:   rating,
		FolderID: updated.FolderID,
		Tags:     updated.Tags,
		Minutes:  minutes,
		IsNew:    isNew,
	}); err != nil {
		s.log.Warnw("stats event dropped", "card_id", updated.ID, "error", err)
	}

	s.mu.Lock()
	s.cache[qc.Context.OwnerUID+"/"+updated.ID] = &updated
	s.lastRatedAt = now
	s.advanceLocked()
	s.mu.Unlock()
	return &updated, nil
}

// advanceLocked moves the pointer to the next card. Caller holds the lock.
func (s *Session) advanceLocked() {
	s.pos++
	if s.pos >= len(s.queue) {
		s.phase = PhaseIdle
	} else {
		s.phase = PhaseFront
	}
}
