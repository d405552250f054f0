package session

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conorfennell/recalldeck/internal/access"
	"github.com/conorfennell/recalldeck/internal/cards"
	"github.com/conorfennell/recalldeck/internal/domain"
	"github.com/conorfennell/recalldeck/internal/dueindex"
	"github.com/conorfennell/recalldeck/internal/logger"
	"github.com/conorfennell/recalldeck/internal/srs"
	"github.com/conorfennell/recalldeck/internal/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type capturingStats struct {
	events []domain.StatsEvent
}

func (c *capturingStats) RecordReview(ctx context.Context, uid string, ev domain.StatsEvent) error {
	c.events = append(c.events, ev)
	return nil
}

// failingStore makes the next n updates fail, for exercising the
// commit-retry path.
type failingStore struct {
	store.Store
	failNext int
}

func (f *failingStore) Update(ctx context.Context, values map[string]any) error {
	if f.failNext > 0 {
		f.failNext--
		return errors.New("store unavailable")
	}
	return f.Store.Update(ctx, values)
}

type fixture struct {
	repo     *cards.Repository
	resolver *access.Resolver
	st       store.Store
	stats    *capturingStats
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	repo := cards.NewRepository(st, logger.NewNop())
	return &fixture{
		repo:     repo,
		resolver: access.NewResolver(repo, logger.NewNop()),
		st:       st,
		stats:    &capturingStats{},
	}
}

func (f *fixture) newSession(uid string) *Session {
	return New(uid, f.repo, f.resolver, srs.DefaultParams(), f.stats, logger.NewNop(),
		WithClock(func() time.Time { return testNow }),
		WithRand(rand.New(rand.NewSource(1))),
	)
}

func (f *fixture) folder(t *testing.T, uid, name string) domain.Folder {
	t.Helper()
	folder, err := f.repo.CreateFolder(context.Background(), uid, name, "/"+name)
	require.NoError(t, err)
	return folder
}

// cardIn creates a card and, unless the bucket is "new", re-files it
// under the given bucket/due time the way a rating would.
func (f *fixture) cardIn(t *testing.T, uid, folderID string, bucket domain.Bucket, due time.Time, tags ...string) domain.Card {
	t.Helper()
	ctx := context.Background()
	card, err := f.repo.CreateCard(ctx, uid, folderID, domain.CardBasic, "q", "a", tags, testNow)
	require.NoError(t, err)
	if bucket == domain.BucketNew {
		return card
	}
	next := card.Srs
	next.Bucket = bucket
	next.DueAt = due.UnixMilli()
	next.IntervalDays = 1
	next.Repetitions = 1
	next.LastReviewedAt = testNow.Add(-24 * time.Hour).UnixMilli()
	card, err = f.repo.ApplyRating(ctx, uid, card, next)
	require.NoError(t, err)
	return card
}

func TestBuildQueueValidation(t *testing.T) {
	f := newFixture(t, nil)
	s := f.newSession("u1")

	_, err := s.BuildQueue(context.Background(), Options{
		Selections: []string{"all"},
		Buckets:    nil,
		MaxNew:     5, MaxReviews: 5,
	})
	require.ErrorIs(t, err, ErrNothingToReview)

	_, err = s.BuildQueue(context.Background(), Options{
		Selections: []string{access.FolderSelection("gone")},
		Buckets:    []domain.Bucket{domain.BucketNew},
		MaxNew:     5, MaxReviews: 5,
	})
	require.ErrorIs(t, err, ErrNothingToReview)
}

func TestBuildQueueCapsAcrossFolders(t *testing.T) {
	f := newFixture(t, nil)
	f1 := f.folder(t, "u1", "one")
	f2 := f.folder(t, "u1", "two")
	for i := 0; i < 10; i++ {
		f.cardIn(t, "u1", f1.ID, domain.BucketLt24h, testNow.Add(time.Hour))
		f.cardIn(t, "u1", f2.ID, domain.BucketLt24h, testNow.Add(2*time.Hour))
	}
	weekCard := f.cardIn(t, "u1", f1.ID, domain.BucketWeek, testNow.Add(5*24*time.Hour))

	s := f.newSession("u1")
	queue, err := s.BuildQueue(context.Background(), Options{
		Selections: []string{access.FolderSelection(f1.ID), access.FolderSelection(f2.ID)},
		Buckets:    []domain.Bucket{domain.BucketLt24h, domain.BucketWeek},
		MaxNew:     0,
		MaxReviews: 5,
	})
	require.NoError(t, err)
	require.Len(t, queue, 5, "review cap applies across folders, not per folder")

	lt24h := 0
	for i, qc := range queue {
		if qc.Srs.Bucket == domain.BucketLt24h {
			lt24h++
			require.Equal(t, i, lt24h-1, "lt24h cards must precede week cards")
		}
	}
	require.LessOrEqual(t, lt24h, 5)
	for _, qc := range queue {
		require.NotEqual(t, weekCard.ID, qc.ID, "week card is beyond the review cap")
	}
}

func TestBuildQueueNewCapAndOrder(t *testing.T) {
	f := newFixture(t, nil)
	folder := f.folder(t, "u1", "mix")
	for i := 0; i < 4; i++ {
		f.cardIn(t, "u1", folder.ID, domain.BucketNew, testNow)
	}
	imm := f.cardIn(t, "u1", folder.ID, domain.BucketImmediate, testNow)

	s := f.newSession("u1")
	queue, err := s.BuildQueue(context.Background(), Options{
		Selections: []string{"all"},
		Buckets:    []domain.Bucket{domain.BucketNew, domain.BucketImmediate},
		MaxNew:     2,
		MaxReviews: 5,
	})
	require.NoError(t, err)
	require.LessOrEqual(t, len(queue), 7)

	newCount := 0
	for _, qc := range queue {
		if qc.Srs.Bucket == domain.BucketNew {
			newCount++
		}
	}
	require.Equal(t, 2, newCount, "new cards are capped by maxNew")
	// new has the lowest priority despite being listed first in UI labels
	require.Equal(t, imm.ID, queue[0].ID)
	require.Equal(t, domain.BucketNew, queue[1].Srs.Bucket)
}

func TestBuildQueueTagFilter(t *testing.T) {
	f := newFixture(t, nil)
	folder := f.folder(t, "u1", "tagged")
	f.cardIn(t, "u1", folder.ID, domain.BucketNew, testNow, "verbs")
	f.cardIn(t, "u1", folder.ID, domain.BucketNew, testNow, "verbs", "irregular")
	f.cardIn(t, "u1", folder.ID, domain.BucketNew, testNow, "nouns")
	f.cardIn(t, "u1", folder.ID, domain.BucketNew, testNow)

	s := f.newSession("u1")
	queue, err := s.BuildQueue(context.Background(), Options{
		Selections: []string{"all"},
		Buckets:    []domain.Bucket{domain.BucketNew},
		MaxNew:     10, MaxReviews: 10,
		TagFilter: []string{"verbs", "irregular"},
	})
	require.NoError(t, err)
	require.Len(t, queue, 2)
	for _, qc := range queue {
		require.True(t, qc.HasAnyTag([]string{"verbs", "irregular"}))
	}

	s2 := f.newSession("u1")
	queue, err = s2.BuildQueue(context.Background(), Options{
		Selections: []string{"all"},
		Buckets:    []domain.Bucket{domain.BucketNew},
		MaxNew:     10, MaxReviews: 10,
		TagFilter:     []string{"verbs", "irregular"},
		TagFilterMode: TagFilterAll,
	})
	require.NoError(t, err)
	require.Len(t, queue, 1, "all-mode requires every filter tag")
}

func TestBuildQueueDeduplicates(t *testing.T) {
	f := newFixture(t, nil)
	folder := f.folder(t, "u1", "dup")
	f.cardIn(t, "u1", folder.ID, domain.BucketNew, testNow)

	s := f.newSession("u1")
	// "all" and the explicit folder both pull the same card
	queue, err := s.BuildQueue(context.Background(), Options{
		Selections: []string{"all", access.FolderSelection(folder.ID)},
		Buckets:    []domain.Bucket{domain.BucketNew},
		MaxNew:     10, MaxReviews: 10,
	})
	require.NoError(t, err)
	require.Len(t, queue, 1)
}

func TestBuildQueueRevokedShareOmitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	folder := f.folder(t, "owner", "shared")
	f.cardIn(t, "owner", folder.ID, domain.BucketNew, testNow)
	own := f.folder(t, "friend", "mine")
	mine := f.cardIn(t, "friend", own.ID, domain.BucketNew, testNow)
	require.NoError(t, f.repo.GrantShare(ctx, "owner", folder.ID, "friend", domain.RoleViewer))
	require.NoError(t, f.repo.RevokeShare(ctx, "owner", folder.ID, "friend"))

	s := f.newSession("friend")
	queue, err := s.BuildQueue(ctx, Options{
		Selections: []string{"all", access.ShareSelection("owner", folder.ID)},
		Buckets:    []domain.Bucket{domain.BucketNew},
		MaxNew:     10, MaxReviews: 10,
	})
	require.NoError(t, err, "revoked share is dropped, not an error")
	require.Len(t, queue, 1)
	require.Equal(t, mine.ID, queue[0].ID)
}

func TestBuildQueueRegroupsByFreshBucket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	folder := f.folder(t, "u1", "stale")
	card := f.cardIn(t, "u1", folder.ID, domain.BucketImmediate, testNow)

	// Move the card's record to week but leave a stale immediate index
	// entry alongside, as if a concurrent device rated it.
	stale := dueindex.Entry{Bucket: domain.BucketImmediate, DueAt: card.Srs.DueAt}
	next := card.Srs
	next.Bucket = domain.BucketWeek
	next.DueAt = testNow.Add(5 * 24 * time.Hour).UnixMilli()
	card, err := f.repo.ApplyRating(ctx, "u1", card, next)
	require.NoError(t, err)
	m := map[string]any{}
	dueindex.Transition(m, "u1", card.ID, "", nil, folder.ID, &stale)
	require.NoError(t, f.st.Update(ctx, m))

	s := f.newSession("u1")
	queue, err := s.BuildQueue(ctx, Options{
		Selections: []string{"all"},
		Buckets:    []domain.Bucket{domain.BucketImmediate, domain.BucketWeek},
		MaxNew:     5, MaxReviews: 5,
	})
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, domain.BucketWeek, queue[0].Srs.Bucket, "grouping uses the fetched state")

	// and a disabled fresh bucket never appears
	s2 := f.newSession("u1")
	queue, err = s2.BuildQueue(ctx, Options{
		Selections: []string{"all"},
		Buckets:    []domain.Bucket{domain.BucketImmediate},
		MaxNew:     5, MaxReviews: 5,
	})
	require.NoError(t, err)
	require.Empty(t, queue)
}

func TestBuildQueueRepairsIndexOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	folder := f.folder(t, "u1", "broken")
	card := f.cardIn(t, "u1", folder.ID, domain.BucketNew, testNow)

	// wipe both index trees; the card record and the folder count survive
	require.NoError(t, f.st.Remove(ctx, "users/u1/queue"))
	require.NoError(t, f.st.Remove(ctx, "users/u1/folderQueue"))

	s := f.newSession("u1")
	queue, err := s.BuildQueue(ctx, Options{
		Selections: []string{access.FolderSelection(folder.ID)},
		Buckets:    []domain.Bucket{domain.BucketNew},
		MaxNew:     5, MaxReviews: 5,
	})
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, card.ID, queue[0].ID)

	// the rebuilt entries are persistent
	ids, _, err := dueindex.Read(ctx, f.st, "u1", folder.ID, domain.BucketNew, "", 0)
	require.NoError(t, err)
	require.Equal(t, []string{card.ID}, ids)

	// repair runs at most once per session: break the index again and
	// rebuild through the same session
	require.NoError(t, f.st.Remove(ctx, "users/u1/queue"))
	require.NoError(t, f.st.Remove(ctx, "users/u1/folderQueue"))
	queue, err = s.BuildQueue(ctx, Options{
		Selections: []string{access.FolderSelection(folder.ID)},
		Buckets:    []domain.Bucket{domain.BucketNew},
		MaxNew:     5, MaxReviews: 5,
	})
	require.NoError(t, err)
	require.Empty(t, queue, "second divergence surfaces as no cards, not a second repair")
}

func TestRateCommitsAndAdvances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	folder := f.folder(t, "u1", "own")
	f.cardIn(t, "u1", folder.ID, domain.BucketNew, testNow)
	f.cardIn(t, "u1", folder.ID, domain.BucketNew, testNow)

	s := f.newSession("u1")
	_, err := s.BuildQueue(ctx, Options{
		Selections: []string{"all"},
		Buckets:    []domain.Bucket{domain.BucketNew},
		MaxNew:     5, MaxReviews: 5,
	})
	require.NoError(t, err)
	require.Equal(t, 2, s.Remaining())

	_, _, ok := s.Current()
	require.True(t, ok)

	// rating before reveal is rejected
	_, err = s.Rate(ctx, domain.RatingGood)
	require.ErrorIs(t, err, ErrNotRevealed)

	first, err := s.Reveal()
	require.NoError(t, err)
	updated, err := s.Rate(ctx, domain.RatingGood)
	require.NoError(t, err)
	require.Equal(t, first.ID, updated.ID)
	require.Equal(t, 1, updated.Srs.Repetitions)
	require.Equal(t, 1, s.Remaining())

	stored, err := f.repo.GetCard(ctx, "u1", updated.ID)
	require.NoError(t, err)
	require.Equal(t, updated.Srs, stored.Srs)

	require.Len(t, f.stats.events, 1)
	require.Equal(t, domain.RatingGood, f.stats.events[0].Rating)
	require.True(t, f.stats.events[0].IsNew)
	require.Equal(t, folder.ID, f.stats.events[0].FolderID)
}

func TestRateViewerDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	folder := f.folder(t, "owner", "shared")
	card := f.cardIn(t, "owner", folder.ID, domain.BucketNew, testNow)
	require.NoError(t, f.repo.GrantShare(ctx, "owner", folder.ID, "friend", domain.RoleViewer))

	s := f.newSession("friend")
	queue, err := s.BuildQueue(ctx, Options{
		Selections: []string{access.ShareSelection("owner", folder.ID)},
		Buckets:    []domain.Bucket{domain.BucketNew},
		MaxNew:     5, MaxReviews: 5,
	})
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, domain.RoleViewer, queue[0].Context.Role)

	before, err := f.repo.GetCard(ctx, "owner", card.ID)
	require.NoError(t, err)

	_, err = s.Reveal()
	require.NoError(t, err)
	_, err = s.Rate(ctx, domain.RatingEasy)
	require.NoError(t, err)
	require.Equal(t, 0, s.Remaining(), "viewer still advances")

	after, err := f.repo.GetCard(ctx, "owner", card.ID)
	require.NoError(t, err)
	require.Equal(t, before.Srs, after.Srs, "viewer rating must not touch the owner's state")
	require.Empty(t, f.stats.events)
}

func TestRateEditorMutatesOwnerState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	folder := f.folder(t, "owner", "shared")
	card := f.cardIn(t, "owner", folder.ID, domain.BucketNew, testNow)
	require.NoError(t, f.repo.GrantShare(ctx, "owner", folder.ID, "friend", domain.RoleEditor))

	s := f.newSession("friend")
	_, err := s.BuildQueue(ctx, Options{
		Selections: []string{access.ShareSelection("owner", folder.ID)},
		Buckets:    []domain.Bucket{domain.BucketNew},
		MaxNew:     5, MaxReviews: 5,
	})
	require.NoError(t, err)

	_, err = s.Reveal()
	require.NoError(t, err)
	_, err = s.Rate(ctx, domain.RatingGood)
	require.NoError(t, err)

	after, err := f.repo.GetCard(ctx, "owner", card.ID)
	require.NoError(t, err)
	require.Equal(t, 1, after.Srs.Repetitions)
}

func TestRateFailedWriteDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: store.NewMemory()}
	f := newFixture(t, fs)
	folder := f.folder(t, "u1", "own")
	f.cardIn(t, "u1", folder.ID, domain.BucketNew, testNow)

	s := f.newSession("u1")
	_, err := s.BuildQueue(ctx, Options{
		Selections: []string{"all"},
		Buckets:    []domain.Bucket{domain.BucketNew},
		MaxNew:     5, MaxReviews: 5,
	})
	require.NoError(t, err)

	current, _, ok := s.Current()
	require.True(t, ok)
	_, err = s.Reveal()
	require.NoError(t, err)

	fs.failNext = 1
	_, err = s.Rate(ctx, domain.RatingGood)
	require.Error(t, err)

	// same card remains current; the retry re-attempts the same commit
	still, phase, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, current.ID, still.ID)
	require.Equal(t, PhaseBack, phase)

	_, err = s.Rate(ctx, domain.RatingGood)
	require.NoError(t, err)
	require.Equal(t, 0, s.Remaining())
}

func TestQueueLengthBound(t *testing.T) {
	f := newFixture(t, nil)
	folder := f.folder(t, "u1", "big")
	for i := 0; i < 20; i++ {
		f.cardIn(t, "u1", folder.ID, domain.BucketNew, testNow)
	}
	for i := 0; i < 20; i++ {
		f.cardIn(t, "u1", folder.ID, domain.BucketImmediate, testNow)
	}

	s := f.newSession("u1")
	queue, err := s.BuildQueue(context.Background(), Options{
		Selections: []string{"all"},
		Buckets:    []domain.Bucket{domain.BucketNew, domain.BucketImmediate},
		MaxNew:     3,
		MaxReviews: 4,
	})
	require.NoError(t, err)
	require.LessOrEqual(t, len(queue), 7)

	newCount := 0
	for _, qc := range queue {
		if qc.Srs.Bucket == domain.BucketNew {
			newCount++
		}
	}
	require.LessOrEqual(t, newCount, 3)
}
