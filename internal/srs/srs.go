package srs

import (
	"math"
	"time"

	"github.com/conorfennell/recalldeck/internal/domain"
)

const (
	// DefaultEase is the starting ease for a freshly created card.
	DefaultEase = 2.5

	// ratingWindow is how many recent ratings feed the ease smoothing.
	ratingWindow = 3

	dayMillis = int64(24 * time.Hour / time.Millisecond)
)

// Params holds the tunable constants of the scheduling heuristic.
type Params struct {
	EaseFloor        float64 // ease never drops below this
	PrevEaseWeight   float64 // weight of the stored ease in the smoothed ease
	ErrorIntervalMul float64 // interval multiplier on an error rating
	BadIntervalMul   float64 // interval multiplier on a bad rating
	EasyBonus        float64 // added to the smoothed ease on an easy rating
	ErrorEaseDrop    float64 // subtracted from ease on an error rating
	BadEaseDrop      float64 // subtracted from ease on a bad rating
	EasyEaseGain     float64 // added to ease on an easy rating
	DefaultMeanScore float64 // mean score assumed for an empty rating history
}

// DefaultParams returns the parameters the heuristic was tuned with.
// There is deliberately no ease ceiling: sustained easy ratings let the
// ease grow without bound.
func DefaultParams() *Params {
	return &Params{
		EaseFloor:        1.3,
		PrevEaseWeight:   0.6,
		ErrorIntervalMul: 0.2,
		BadIntervalMul:   1.2,
		EasyBonus:        0.3,
		ErrorEaseDrop:    0.3,
		BadEaseDrop:      0.15,
		EasyEaseGain:     0.1,
		DefaultMeanScore: 0.7,
	}
}

// NewCardState is the scheduling state of a card at creation time: bucket
// "new", due immediately. Creation bypasses Classify; "new" is not
// reachable from it.
func NewCardState(now time.Time) domain.SrsState {
	return domain.SrsState{
		Bucket: domain.BucketNew,
		DueAt:  now.UnixMilli(),
		Ease:   DefaultEase,
	}
}

// Classify maps a due time onto one of the five non-"new" buckets. It is
// total: anything overdue counts as immediate.
func Classify(dueAt, now int64) domain.Bucket {
	diff := dueAt - now
	if diff < 0 {
		diff = 0
	}
	switch {
	case diff <= int64(30*time.Minute/time.Millisecond):
		return domain.BucketImmediate
	case diff <= dayMillis:
		return domain.BucketLt24h
	case diff <= 2*dayMillis:
		return domain.BucketTomorrow
	case diff <= 7*dayMillis:
		return domain.BucketWeek
	default:
		return domain.BucketFuture
	}
}

// NextState computes the scheduling state that follows rating a card.
// It is pure and deterministic given now, and never fails: an unknown
// rating is treated as carrying no score, which only affects smoothing.
func (p *Params) NextState(prev domain.SrsState, rating domain.Rating, now time.Time) domain.SrsState {
	prevInterval := prev.IntervalDays
	if prevInterval < 1 {
		// Infer the last interval from the stored schedule. New cards
		// (no review yet) floor at one day.
		if prev.DueAt > 0 && prev.LastReviewedAt > 0 && prev.DueAt > prev.LastReviewedAt {
			prevInterval = int((prev.DueAt - prev.LastReviewedAt) / dayMillis)
		}
		if prevInterval < 1 {
			prevInterval = 1
		}
	}

	prevEase := prev.Ease
	if prevEase < p.EaseFloor {
		prevEase = p.EaseFloor
	}

	ratings := appendRating(prev.LastRatings, rating)
	effectiveEase := prevEase*p.PrevEaseWeight +
		(p.EaseFloor + p.meanScore(ratings)*1.2)*(1-p.PrevEaseWeight)

	next := domain.SrsState{
		Repetitions: prev.Repetitions,
		Lapses:      prev.Lapses,
		Ease:        prevEase,
		LastRatings: ratings,
	}

	var intervalDays int
	switch rating {
	case domain.RatingError:
		next.Repetitions = 0
		next.Lapses++
		next.Ease = math.Max(p.EaseFloor, prevEase-p.ErrorEaseDrop)
		intervalDays = int(math.Floor(float64(prevInterval) * p.ErrorIntervalMul))
	case domain.RatingBad:
		next.Repetitions++
		next.Ease = math.Max(p.EaseFloor, prevEase-p.BadEaseDrop)
		intervalDays = int(math.Floor(float64(prevInterval) * p.BadIntervalMul))
	case domain.RatingEasy:
		next.Repetitions++
		next.Ease = prevEase + p.EasyEaseGain
		intervalDays = int(math.Floor(float64(prevInterval) * (effectiveEase + p.EasyBonus)))
	default: // good
		next.Repetitions++
		intervalDays = int(math.Floor(float64(prevInterval) * effectiveEase))
	}
	if intervalDays < 1 {
		intervalDays = 1
	}

	next.IntervalDays = intervalDays
	next.DueAt = now.UnixMilli() + int64(intervalDays)*dayMillis
	next.Bucket = Classify(next.DueAt, now.UnixMilli())
	next.LastReviewedAt = now.UnixMilli()
	return next
}

// meanScore averages the scores of the rolling rating window.
func (p *Params) meanScore(ratings []domain.Rating) float64 {
	var sum float64
	var n int
	for _, r := range ratings {
		if s, ok := r.Score(); ok {
			sum += s
			n++
		}
	}
	if n == 0 {
		return p.DefaultMeanScore
	}
	return sum / float64(n)
}

func appendRating(prev []domain.Rating, r domain.Rating) []domain.Rating {
	out := make([]domain.Rating, 0, ratingWindow)
	out = append(out, prev...)
	out = append(out, r)
	if len(out) > ratingWindow {
		out = out[len(out)-ratingWindow:]
	}
	return out
}
