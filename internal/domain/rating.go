package domain

import "fmt"

// Rating is the user's response to a card review.
type Rating string

const (
	RatingError Rating = "error"
	RatingBad   Rating = "bad"
	RatingGood  Rating = "good"
	RatingEasy  Rating = "easy"
)

// ratingScores maps each rating to its contribution to the ease smoothing.
// The table is closed: an unknown rating has no score rather than silently
// counting as "good".
var ratingScores = map[Rating]float64{
	RatingError: 0,
	RatingBad:   0.3,
	RatingGood:  0.7,
	RatingEasy:  1.0,
}

// Score returns the smoothing score for r and whether r is a known rating.
func (r Rating) Score() (float64, bool) {
	s, ok := ratingScores[r]
	return s, ok
}

// ParseRating converts a wire string into a Rating.
func ParseRating(s string) (Rating, error) {
	r := Rating(s)
	if _, ok := ratingScores[r]; !ok {
		return "", fmt.Errorf("unknown rating %q", s)
	}
	return r, nil
}
