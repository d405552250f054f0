package domain

// Bucket is the coarse due-soon classification of a card.
type Bucket string

const (
	BucketNew       Bucket = "new"
	BucketImmediate Bucket = "immediate"
	BucketLt24h     Bucket = "lt24h"
	BucketTomorrow  Bucket = "tomorrow"
	BucketWeek      Bucket = "week"
	BucketFuture    Bucket = "future"
)

// BucketPriority is the fixed pull and presentation order for a review
// session. New cards come last even though UI labels list them first.
var BucketPriority = []Bucket{
	BucketImmediate,
	BucketLt24h,
	BucketTomorrow,
	BucketWeek,
	BucketFuture,
	BucketNew,
}

// Valid reports whether b is one of the known buckets.
func (b Bucket) Valid() bool {
	switch b {
	case BucketNew, BucketImmediate, BucketLt24h, BucketTomorrow, BucketWeek, BucketFuture:
		return true
	}
	return false
}
