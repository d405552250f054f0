package domain

// CardType describes the content shape of a card. Scheduling is
// independent of the type.
type CardType string

const (
	CardBasic    CardType = "basic"
	CardCloze    CardType = "cloze"
	CardOrdering CardType = "ordering"
)

// SrsState is the scheduling state embedded in every card.
//
// Bucket is a materialized classification of DueAt as of the last write,
// not re-derived on read: the due-order index is keyed by it.
type SrsState struct {
	Bucket         Bucket   `json:"bucket"`
	DueAt          int64    `json:"dueAt"` // unix milliseconds
	IntervalDays   int      `json:"intervalDays"`
	Repetitions    int      `json:"repetitions"`
	Lapses         int      `json:"lapses"`
	Ease           float64  `json:"ease"`
	LastReviewedAt int64    `json:"lastReviewedAt,omitempty"` // unix milliseconds, 0 if never
	LastRatings    []Rating `json:"lastRatings,omitempty"`    // most recent last, at most 3
}

// Card represents a single flashcard within its owner's card set.
type Card struct {
	ID        string   `json:"id"`
	FolderID  string   `json:"folderId"`
	Type      CardType `json:"type"`
	Front     string   `json:"front"`
	Back      string   `json:"back"`
	Tags      []string `json:"tags,omitempty"`
	Srs       SrsState `json:"srs"`
	CreatedAt int64    `json:"createdAt"` // unix milliseconds
}

// HasAnyTag reports whether the card carries at least one of the given tags.
func (c Card) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, got := range c.Tags {
			if got == want {
				return true
			}
		}
	}
	return false
}

// HasAllTags reports whether the card carries every one of the given tags.
func (c Card) HasAllTags(tags []string) bool {
	for _, want := range tags {
		found := false
		for _, got := range c.Tags {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
