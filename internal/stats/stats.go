// Package stats holds the review-event contract with the external stats
// collaborator. The engine only forwards facts; aggregation and
// dashboards live elsewhere.
package stats

import (
	"context"

	"github.com/conorfennell/recalldeck/internal/domain"
	"github.com/conorfennell/recalldeck/internal/logger"
)

// Collaborator receives one event per committed review. Forwarding is
// best effort: a failure here never fails the commit that produced it.
type Collaborator interface {
	RecordReview(ctx context.Context, uid string, ev domain.StatsEvent) error
}

// LogSink is the default collaborator: it writes the event contract
// fields to the structured log.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink returns a Collaborator backed by the given logger.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) RecordReview(ctx context.Context, uid string, ev domain.StatsEvent) error {
	s.log.Infow("review recorded",
		"uid", uid,
		"rating", ev.Rating,
		"folder_id", ev.FolderID,
		"tags", ev.Tags,
		"minutes", ev.Minutes,
		"is_new", ev.IsNew,
	)
	return nil
}
