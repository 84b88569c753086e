// Package qualify integrates demo-meeting steps with the external
// qualification (demo booking) form.
package qualify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tablelift/cadence/internal/events"
	"github.com/tablelift/cadence/internal/logging"
)

// QualificationData carries the demo-booking fields synced out when a
// demo meeting task is created.
type QualificationData struct {
	TaskID        string            `json:"task_id,omitempty"`
	AssignedOwner string            `json:"assigned_owner,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// Syncer pushes qualification data to the external booking system.
// Sync failures are logged by callers and never abort task creation.
type Syncer interface {
	Sync(ctx context.Context, restaurantID string, data QualificationData) error
}

// LogSyncer is the default Syncer: it records the sync to the event
// log and logger without calling an external system.
type LogSyncer struct {
	repo   events.Repository
	logger zerolog.Logger
}

// NewLogSyncer creates a LogSyncer writing to the given event repository.
func NewLogSyncer(repo events.Repository) *LogSyncer {
	return &LogSyncer{repo: repo, logger: logging.Component("qualify")}
}

// Sync records the qualification payload.
func (s *LogSyncer) Sync(ctx context.Context, restaurantID string, data QualificationData) error {
	s.logger.Info().
		Str("restaurant_id", restaurantID).
		Str("task_id", data.TaskID).
		Int("fields", len(data.Fields)).
		Msg("qualification data synced")

	if s.repo == nil {
		return nil
	}
	return events.LogQualificationSynced(ctx, s.repo, restaurantID, data.TaskID, len(data.Fields))
}
