// Package progression implements the sequence progression state
// machine: it reacts to task completion, deletion, and cancellation,
// activates the next eligible step with a computed due date, and
// completes the instance when no steps remain.
package progression

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tablelift/cadence/internal/db"
	"github.com/tablelift/cadence/internal/events"
	"github.com/tablelift/cadence/internal/logging"
	"github.com/tablelift/cadence/internal/models"
)

// Engine errors.
var (
	ErrNotSequenceTask = errors.New("task does not belong to a sequence instance")
)

// Engine advances sequence instances in response to task lifecycle
// events. Every hook runs inside the caller's transaction so the
// triggering task mutation and the progression update commit as one
// atomic unit: readers never observe an instance with pending work and
// no active task, nor two active tasks at once.
type Engine struct {
	instances *db.InstanceRepository
	tasks     *db.TaskRepository
	events    events.Repository
	logger    zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates a progression Engine.
func NewEngine(instances *db.InstanceRepository, tasks *db.TaskRepository, eventRepo events.Repository) *Engine {
	return &Engine{
		instances: instances,
		tasks:     tasks,
		events:    eventRepo,
		logger:    logging.Component("progression"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnTaskCompleted advances the instance after task completed, using
// the completed task's step order as the reference point. Must be
// called in the same transaction that marked the task completed.
func (e *Engine) OnTaskCompleted(ctx context.Context, tx *sql.Tx, task *models.Task) error {
	return e.progress(ctx, tx, task, "completed")
}

// OnTaskDeleted reacts to a task deletion. Only the removal of an
// active task triggers progression; deleting a pending or completed
// task leaves a permanent gap that later searches skip over.
func (e *Engine) OnTaskDeleted(ctx context.Context, tx *sql.Tx, task *models.Task) error {
	if task.Status != models.TaskStatusActive {
		return nil
	}
	return e.progress(ctx, tx, task, "deleted")
}

// OnTaskCancelled is treated identically to deletion: cancelling the
// active task frees the single active slot.
func (e *Engine) OnTaskCancelled(ctx context.Context, tx *sql.Tx, task *models.Task) error {
	if task.Status != models.TaskStatusActive {
		return nil
	}
	return e.progress(ctx, tx, task, "cancelled")
}

// progress finds the pending task with the smallest step order
// strictly greater than the triggering task's order and activates it,
// or completes the instance when none remains. Searching relative to
// the triggering task, instead of a single global pointer, tolerates
// reps working ahead: an earlier pending step is never skipped and
// still activates when its own predecessor finishes.
func (e *Engine) progress(ctx context.Context, tx *sql.Tx, task *models.Task, trigger string) error {
	if !task.SequenceBound() {
		return ErrNotSequenceTask
	}

	inst, err := e.instances.GetTx(ctx, tx, task.SequenceInstanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance: %w", err)
	}

	// Paused and finished instances do not progress. A late event for
	// a cancelled sequence's task is accepted as a no-op.
	if inst.Status != models.InstanceStatusActive {
		e.logger.Debug().
			Str("instance_id", inst.ID).
			Str("status", string(inst.Status)).
			Str("trigger", trigger).
			Msg("instance not active, skipping progression")
		return nil
	}

	// If another task already holds the active slot, there is nothing
	// to do. This makes replayed events no-ops instead of
	// double-activations.
	active, err := e.tasks.CountActiveTx(ctx, tx, inst.ID)
	if err != nil {
		return err
	}
	if active > 0 {
		e.logger.Debug().
			Str("instance_id", inst.ID).
			Int("active", active).
			Msg("active task present, skipping progression")
		return nil
	}

	next, err := e.tasks.NextPendingTx(ctx, tx, inst.ID, task.SequenceStepOrder)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			return e.complete(ctx, tx, inst, task.SequenceStepOrder)
		}
		return err
	}

	now := e.now()
	due := now.Add(next.Delay())
	if err := e.tasks.ActivateTx(ctx, tx, next.ID, due); err != nil {
		return fmt.Errorf("failed to activate step %d: %w", next.SequenceStepOrder, err)
	}
	if err := e.instances.AdvancePointerTx(ctx, tx, inst.ID, next.SequenceStepOrder); err != nil {
		return err
	}
	if err := events.LogTaskActivatedTx(ctx, e.events, tx, next, due, trigger); err != nil {
		return err
	}

	e.logger.Info().
		Str("instance_id", inst.ID).
		Int("from_step", task.SequenceStepOrder).
		Int("to_step", next.SequenceStepOrder).
		Time("due", due).
		Str("trigger", trigger).
		Msg("step activated")
	return nil
}

func (e *Engine) complete(ctx context.Context, tx *sql.Tx, inst *models.SequenceInstance, finalStep int) error {
	now := e.now()
	if err := e.instances.MarkCompletedTx(ctx, tx, inst.ID, now); err != nil {
		return err
	}
	if err := events.LogSequenceCompletedTx(ctx, e.events, tx, inst, finalStep); err != nil {
		return err
	}

	e.logger.Info().
		Str("instance_id", inst.ID).
		Int("final_step", finalStep).
		Msg("sequence completed")
	return nil
}
