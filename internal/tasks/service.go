// Package tasks exposes the rep-facing task operations. Completing,
// cancelling, or deleting a sequence-bound task runs the progression
// engine inside the same transaction as the status change, so the task
// mutation and the follow-on activation commit or roll back together.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/tablelift/cadence/internal/db"
	"github.com/tablelift/cadence/internal/logging"
	"github.com/tablelift/cadence/internal/models"
	"github.com/tablelift/cadence/internal/progression"
)

// Service errors.
var (
	ErrTaskAlreadyDone = errors.New("task is already completed or cancelled")
)

// Service coordinates task state changes with sequence progression.
type Service struct {
	database *db.DB
	tasks    *db.TaskRepository
	engine   *progression.Engine
	logger   zerolog.Logger

	now func() time.Time
}

// NewService creates a new task Service.
func NewService(database *db.DB, tasks *db.TaskRepository, engine *progression.Engine) *Service {
	return &Service{
		database: database,
		tasks:    tasks,
		engine:   engine,
		logger:   logging.Component("tasks"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput is the payload for Create.
type CreateInput struct {
	RestaurantID  string              `json:"restaurant_id,omitempty"`
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	Type          models.TaskType     `json:"type"`
	Priority      models.TaskPriority `json:"priority,omitempty"`
	Message       string              `json:"message,omitempty"`
	Subject       string              `json:"subject,omitempty"`
	DueDate       *time.Time          `json:"due_date,omitempty"`
	AssignedOwner string              `json:"assigned_owner,omitempty"`
}

// Create inserts a standalone task. Standalone tasks never trigger
// progression; completing one only updates its own row.
func (s *Service) Create(ctx context.Context, orgID string, input CreateInput) (*models.Task, error) {
	task := &models.Task{
		OrgID:         orgID,
		RestaurantID:  input.RestaurantID,
		Name:          input.Name,
		Description:   input.Description,
		Type:          input.Type,
		Priority:      input.Priority,
		Message:       input.Message,
		Subject:       input.Subject,
		Status:        models.TaskStatusActive,
		DueDate:       input.DueDate,
		AssignedOwner: input.AssignedOwner,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info().Str("task_id", task.ID).Str("type", string(task.Type)).Msg("task created")
	return task, nil
}

// Complete marks a task done. For a sequence-bound task the same
// transaction also advances the instance: the next pending step
// activates, or the instance completes when no pending step remains.
// Completing an already-terminal task returns ErrTaskAlreadyDone and
// does not advance the sequence a second time.
func (s *Service) Complete(ctx context.Context, orgID, id string) (*models.Task, error) {
	return s.mutate(ctx, orgID, id, func(ctx context.Context, tx *sql.Tx, task *models.Task) error {
		now := s.now()
		if err := s.tasks.MarkCompletedTx(ctx, tx, task.ID, now); err != nil {
			return err
		}
		task.Status = models.TaskStatusCompleted
		task.CompletedAt = &now
		if !task.SequenceBound() {
			return nil
		}
		return s.engine.OnTaskCompleted(ctx, tx, task)
	})
}

// Cancel marks a task cancelled without recording a completion. If the
// cancelled task was the active step of a sequence, the sequence moves
// on past it.
func (s *Service) Cancel(ctx context.Context, orgID, id string) (*models.Task, error) {
	return s.mutate(ctx, orgID, id, func(ctx context.Context, tx *sql.Tx, task *models.Task) error {
		prior := *task
		if err := s.tasks.MarkCancelledTx(ctx, tx, task.ID); err != nil {
			return err
		}
		task.Status = models.TaskStatusCancelled
		if !task.SequenceBound() {
			return nil
		}
		return s.engine.OnTaskCancelled(ctx, tx, &prior)
	})
}

// Delete removes a task row entirely. Deleting the active step of a
// sequence behaves like completing it for progression purposes, so a
// rep pruning an irrelevant step does not stall the instance.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	task, err := s.tasks.Get(ctx, orgID, id)
	if err != nil {
		return err
	}

	run := func() error {
		return s.database.WithTx(ctx, func(tx *sql.Tx) error {
			if err := s.tasks.DeleteTx(ctx, tx, orgID, id); err != nil {
				return err
			}
			if !task.SequenceBound() {
				return nil
			}
			return s.engine.OnTaskDeleted(ctx, tx, task)
		})
	}

	if err := run(); err != nil {
		if errors.Is(err, db.ErrConcurrencyConflict) {
			return run()
		}
		return err
	}
	s.logger.Info().Str("task_id", id).Msg("task deleted")
	return nil
}

// mutate loads the task inside a transaction, rejects terminal tasks,
// applies fn, and retries once on a busy-database conflict.
func (s *Service) mutate(ctx context.Context, orgID, id string, fn func(ctx context.Context, tx *sql.Tx, task *models.Task) error) (*models.Task, error) {
	var result *models.Task
	run := func() error {
		result = nil
		return s.database.WithTx(ctx, func(tx *sql.Tx) error {
			task, err := s.tasks.GetForUpdateTx(ctx, tx, orgID, id)
			if err != nil {
				return err
			}
			if task.Status.Terminal() {
				return ErrTaskAlreadyDone
			}
			if err := fn(ctx, tx, task); err != nil {
				return err
			}
			result = task
			return nil
		})
	}

	if err := run(); err != nil {
		if errors.Is(err, db.ErrConcurrencyConflict) {
			if err := run(); err != nil {
				return nil, err
			}
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

// Get retrieves a task by ID.
func (s *Service) Get(ctx context.Context, orgID, id string) (*models.Task, error) {
	return s.tasks.Get(ctx, orgID, id)
}

// ListForInstance retrieves every task of a sequence instance ordered
// by step.
func (s *Service) ListForInstance(ctx context.Context, orgID, instanceID string) ([]*models.Task, error) {
	return s.tasks.ListForInstance(ctx, orgID, instanceID)
}

// ListForRestaurant retrieves every task attached to a restaurant.
func (s *Service) ListForRestaurant(ctx context.Context, orgID, restaurantID string) ([]*models.Task, error) {
	return s.tasks.ListForRestaurant(ctx, orgID, restaurantID)
}
