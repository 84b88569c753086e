// Package instance manages the lifecycle of sequence instances:
// starting a template against a restaurant, pausing, resuming, and
// cancelling.
package instance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/tablelift/cadence/internal/db"
	"github.com/tablelift/cadence/internal/events"
	"github.com/tablelift/cadence/internal/logging"
	"github.com/tablelift/cadence/internal/models"
	"github.com/tablelift/cadence/internal/qualify"
	"github.com/tablelift/cadence/internal/render"
)

// Service errors.
var (
	ErrDuplicateActiveInstance = errors.New("an active or paused instance already exists for this template and restaurant")
	ErrTemplateInactive        = errors.New("template is not active")
	ErrTemplateEmpty           = errors.New("template has no steps")
	ErrInstanceFinished        = errors.New("instance is already completed or cancelled")
	ErrNotPaused               = errors.New("instance is not paused")
)

// Service manages sequence instance lifecycle operations.
type Service struct {
	database    *db.DB
	templates   *db.TemplateRepository
	instances   *db.InstanceRepository
	tasks       *db.TaskRepository
	restaurants *db.RestaurantRepository
	eventRepo   events.Repository
	renderer    render.Renderer
	syncer      qualify.Syncer
	logger      zerolog.Logger

	now func() time.Time
}

// NewService creates a new instance Service.
func NewService(
	database *db.DB,
	templates *db.TemplateRepository,
	instances *db.InstanceRepository,
	tasks *db.TaskRepository,
	restaurants *db.RestaurantRepository,
	eventRepo events.Repository,
	renderer render.Renderer,
	syncer qualify.Syncer,
) *Service {
	return &Service{
		database:    database,
		templates:   templates,
		instances:   instances,
		tasks:       tasks,
		restaurants: restaurants,
		eventRepo:   eventRepo,
		renderer:    renderer,
		syncer:      syncer,
		logger:      logging.Component("instance"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// StartInput is the payload for Start.
type StartInput struct {
	TemplateID    string `json:"template_id"`
	RestaurantID  string `json:"restaurant_id"`
	AssignedOwner string `json:"assigned_owner,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`
}

// StartResult is returned by Start.
type StartResult struct {
	Instance     *models.SequenceInstance `json:"instance"`
	TasksCreated int                      `json:"tasks_created"`
}

// Start materializes a template against a restaurant: one atomic
// transaction inserts the instance and one task per step, with step 1
// active and due now plus its own delay, and every later step pending
// with no due date. The step set is a snapshot; later template edits
// do not touch running instances.
func (s *Service) Start(ctx context.Context, orgID string, input StartInput) (*StartResult, error) {
	tmpl, err := s.templates.Get(ctx, orgID, input.TemplateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.Active {
		return nil, ErrTemplateInactive
	}
	if len(tmpl.Steps) == 0 {
		return nil, ErrTemplateEmpty
	}

	restaurant, err := s.restaurants.Get(ctx, orgID, input.RestaurantID)
	if err != nil {
		return nil, err
	}

	if _, err := s.instances.FindLive(ctx, input.TemplateID, input.RestaurantID); err == nil {
		return nil, ErrDuplicateActiveInstance
	} else if !errors.Is(err, db.ErrInstanceNotFound) {
		return nil, err
	}

	now := s.now()
	inst := &models.SequenceInstance{
		OrgID:            orgID,
		TemplateID:       tmpl.ID,
		RestaurantID:     restaurant.ID,
		Status:           models.InstanceStatusActive,
		CurrentStepOrder: 1,
		TotalSteps:       len(tmpl.Steps),
		AssignedOwner:    input.AssignedOwner,
		CreatedBy:        input.CreatedBy,
		StartedAt:        now,
	}

	// Render outside the transaction; rendering is best-effort and
	// must never block instance creation.
	tasks := make([]*models.Task, 0, len(tmpl.Steps))
	var demoTasks []*models.Task
	for _, step := range tmpl.Steps {
		task := s.materializeTask(orgID, restaurant, inst, step, now)
		tasks = append(tasks, task)
		if step.Type == models.TaskTypeDemoMeeting {
			demoTasks = append(demoTasks, task)
		}
	}

	err = s.database.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.instances.CreateTx(ctx, tx, inst); err != nil {
			if errors.Is(err, db.ErrDuplicateLiveInstance) {
				return ErrDuplicateActiveInstance
			}
			return err
		}
		for _, task := range tasks {
			task.SequenceInstanceID = inst.ID
			if err := s.tasks.CreateTx(ctx, tx, task); err != nil {
				return err
			}
		}
		return events.LogSequenceStartedTx(ctx, s.eventRepo, tx, inst, len(tasks))
	})
	if err != nil {
		return nil, err
	}

	// Qualification sync for demo-meeting steps is best-effort.
	for _, task := range demoTasks {
		data := qualify.QualificationData{
			TaskID:        task.ID,
			AssignedOwner: task.AssignedOwner,
			Fields: map[string]string{
				"restaurant": restaurant.Name,
				"contact":    restaurant.ContactName,
				"email":      restaurant.Email,
			},
		}
		if err := s.syncer.Sync(ctx, restaurant.ID, data); err != nil {
			s.logger.Warn().Err(err).
				Str("instance_id", inst.ID).
				Str("task_id", task.ID).
				Msg("qualification sync failed")
		}
	}

	s.logger.Info().
		Str("instance_id", inst.ID).
		Str("template_id", tmpl.ID).
		Str("restaurant_id", restaurant.ID).
		Int("tasks", len(tasks)).
		Msg("sequence started")

	return &StartResult{Instance: inst, TasksCreated: len(tasks)}, nil
}

func (s *Service) materializeTask(orgID string, restaurant *models.Restaurant, inst *models.SequenceInstance, step *models.SequenceStep, startedAt time.Time) *models.Task {
	message := s.renderBestEffort(step.Message, restaurant, step.StepOrder, "message")
	subject := s.renderBestEffort(step.Subject, restaurant, step.StepOrder, "subject")

	task := &models.Task{
		OrgID:             orgID,
		RestaurantID:      restaurant.ID,
		Name:              step.Name,
		Description:       step.Description,
		Type:              step.Type,
		Priority:          step.Priority,
		Message:           message,
		Subject:           subject,
		Status:            models.TaskStatusPending,
		SequenceStepOrder: step.StepOrder,
		DelayValue:        step.DelayValue,
		DelayUnit:         step.DelayUnit,
		AssignedOwner:     inst.AssignedOwner,
		CreatedAt:         startedAt,
	}

	// The first step activates immediately, due after its own delay
	// measured from sequence start.
	if step.StepOrder == 1 {
		due := startedAt.Add(step.Delay())
		task.Status = models.TaskStatusActive
		task.DueDate = &due
	}
	return task
}

// renderBestEffort renders template text, degrading to the raw text
// with a warning when rendering fails.
func (s *Service) renderBestEffort(text string, restaurant *models.Restaurant, stepOrder int, kind string) string {
	if text == "" {
		return ""
	}
	rendered, err := s.renderer.Render(text, restaurant)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("restaurant_id", restaurant.ID).
			Int("step_order", stepOrder).
			Str("kind", kind).
			Msg("render failed, using raw template text")
		return text
	}
	return rendered
}

// Pause suspends an active instance. Progression events are ignored
// while paused.
func (s *Service) Pause(ctx context.Context, orgID, id string) (*models.SequenceInstance, error) {
	return s.transition(ctx, orgID, id, models.InstanceStatusActive, models.InstanceStatusPaused, models.EventTypeSequencePaused)
}

// Resume reactivates a paused instance. Due dates are left untouched:
// an overdue current task stays overdue rather than being recomputed.
func (s *Service) Resume(ctx context.Context, orgID, id string) (*models.SequenceInstance, error) {
	return s.transition(ctx, orgID, id, models.InstanceStatusPaused, models.InstanceStatusActive, models.EventTypeSequenceResumed)
}

func (s *Service) transition(ctx context.Context, orgID, id string, from, to models.InstanceStatus, eventType models.EventType) (*models.SequenceInstance, error) {
	inst, err := s.instances.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !inst.Status.Live() {
		return nil, ErrInstanceFinished
	}
	if inst.Status != from {
		if from == models.InstanceStatusPaused {
			return nil, ErrNotPaused
		}
		// Pausing an already-paused instance is a no-op.
		return inst, nil
	}

	err = s.database.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.instances.UpdateStatusTx(ctx, tx, id, to); err != nil {
			return err
		}
		return events.LogSequenceStatusTx(ctx, s.eventRepo, tx, id, eventType)
	})
	if err != nil {
		return nil, err
	}

	inst.Status = to
	s.logger.Info().Str("instance_id", id).Str("status", string(to)).Msg("instance status changed")
	return inst, nil
}

// Cancel terminates an instance and every one of its pending or
// active tasks in a single transaction. Completed tasks keep their
// history. Once Cancel returns, no further progression can occur for
// the instance.
func (s *Service) Cancel(ctx context.Context, orgID, id string) (*models.SequenceInstance, error) {
	inst, err := s.instances.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !inst.Status.Live() {
		return nil, ErrInstanceFinished
	}

	now := s.now()
	var cancelled int64
	err = s.database.WithTx(ctx, func(tx *sql.Tx) error {
		n, err := s.tasks.CancelLiveForInstanceTx(ctx, tx, id)
		if err != nil {
			return err
		}
		cancelled = n
		if err := s.instances.MarkCancelledTx(ctx, tx, id, now); err != nil {
			return err
		}
		return events.LogSequenceStatusTx(ctx, s.eventRepo, tx, id, models.EventTypeSequenceCancelled)
	})
	if err != nil {
		return nil, err
	}

	inst.Status = models.InstanceStatusCancelled
	inst.CompletedAt = &now

	s.logger.Info().
		Str("instance_id", id).
		Int64("tasks_cancelled", cancelled).
		Msg("sequence cancelled")
	return inst, nil
}

// Get retrieves an instance by ID.
func (s *Service) Get(ctx context.Context, orgID, id string) (*models.SequenceInstance, error) {
	return s.instances.Get(ctx, orgID, id)
}

// ListForRestaurant retrieves all instances for a restaurant.
func (s *Service) ListForRestaurant(ctx context.Context, orgID, restaurantID string) ([]*models.SequenceInstance, error) {
	return s.instances.ListForRestaurant(ctx, orgID, restaurantID)
}
