// Package events provides helper functions for recording Cadence
// activity history.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tablelift/cadence/internal/models"
)

// Repository is the minimal interface needed to write events.
type Repository interface {
	Create(ctx context.Context, event *models.Event) error
	CreateWithTx(ctx context.Context, tx *sql.Tx, event *models.Event) error
}

// LogSequenceStartedTx records a sequence.started event inside the
// start transaction.
func LogSequenceStartedTx(ctx context.Context, repo Repository, tx *sql.Tx, inst *models.SequenceInstance, tasksCreated int) error {
	payload, err := json.Marshal(models.SequenceStartedPayload{
		TemplateID:   inst.TemplateID,
		RestaurantID: inst.RestaurantID,
		TotalSteps:   inst.TotalSteps,
		TasksCreated: tasksCreated,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal started payload: %w", err)
	}

	return repo.CreateWithTx(ctx, tx, &models.Event{
		Type:       models.EventTypeSequenceStarted,
		EntityType: models.EntityTypeInstance,
		EntityID:   inst.ID,
		Payload:    payload,
	})
}

// LogSequenceStatusTx records a pause/resume/cancel transition.
func LogSequenceStatusTx(ctx context.Context, repo Repository, tx *sql.Tx, instanceID string, eventType models.EventType) error {
	return repo.CreateWithTx(ctx, tx, &models.Event{
		Type:       eventType,
		EntityType: models.EntityTypeInstance,
		EntityID:   instanceID,
	})
}

// LogSequenceCompletedTx records sequence.completed inside the
// progression transaction that finished the instance.
func LogSequenceCompletedTx(ctx context.Context, repo Repository, tx *sql.Tx, inst *models.SequenceInstance, finalStep int) error {
	payload, err := json.Marshal(models.SequenceCompletedPayload{
		TemplateID:   inst.TemplateID,
		RestaurantID: inst.RestaurantID,
		FinalStep:    finalStep,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal completed payload: %w", err)
	}

	return repo.CreateWithTx(ctx, tx, &models.Event{
		Type:       models.EventTypeSequenceCompleted,
		EntityType: models.EntityTypeInstance,
		EntityID:   inst.ID,
		Payload:    payload,
	})
}

// LogTaskActivatedTx records a task.activated event inside the
// progression transaction.
func LogTaskActivatedTx(ctx context.Context, repo Repository, tx *sql.Tx, task *models.Task, due time.Time, triggeredBy string) error {
	payload, err := json.Marshal(models.TaskActivatedPayload{
		TaskID:      task.ID,
		StepOrder:   task.SequenceStepOrder,
		DueDate:     due.UTC().Format(time.RFC3339),
		TriggeredBy: triggeredBy,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal activated payload: %w", err)
	}

	return repo.CreateWithTx(ctx, tx, &models.Event{
		Type:       models.EventTypeTaskActivated,
		EntityType: models.EntityTypeInstance,
		EntityID:   task.SequenceInstanceID,
		Payload:    payload,
		Metadata:   map[string]string{"task_id": task.ID},
	})
}

// LogQualificationSynced records a qualification.synced event.
func LogQualificationSynced(ctx context.Context, repo Repository, restaurantID, taskID string, fields int) error {
	payload, err := json.Marshal(models.QualificationSyncedPayload{
		RestaurantID: restaurantID,
		TaskID:       taskID,
		Fields:       fields,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal qualification payload: %w", err)
	}

	return repo.Create(ctx, &models.Event{
		Type:       models.EventTypeQualificationSynced,
		EntityType: models.EntityTypeRestaurant,
		EntityID:   restaurantID,
		Payload:    payload,
	})
}
