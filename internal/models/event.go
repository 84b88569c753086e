package models

import (
	"encoding/json"
	"time"
)

// EventType categorizes events in the system.
type EventType string

const (
	// Sequence instance events
	EventTypeSequenceStarted   EventType = "sequence.started"
	EventTypeSequencePaused    EventType = "sequence.paused"
	EventTypeSequenceResumed   EventType = "sequence.resumed"
	EventTypeSequenceCancelled EventType = "sequence.cancelled"
	EventTypeSequenceCompleted EventType = "sequence.completed"

	// Task events
	EventTypeTaskActivated EventType = "task.activated"
	EventTypeTaskCompleted EventType = "task.completed"
	EventTypeTaskCancelled EventType = "task.cancelled"
	EventTypeTaskDeleted   EventType = "task.deleted"

	// Collaborator events
	EventTypeQualificationSynced EventType = "qualification.synced"

	// System events
	EventTypeWarning EventType = "warning"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeTemplate   EntityType = "template"
	EntityTypeInstance   EntityType = "instance"
	EntityTypeTask       EntityType = "task"
	EntityTypeRestaurant EntityType = "restaurant"
	EntityTypeSystem     EntityType = "system"
)

// Event represents an append-only activity log entry.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the ID of the related entity.
	EntityID string `json:"entity_id"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SequenceStartedPayload is the payload for sequence.started events.
type SequenceStartedPayload struct {
	TemplateID   string `json:"template_id"`
	RestaurantID string `json:"restaurant_id"`
	TotalSteps   int    `json:"total_steps"`
	TasksCreated int    `json:"tasks_created"`
}

// SequenceCompletedPayload is the payload for sequence.completed events.
type SequenceCompletedPayload struct {
	TemplateID   string `json:"template_id"`
	RestaurantID string `json:"restaurant_id"`
	FinalStep    int    `json:"final_step"`
}

// TaskActivatedPayload is the payload for task.activated events.
type TaskActivatedPayload struct {
	TaskID      string `json:"task_id"`
	StepOrder   int    `json:"step_order"`
	DueDate     string `json:"due_date,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// QualificationSyncedPayload is the payload for qualification.synced events.
type QualificationSyncedPayload struct {
	RestaurantID string `json:"restaurant_id"`
	TaskID       string `json:"task_id,omitempty"`
	Fields       int    `json:"fields"`
}
