package models

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the task can no longer transition.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// TaskType is the closed set of outreach task kinds.
type TaskType string

const (
	TaskTypeEmail       TaskType = "email"
	TaskTypeCall        TaskType = "call"
	TaskTypeLinkedIn    TaskType = "linkedin"
	TaskTypeDemoMeeting TaskType = "demo_meeting"
	TaskTypeOther       TaskType = "other"
)

// Valid reports whether the type is one of the known values.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeEmail, TaskTypeCall, TaskTypeLinkedIn, TaskTypeDemoMeeting, TaskTypeOther:
		return true
	}
	return false
}

// TaskPriority ranks tasks for the rep's worklist.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// Task is the human-facing unit of work. A task either stands alone or
// materializes one step of a sequence instance, in which case
// SequenceInstanceID is set and SequenceStepOrder identifies the step.
type Task struct {
	ID           string `json:"id"`
	OrgID        string `json:"org_id"`
	RestaurantID string `json:"restaurant_id,omitempty"`

	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Type        TaskType     `json:"type"`
	Priority    TaskPriority `json:"priority"`

	// Message and Subject hold rendered outreach content.
	Message string `json:"message,omitempty"`
	Subject string `json:"subject,omitempty"`

	Status TaskStatus `json:"status"`

	// DueDate is an advisory deadline. Nil until the task activates.
	DueDate *time.Time `json:"due_date,omitempty"`

	// SequenceInstanceID is empty for standalone tasks.
	SequenceInstanceID string `json:"sequence_instance_id,omitempty"`

	// SequenceStepOrder is the step this task materializes. Only
	// meaningful when SequenceInstanceID is set.
	SequenceStepOrder int `json:"sequence_step_order,omitempty"`

	// DelayValue and DelayUnit snapshot the step's activation delay at
	// instance start, immune to later template edits.
	DelayValue int       `json:"delay_value,omitempty"`
	DelayUnit  DelayUnit `json:"delay_unit,omitempty"`

	AssignedOwner string `json:"assigned_owner,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SequenceBound reports whether the task belongs to a sequence instance.
func (t *Task) SequenceBound() bool {
	return t.SequenceInstanceID != ""
}

// Delay returns the snapshotted activation delay.
func (t *Task) Delay() time.Duration {
	return t.DelayUnit.Duration(t.DelayValue)
}
