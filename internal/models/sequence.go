package models

import "time"

// InstanceStatus is the lifecycle state of a sequence instance.
type InstanceStatus string

const (
	InstanceStatusActive    InstanceStatus = "active"
	InstanceStatusPaused    InstanceStatus = "paused"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// Live reports whether the instance still accepts lifecycle operations.
func (s InstanceStatus) Live() bool {
	return s == InstanceStatusActive || s == InstanceStatusPaused
}

// DelayUnit is the unit of a step's activation delay.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// Valid reports whether the unit is one of the known values.
func (u DelayUnit) Valid() bool {
	switch u {
	case DelayUnitMinutes, DelayUnitHours, DelayUnitDays:
		return true
	}
	return false
}

// Duration converts a delay value in this unit to a time.Duration.
func (u DelayUnit) Duration(value int) time.Duration {
	switch u {
	case DelayUnitMinutes:
		return time.Duration(value) * time.Minute
	case DelayUnitHours:
		return time.Duration(value) * time.Hour
	case DelayUnitDays:
		return time.Duration(value) * 24 * time.Hour
	default:
		return 0
	}
}

// SequenceTemplate is a named, reusable outreach blueprint.
type SequenceTemplate struct {
	// ID is the unique identifier for the template.
	ID string `json:"id"`

	// OrgID scopes the template to an organization.
	OrgID string `json:"org_id"`

	// Name is the human-readable template name.
	Name string `json:"name"`

	// Description explains what the sequence is for.
	Description string `json:"description,omitempty"`

	// Active controls whether new instances may be started.
	Active bool `json:"active"`

	// Steps is the ordered list of steps, ascending by StepOrder.
	Steps []*SequenceStep `json:"steps,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SequenceStep is one ordered unit of a template. It carries the task
// blueprint materialized at instance start plus the activation delay,
// measured from the event that unlocks the step.
type SequenceStep struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`

	// StepOrder is the 1-based position within the template.
	// Orders are contiguous with no duplicates.
	StepOrder int `json:"step_order"`

	// Task blueprint.
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Type        TaskType     `json:"type"`
	Priority    TaskPriority `json:"priority"`
	Message     string       `json:"message,omitempty"`
	Subject     string       `json:"subject,omitempty"`

	// BlueprintID optionally links to a reusable task blueprint template.
	BlueprintID string `json:"blueprint_id,omitempty"`

	// DelayValue and DelayUnit express how long after the unlocking
	// event this step's task becomes due.
	DelayValue int       `json:"delay_value"`
	DelayUnit  DelayUnit `json:"delay_unit"`
}

// Delay returns the step's activation delay as a duration.
func (s *SequenceStep) Delay() time.Duration {
	return s.DelayUnit.Duration(s.DelayValue)
}

// SequenceInstance is one running or finished execution of a template
// against one restaurant.
type SequenceInstance struct {
	ID           string `json:"id"`
	OrgID        string `json:"org_id"`
	TemplateID   string `json:"template_id"`
	RestaurantID string `json:"restaurant_id"`

	Status InstanceStatus `json:"status"`

	// CurrentStepOrder tracks the furthest activated step. It only
	// increases while the instance is active.
	CurrentStepOrder int `json:"current_step_order"`

	// TotalSteps is the step count snapshot taken at start time.
	TotalSteps int `json:"total_steps"`

	AssignedOwner string `json:"assigned_owner,omitempty"`
	CreatedBy     string `json:"created_by,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
