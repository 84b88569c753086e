// Package sequences provides the sequence template store: CRUD over
// reusable outreach templates and their ordered steps.
package sequences

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tablelift/cadence/internal/db"
	"github.com/tablelift/cadence/internal/logging"
	"github.com/tablelift/cadence/internal/models"
)

// Store errors.
var (
	ErrInvalidTemplate  = errors.New("invalid template")
	ErrInvalidStepOrder = errors.New("step orders must be contiguous from 1 with no duplicates")
	ErrTemplateInUse    = errors.New("template has active or paused instances")
)

// Store manages sequence templates and their steps.
type Store struct {
	repo   *db.TemplateRepository
	logger zerolog.Logger
}

// NewStore creates a new template Store.
func NewStore(repo *db.TemplateRepository) *Store {
	return &Store{repo: repo, logger: logging.Component("sequences")}
}

// StepInput describes one step of a template being created or edited.
type StepInput struct {
	StepOrder   int                 `json:"step_order"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Type        models.TaskType     `json:"type"`
	Priority    models.TaskPriority `json:"priority,omitempty"`
	Message     string              `json:"message,omitempty"`
	Subject     string              `json:"subject,omitempty"`
	BlueprintID string              `json:"blueprint_id,omitempty"`
	DelayValue  int                 `json:"delay_value"`
	DelayUnit   models.DelayUnit    `json:"delay_unit"`
}

// CreateTemplateInput is the payload for CreateTemplate.
type CreateTemplateInput struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Steps       []StepInput `json:"steps"`
}

// CreateTemplate validates and persists a template with its steps as
// one atomic unit.
func (s *Store) CreateTemplate(ctx context.Context, orgID string, input CreateTemplateInput) (*models.SequenceTemplate, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization is required", ErrInvalidTemplate)
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if len(input.Steps) == 0 {
		return nil, fmt.Errorf("%w: at least one step is required", ErrInvalidTemplate)
	}

	steps := make([]*models.SequenceStep, 0, len(input.Steps))
	for i, in := range input.Steps {
		step, err := stepFromInput(in, i)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := validateOrderContiguity(steps); err != nil {
		return nil, err
	}

	tmpl := &models.SequenceTemplate{
		OrgID:       orgID,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Active:      true,
		Steps:       steps,
	}
	if err := s.repo.Create(ctx, tmpl); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("template_id", tmpl.ID).
		Str("org_id", orgID).
		Int("steps", len(steps)).
		Msg("template created")
	return tmpl, nil
}

// UpdateTemplateInput is the payload for UpdateTemplate.
type UpdateTemplateInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// UpdateTemplate applies name/description/active changes.
func (s *Store) UpdateTemplate(ctx context.Context, orgID, id string, input UpdateTemplateInput) (*models.SequenceTemplate, error) {
	tmpl, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
		}
		tmpl.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		tmpl.Description = *input.Description
	}
	if input.Active != nil {
		tmpl.Active = *input.Active
	}

	if err := s.repo.Update(ctx, tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// DeleteTemplate removes a template unless a live instance references it.
func (s *Store) DeleteTemplate(ctx context.Context, orgID, id string) error {
	if _, err := s.repo.Get(ctx, orgID, id); err != nil {
		return err
	}

	live, err := s.repo.CountLiveInstances(ctx, id)
	if err != nil {
		return err
	}
	if live > 0 {
		return fmt.Errorf("%w: %d live instance(s)", ErrTemplateInUse, live)
	}

	if err := s.repo.Delete(ctx, orgID, id); err != nil {
		return err
	}
	s.logger.Info().Str("template_id", id).Str("org_id", orgID).Msg("template deleted")
	return nil
}

// GetTemplate retrieves a template with its steps.
func (s *Store) GetTemplate(ctx context.Context, orgID, id string) (*models.SequenceTemplate, error) {
	return s.repo.Get(ctx, orgID, id)
}

// ListTemplates retrieves all templates for an organization.
func (s *Store) ListTemplates(ctx context.Context, orgID string) ([]*models.SequenceTemplate, error) {
	return s.repo.List(ctx, orgID)
}

// AddStep inserts a new step at the given order (0 appends), shifting
// later steps so orders stay contiguous.
func (s *Store) AddStep(ctx context.Context, orgID, templateID string, input StepInput) (*models.SequenceStep, error) {
	step, err := stepFromInput(input, 0)
	if err != nil {
		return nil, err
	}
	step.TemplateID = templateID

	if err := s.repo.AddStep(ctx, orgID, step, input.StepOrder); err != nil {
		return nil, err
	}
	return step, nil
}

// UpdateStep edits a step's blueprint and delay. Order changes go
// through ReorderSteps.
func (s *Store) UpdateStep(ctx context.Context, orgID, templateID, stepID string, input StepInput) (*models.SequenceStep, error) {
	step, err := stepFromInput(input, 0)
	if err != nil {
		return nil, err
	}
	step.ID = stepID
	step.TemplateID = templateID

	if err := s.repo.UpdateStep(ctx, orgID, step); err != nil {
		return nil, err
	}
	return step, nil
}

// DeleteStep removes a step and renumbers the survivors.
func (s *Store) DeleteStep(ctx context.Context, orgID, templateID, stepID string) error {
	return s.repo.DeleteStep(ctx, orgID, templateID, stepID)
}

// ReorderSteps atomically rewrites the order of all steps; a failed
// reorder leaves the original order unchanged.
func (s *Store) ReorderSteps(ctx context.Context, orgID, templateID string, orderedStepIDs []string) error {
	if len(orderedStepIDs) == 0 {
		return fmt.Errorf("%w: ordered step list is required", ErrInvalidStepOrder)
	}
	if err := s.repo.Reorder(ctx, orgID, templateID, orderedStepIDs); err != nil {
		if errors.Is(err, db.ErrDuplicateStepOrder) {
			return fmt.Errorf("%w: %v", ErrInvalidStepOrder, err)
		}
		return err
	}
	s.logger.Debug().Str("template_id", templateID).Msg("steps reordered")
	return nil
}

func stepFromInput(in StepInput, index int) (*models.SequenceStep, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: step %d name is required", ErrInvalidTemplate, index+1)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: step %d has unknown type %q", ErrInvalidTemplate, index+1, in.Type)
	}
	if in.DelayValue < 0 {
		return nil, fmt.Errorf("%w: step %d delay must be non-negative", ErrInvalidTemplate, index+1)
	}
	unit := in.DelayUnit
	if unit == "" {
		unit = models.DelayUnitDays
	}
	if !unit.Valid() {
		return nil, fmt.Errorf("%w: step %d has unknown delay unit %q", ErrInvalidTemplate, index+1, in.DelayUnit)
	}
	priority := in.Priority
	if priority == "" {
		priority = models.TaskPriorityMedium
	}

	return &models.SequenceStep{
		StepOrder:   in.StepOrder,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Type:        in.Type,
		Priority:    priority,
		Message:     in.Message,
		Subject:     in.Subject,
		BlueprintID: in.BlueprintID,
		DelayValue:  in.DelayValue,
		DelayUnit:   unit,
	}, nil
}

func validateOrderContiguity(steps []*models.SequenceStep) error {
	seen := make(map[int]bool, len(steps))
	for _, step := range steps {
		if step.StepOrder < 1 || step.StepOrder > len(steps) {
			return fmt.Errorf("%w: order %d out of range", ErrInvalidStepOrder, step.StepOrder)
		}
		if seen[step.StepOrder] {
			return fmt.Errorf("%w: order %d repeated", ErrInvalidStepOrder, step.StepOrder)
		}
		seen[step.StepOrder] = true
	}
	return nil
}
