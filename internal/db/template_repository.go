package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tablelift/cadence/internal/models"
)

// Template repository errors.
var (
	ErrTemplateNotFound   = errors.New("sequence template not found")
	ErrStepNotFound       = errors.New("sequence step not found")
	ErrDuplicateStepOrder = errors.New("duplicate step order")
)

// TemplateRepository handles sequence template and step persistence.
type TemplateRepository struct {
	db *DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create inserts a template and its steps as one atomic unit.
func (r *TemplateRepository) Create(ctx context.Context, tmpl *models.SequenceTemplate) error {
	if tmpl.ID == "" {
		tmpl.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = now
	}
	tmpl.UpdatedAt = now

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sequence_templates (id, org_id, name, description, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			tmpl.ID,
			tmpl.OrgID,
			tmpl.Name,
			nullString(tmpl.Description),
			boolToInt(tmpl.Active),
			tmpl.CreatedAt.Format(time.RFC3339),
			tmpl.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert template: %w", err)
		}

		for _, step := range tmpl.Steps {
			step.TemplateID = tmpl.ID
			if err := r.insertStep(ctx, tx, step); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *TemplateRepository) insertStep(ctx context.Context, q querier, step *models.SequenceStep) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.Priority == "" {
		step.Priority = models.TaskPriorityMedium
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO sequence_steps (
			id, template_id, step_order, name, description, task_type,
			priority, message, subject, blueprint_id, delay_value, delay_unit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		step.ID,
		step.TemplateID,
		step.StepOrder,
		step.Name,
		nullString(step.Description),
		string(step.Type),
		string(step.Priority),
		nullString(step.Message),
		nullString(step.Subject),
		nullString(step.BlueprintID),
		step.DelayValue,
		string(step.DelayUnit),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateStepOrder
		}
		return fmt.Errorf("failed to insert step: %w", err)
	}
	return nil
}

// Get retrieves a template with its steps ordered by step_order.
func (r *TemplateRepository) Get(ctx context.Context, orgID, id string) (*models.SequenceTemplate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, description, active, created_at, updated_at
		FROM sequence_templates WHERE id = ? AND org_id = ?
	`, id, orgID)

	tmpl, err := scanTemplate(row)
	if err != nil {
		return nil, err
	}

	steps, err := r.listSteps(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	tmpl.Steps = steps
	return tmpl, nil
}

// List retrieves all templates for an organization, without steps.
func (r *TemplateRepository) List(ctx context.Context, orgID string) ([]*models.SequenceTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, name, description, active, created_at, updated_at
		FROM sequence_templates WHERE org_id = ? ORDER BY name
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.SequenceTemplate
	for rows.Next() {
		tmpl, err := scanTemplateFromRows(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	return templates, nil
}

// Update persists name, description and active flag changes.
func (r *TemplateRepository) Update(ctx context.Context, tmpl *models.SequenceTemplate) error {
	tmpl.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE sequence_templates SET name = ?, description = ?, active = ?, updated_at = ?
		WHERE id = ? AND org_id = ?
	`,
		tmpl.Name,
		nullString(tmpl.Description),
		boolToInt(tmpl.Active),
		tmpl.UpdatedAt.Format(time.RFC3339),
		tmpl.ID,
		tmpl.OrgID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// Delete removes a template and its steps.
func (r *TemplateRepository) Delete(ctx context.Context, orgID, id string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sequence_steps WHERE template_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete steps: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM sequence_templates WHERE id = ? AND org_id = ?`, id, orgID)
		if err != nil {
			return fmt.Errorf("failed to delete template: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return ErrTemplateNotFound
		}
		return nil
	})
}

// CountLiveInstances returns how many active or paused instances
// reference the template.
func (r *TemplateRepository) CountLiveInstances(ctx context.Context, templateID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sequence_instances
		WHERE template_id = ? AND status IN ('active', 'paused')
	`, templateID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count live instances: %w", err)
	}
	return count, nil
}

// AddStep inserts a step at the given order, shifting later steps up.
// An order of 0 or beyond the tail appends.
func (r *TemplateRepository) AddStep(ctx context.Context, orgID string, step *models.SequenceStep, atOrder int) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		steps, err := r.listStepsForUpdate(ctx, tx, orgID, step.TemplateID)
		if err != nil {
			return err
		}

		if atOrder <= 0 || atOrder > len(steps)+1 {
			atOrder = len(steps) + 1
		}
		step.StepOrder = atOrder

		// Shift the tail out of the way in two passes so the unique
		// (template_id, step_order) index never trips mid-update.
		if _, err := tx.ExecContext(ctx, `
			UPDATE sequence_steps SET step_order = -(step_order + 1)
			WHERE template_id = ? AND step_order >= ?
		`, step.TemplateID, atOrder); err != nil {
			return fmt.Errorf("failed to shift steps: %w", err)
		}
		if err := r.insertStep(ctx, tx, step); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sequence_steps SET step_order = -step_order
			WHERE template_id = ? AND step_order < 0
		`, step.TemplateID); err != nil {
			return fmt.Errorf("failed to restore step order: %w", err)
		}
		return r.touchTemplate(ctx, tx, step.TemplateID)
	})
}

// UpdateStep persists blueprint and delay changes. Order is not
// touched here; use Reorder for that.
func (r *TemplateRepository) UpdateStep(ctx context.Context, orgID string, step *models.SequenceStep) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE sequence_steps SET
				name = ?, description = ?, task_type = ?, priority = ?,
				message = ?, subject = ?, blueprint_id = ?, delay_value = ?, delay_unit = ?
			WHERE id = ? AND template_id IN (SELECT id FROM sequence_templates WHERE org_id = ?)
		`,
			step.Name,
			nullString(step.Description),
			string(step.Type),
			string(step.Priority),
			nullString(step.Message),
			nullString(step.Subject),
			nullString(step.BlueprintID),
			step.DelayValue,
			string(step.DelayUnit),
			step.ID,
			orgID,
		)
		if err != nil {
			return fmt.Errorf("failed to update step: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return ErrStepNotFound
		}
		return r.touchTemplate(ctx, tx, step.TemplateID)
	})
}

// DeleteStep removes a step and renumbers the remaining steps so
// orders stay contiguous from 1.
func (r *TemplateRepository) DeleteStep(ctx context.Context, orgID, templateID, stepID string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		steps, err := r.listStepsForUpdate(ctx, tx, orgID, templateID)
		if err != nil {
			return err
		}

		found := false
		for _, s := range steps {
			if s.ID == stepID {
				found = true
				break
			}
		}
		if !found {
			return ErrStepNotFound
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM sequence_steps WHERE id = ?`, stepID); err != nil {
			return fmt.Errorf("failed to delete step: %w", err)
		}

		ids := make([]string, 0, len(steps)-1)
		for _, s := range steps {
			if s.ID == stepID {
				continue
			}
			ids = append(ids, s.ID)
		}
		if err := r.rewriteOrder(ctx, tx, templateID, ids); err != nil {
			return err
		}
		return r.touchTemplate(ctx, tx, templateID)
	})
}

// Reorder atomically rewrites step_order for all steps of a template.
// orderedIDs must mention every step exactly once; the i-th ID receives
// order i+1. On any failure the original order remains observable.
func (r *TemplateRepository) Reorder(ctx context.Context, orgID, templateID string, orderedIDs []string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		steps, err := r.listStepsForUpdate(ctx, tx, orgID, templateID)
		if err != nil {
			return err
		}

		if len(orderedIDs) != len(steps) {
			return ErrDuplicateStepOrder
		}
		known := make(map[string]bool, len(steps))
		for _, s := range steps {
			known[s.ID] = true
		}
		seen := make(map[string]bool, len(orderedIDs))
		for _, id := range orderedIDs {
			if !known[id] || seen[id] {
				return ErrDuplicateStepOrder
			}
			seen[id] = true
		}

		if err := r.rewriteOrder(ctx, tx, templateID, orderedIDs); err != nil {
			return err
		}
		return r.touchTemplate(ctx, tx, templateID)
	})
}

// rewriteOrder assigns orders 1..n to the given step IDs, negating
// first so the unique index never sees a transient duplicate.
func (r *TemplateRepository) rewriteOrder(ctx context.Context, tx *sql.Tx, templateID string, orderedIDs []string) error {
	for i, id := range orderedIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sequence_steps SET step_order = ? WHERE id = ? AND template_id = ?
		`, -(i + 1), id, templateID); err != nil {
			return fmt.Errorf("failed to stage step order: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sequence_steps SET step_order = -step_order
		WHERE template_id = ? AND step_order < 0
	`, templateID); err != nil {
		return fmt.Errorf("failed to apply step order: %w", err)
	}
	return nil
}

func (r *TemplateRepository) touchTemplate(ctx context.Context, q querier, templateID string) error {
	_, err := q.ExecContext(ctx, `UPDATE sequence_templates SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), templateID)
	if err != nil {
		return fmt.Errorf("failed to touch template: %w", err)
	}
	return nil
}

func (r *TemplateRepository) listStepsForUpdate(ctx context.Context, tx *sql.Tx, orgID, templateID string) ([]*models.SequenceStep, error) {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sequence_templates WHERE id = ? AND org_id = ?`,
		templateID, orgID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check template: %w", err)
	}
	if exists == 0 {
		return nil, ErrTemplateNotFound
	}
	return r.listSteps(ctx, tx, templateID)
}

func (r *TemplateRepository) listSteps(ctx context.Context, q querier, templateID string) ([]*models.SequenceStep, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, template_id, step_order, name, description, task_type,
			priority, message, subject, blueprint_id, delay_value, delay_unit
		FROM sequence_steps WHERE template_id = ? ORDER BY step_order
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.SequenceStep
	for rows.Next() {
		var step models.SequenceStep
		var description, message, subject, blueprintID sql.NullString
		var taskType, priority, delayUnit string
		if err := rows.Scan(
			&step.ID,
			&step.TemplateID,
			&step.StepOrder,
			&step.Name,
			&description,
			&taskType,
			&priority,
			&message,
			&subject,
			&blueprintID,
			&step.DelayValue,
			&delayUnit,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.Description = description.String
		step.Type = models.TaskType(taskType)
		step.Priority = models.TaskPriority(priority)
		step.Message = message.String
		step.Subject = subject.String
		step.BlueprintID = blueprintID.String
		step.DelayUnit = models.DelayUnit(delayUnit)
		steps = append(steps, &step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return steps, nil
}

func scanTemplate(row *sql.Row) (*models.SequenceTemplate, error) {
	var tmpl models.SequenceTemplate
	var description sql.NullString
	var active int
	var createdAt, updatedAt string

	err := row.Scan(&tmpl.ID, &tmpl.OrgID, &tmpl.Name, &description, &active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	tmpl.Description = description.String
	tmpl.Active = active != 0
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		tmpl.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		tmpl.UpdatedAt = t
	}
	return &tmpl, nil
}

func scanTemplateFromRows(rows *sql.Rows) (*models.SequenceTemplate, error) {
	var tmpl models.SequenceTemplate
	var description sql.NullString
	var active int
	var createdAt, updatedAt string

	if err := rows.Scan(&tmpl.ID, &tmpl.OrgID, &tmpl.Name, &description, &active, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	tmpl.Description = description.String
	tmpl.Active = active != 0
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		tmpl.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		tmpl.UpdatedAt = t
	}
	return &tmpl, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
