package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tablelift/cadence/internal/models"
)

// Instance repository errors.
var (
	ErrInstanceNotFound      = errors.New("sequence instance not found")
	ErrDuplicateLiveInstance = errors.New("live instance already exists for template and restaurant")
)

// InstanceRepository handles sequence instance persistence.
type InstanceRepository struct {
	db *DB
}

// NewInstanceRepository creates a new InstanceRepository.
func NewInstanceRepository(db *DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

const instanceColumns = `id, org_id, template_id, restaurant_id, status,
	current_step_order, total_steps, assigned_owner, created_by, started_at, completed_at`

// CreateTx inserts an instance inside an existing transaction.
// Returns ErrDuplicateLiveInstance if an active or paused instance
// already exists for the same (template, restaurant) pair.
func (r *InstanceRepository) CreateTx(ctx context.Context, tx *sql.Tx, inst *models.SequenceInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.StartedAt.IsZero() {
		inst.StartedAt = time.Now().UTC()
	}
	if inst.Status == "" {
		inst.Status = models.InstanceStatusActive
	}
	if inst.CurrentStepOrder == 0 {
		inst.CurrentStepOrder = 1
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO sequence_instances (
			id, org_id, template_id, restaurant_id, status,
			current_step_order, total_steps, assigned_owner, created_by, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`,
		inst.ID,
		inst.OrgID,
		inst.TemplateID,
		inst.RestaurantID,
		string(inst.Status),
		inst.CurrentStepOrder,
		inst.TotalSteps,
		nullString(inst.AssignedOwner),
		nullString(inst.CreatedBy),
		inst.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateLiveInstance
		}
		return fmt.Errorf("failed to insert instance: %w", err)
	}
	return nil
}

// Get retrieves an instance by ID within an organization.
func (r *InstanceRepository) Get(ctx context.Context, orgID, id string) (*models.SequenceInstance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM sequence_instances WHERE id = ? AND org_id = ?`, id, orgID)
	return scanInstance(row)
}

// GetTx retrieves an instance inside a transaction, without org
// scoping; used by the progression engine which trusts its caller.
func (r *InstanceRepository) GetTx(ctx context.Context, tx *sql.Tx, id string) (*models.SequenceInstance, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM sequence_instances WHERE id = ?`, id)
	return scanInstance(row)
}

// FindLive returns the live (active or paused) instance for a
// (template, restaurant) pair, or ErrInstanceNotFound.
func (r *InstanceRepository) FindLive(ctx context.Context, templateID, restaurantID string) (*models.SequenceInstance, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+` FROM sequence_instances
		WHERE template_id = ? AND restaurant_id = ? AND status IN ('active', 'paused')
	`, templateID, restaurantID)
	return scanInstance(row)
}

// ListForRestaurant retrieves all instances for a restaurant, newest first.
func (r *InstanceRepository) ListForRestaurant(ctx context.Context, orgID, restaurantID string) ([]*models.SequenceInstance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+instanceColumns+` FROM sequence_instances
		WHERE org_id = ? AND restaurant_id = ?
		ORDER BY started_at DESC
	`, orgID, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.SequenceInstance
	for rows.Next() {
		inst, err := scanInstanceFromRows(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}
	return instances, nil
}

// UpdateStatusTx transitions the instance status inside a transaction.
func (r *InstanceRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, status models.InstanceStatus) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE sequence_instances SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update instance status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// AdvancePointerTx raises current_step_order to order if that is an
// increase; smaller values are ignored to keep the pointer monotonic
// under out-of-order completion.
func (r *InstanceRepository) AdvancePointerTx(ctx context.Context, tx *sql.Tx, id string, order int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE sequence_instances SET current_step_order = ?
		WHERE id = ? AND current_step_order < ?
	`, order, id, order)
	if err != nil {
		return fmt.Errorf("failed to advance instance pointer: %w", err)
	}
	return nil
}

// MarkCompletedTx finishes the instance inside a transaction.
func (r *InstanceRepository) MarkCompletedTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE sequence_instances SET status = 'completed', completed_at = ? WHERE id = ?
	`, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to complete instance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// MarkCancelledTx cancels the instance inside a transaction.
func (r *InstanceRepository) MarkCancelledTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE sequence_instances SET status = 'cancelled', completed_at = ? WHERE id = ?
	`, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to cancel instance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// CountActiveTasks returns the number of active tasks in an instance.
// Used by tests to assert the one-active-task invariant.
func (r *InstanceRepository) CountActiveTasks(ctx context.Context, instanceID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks WHERE sequence_instance_id = ? AND status = 'active'
	`, instanceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return count, nil
}

func scanInstance(row *sql.Row) (*models.SequenceInstance, error) {
	var inst models.SequenceInstance
	var status, startedAt string
	var assignedOwner, createdBy, completedAt sql.NullString

	err := row.Scan(
		&inst.ID,
		&inst.OrgID,
		&inst.TemplateID,
		&inst.RestaurantID,
		&status,
		&inst.CurrentStepOrder,
		&inst.TotalSteps,
		&assignedOwner,
		&createdBy,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	fillInstance(&inst, status, startedAt, assignedOwner, createdBy, completedAt)
	return &inst, nil
}

func scanInstanceFromRows(rows *sql.Rows) (*models.SequenceInstance, error) {
	var inst models.SequenceInstance
	var status, startedAt string
	var assignedOwner, createdBy, completedAt sql.NullString

	if err := rows.Scan(
		&inst.ID,
		&inst.OrgID,
		&inst.TemplateID,
		&inst.RestaurantID,
		&status,
		&inst.CurrentStepOrder,
		&inst.TotalSteps,
		&assignedOwner,
		&createdBy,
		&startedAt,
		&completedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	fillInstance(&inst, status, startedAt, assignedOwner, createdBy, completedAt)
	return &inst, nil
}

func fillInstance(inst *models.SequenceInstance, status, startedAt string, assignedOwner, createdBy, completedAt sql.NullString) {
	inst.Status = models.InstanceStatus(status)
	inst.AssignedOwner = assignedOwner.String
	inst.CreatedBy = createdBy.String
	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		inst.StartedAt = t
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			inst.CompletedAt = &t
		}
	}
}
