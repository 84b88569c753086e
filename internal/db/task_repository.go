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

// Task repository errors.
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrInvalidTask  = errors.New("invalid task")
)

// TaskRepository handles task persistence.
type TaskRepository struct {
	db *DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, org_id, restaurant_id, name, description, task_type, priority,
	message, subject, status, due_date, sequence_instance_id, sequence_step_order,
	delay_value, delay_unit, assigned_owner, created_at, completed_at`

// Create inserts a task outside any transaction.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	return r.createWithExecutor(ctx, r.db, task)
}

// CreateTx inserts a task using an existing transaction.
func (r *TaskRepository) CreateTx(ctx context.Context, tx *sql.Tx, task *models.Task) error {
	if tx == nil {
		return fmt.Errorf("transaction is required")
	}
	return r.createWithExecutor(ctx, tx, task)
}

func (r *TaskRepository) createWithExecutor(ctx context.Context, q querier, task *models.Task) error {
	if task.Name == "" || task.OrgID == "" {
		return ErrInvalidTask
	}
	if !task.Type.Valid() {
		return ErrInvalidTask
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Priority == "" {
		task.Priority = models.TaskPriorityMedium
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.DelayUnit == "" {
		task.DelayUnit = models.DelayUnitDays
	}

	var dueDate, completedAt, instanceID any
	if task.DueDate != nil {
		dueDate = task.DueDate.UTC().Format(time.RFC3339)
	}
	if task.CompletedAt != nil {
		completedAt = task.CompletedAt.UTC().Format(time.RFC3339)
	}
	var stepOrder any
	if task.SequenceInstanceID != "" {
		instanceID = task.SequenceInstanceID
		stepOrder = task.SequenceStepOrder
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (
			id, org_id, restaurant_id, name, description, task_type, priority,
			message, subject, status, due_date, sequence_instance_id, sequence_step_order,
			delay_value, delay_unit, assigned_owner, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID,
		task.OrgID,
		nullString(task.RestaurantID),
		task.Name,
		nullString(task.Description),
		string(task.Type),
		string(task.Priority),
		nullString(task.Message),
		nullString(task.Subject),
		string(task.Status),
		dueDate,
		instanceID,
		stepOrder,
		task.DelayValue,
		string(task.DelayUnit),
		nullString(task.AssignedOwner),
		task.CreatedAt.UTC().Format(time.RFC3339),
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Get retrieves a task by ID within an organization.
func (r *TaskRepository) Get(ctx context.Context, orgID, id string) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND org_id = ?`, id, orgID)
	return scanTask(row)
}

// GetForUpdateTx re-reads a task inside a transaction.
func (r *TaskRepository) GetForUpdateTx(ctx context.Context, tx *sql.Tx, orgID, id string) (*models.Task, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND org_id = ?`, id, orgID)
	return scanTask(row)
}

// NextPendingTx returns the pending task of the instance with the
// smallest step order strictly greater than afterOrder, or
// ErrTaskNotFound when no such task remains.
func (r *TaskRepository) NextPendingTx(ctx context.Context, tx *sql.Tx, instanceID string, afterOrder int) (*models.Task, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE sequence_instance_id = ? AND status = 'pending' AND sequence_step_order > ?
		ORDER BY sequence_step_order
		LIMIT 1
	`, instanceID, afterOrder)
	return scanTask(row)
}

// CountActiveTx counts the instance's tasks currently in active state.
func (r *TaskRepository) CountActiveTx(ctx context.Context, tx *sql.Tx, instanceID string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks WHERE sequence_instance_id = ? AND status = 'active'
	`, instanceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return count, nil
}

// ActivateTx transitions a pending task to active with the given due
// date. It refuses tasks that are no longer pending.
func (r *TaskRepository) ActivateTx(ctx context.Context, tx *sql.Tx, id string, due time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'active', due_date = ? WHERE id = ? AND status = 'pending'
	`, due.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to activate task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkCompletedTx transitions a non-terminal task to completed.
func (r *TaskRepository) MarkCompletedTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'completed', completed_at = ?
		WHERE id = ? AND status IN ('pending', 'active')
	`, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkCancelledTx transitions a non-terminal task to cancelled.
func (r *TaskRepository) MarkCancelledTx(ctx context.Context, tx *sql.Tx, id string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'cancelled' WHERE id = ? AND status IN ('pending', 'active')
	`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// CancelLiveForInstanceTx cancels every pending or active task of an
// instance, returning how many were cancelled.
func (r *TaskRepository) CancelLiveForInstanceTx(ctx context.Context, tx *sql.Tx, instanceID string) (int64, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'cancelled'
		WHERE sequence_instance_id = ? AND status IN ('pending', 'active')
	`, instanceID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel instance tasks: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get cancelled count: %w", err)
	}
	return count, nil
}

// DeleteTx removes a task row inside a transaction.
func (r *TaskRepository) DeleteTx(ctx context.Context, tx *sql.Tx, orgID, id string) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND org_id = ?`, id, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ListForInstance retrieves an instance's tasks ordered by step order.
func (r *TaskRepository) ListForInstance(ctx context.Context, orgID, instanceID string) ([]*models.Task, error) {
	return r.list(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE org_id = ? AND sequence_instance_id = ?
		ORDER BY sequence_step_order
	`, orgID, instanceID)
}

// ListForRestaurant retrieves a restaurant's tasks, newest first.
func (r *TaskRepository) ListForRestaurant(ctx context.Context, orgID, restaurantID string) ([]*models.Task, error) {
	return r.list(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE org_id = ? AND restaurant_id = ?
		ORDER BY created_at DESC
	`, orgID, restaurantID)
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTaskFromRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row *sql.Row) (*models.Task, error) {
	var task models.Task
	var restaurantID, description, message, subject, assignedOwner sql.NullString
	var dueDate, instanceID, completedAt sql.NullString
	var stepOrder sql.NullInt64
	var taskType, priority, status, delayUnit, createdAt string

	err := row.Scan(
		&task.ID,
		&task.OrgID,
		&restaurantID,
		&task.Name,
		&description,
		&taskType,
		&priority,
		&message,
		&subject,
		&status,
		&dueDate,
		&instanceID,
		&stepOrder,
		&task.DelayValue,
		&delayUnit,
		&assignedOwner,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	fillTask(&task, restaurantID, description, message, subject, assignedOwner,
		dueDate, instanceID, completedAt, stepOrder, taskType, priority, status, delayUnit, createdAt)
	return &task, nil
}

func scanTaskFromRows(rows *sql.Rows) (*models.Task, error) {
	var task models.Task
	var restaurantID, description, message, subject, assignedOwner sql.NullString
	var dueDate, instanceID, completedAt sql.NullString
	var stepOrder sql.NullInt64
	var taskType, priority, status, delayUnit, createdAt string

	if err := rows.Scan(
		&task.ID,
		&task.OrgID,
		&restaurantID,
		&task.Name,
		&description,
		&taskType,
		&priority,
		&message,
		&subject,
		&status,
		&dueDate,
		&instanceID,
		&stepOrder,
		&task.DelayValue,
		&delayUnit,
		&assignedOwner,
		&createdAt,
		&completedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	fillTask(&task, restaurantID, description, message, subject, assignedOwner,
		dueDate, instanceID, completedAt, stepOrder, taskType, priority, status, delayUnit, createdAt)
	return &task, nil
}

func fillTask(task *models.Task,
	restaurantID, description, message, subject, assignedOwner sql.NullString,
	dueDate, instanceID, completedAt sql.NullString,
	stepOrder sql.NullInt64,
	taskType, priority, status, delayUnit, createdAt string,
) {
	task.RestaurantID = restaurantID.String
	task.Description = description.String
	task.Message = message.String
	task.Subject = subject.String
	task.AssignedOwner = assignedOwner.String
	task.Type = models.TaskType(taskType)
	task.Priority = models.TaskPriority(priority)
	task.Status = models.TaskStatus(status)
	task.DelayUnit = models.DelayUnit(delayUnit)
	task.SequenceInstanceID = instanceID.String
	if stepOrder.Valid {
		task.SequenceStepOrder = int(stepOrder.Int64)
	}
	if dueDate.Valid {
		if t, err := time.Parse(time.RFC3339, dueDate.String); err == nil {
			task.DueDate = &t
		}
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			task.CompletedAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		task.CreatedAt = t
	}
}
