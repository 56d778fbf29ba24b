package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// TaskRepository handles task database operations.
type TaskRepository struct {
	db *sql.DB
}

const taskColumns = `
	id, instance_id, node_id, type, title, description, assigned_to, assignees,
	status, priority, due_date, task_data, decision, form_schema, form_data,
	form_progress, locked_by, locked_at, submitted_by, created_at, updated_at, completed_at
`

func (r *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	assignees, err := jsonbValue(task.Assignees)
	if err != nil {
		return fmt.Errorf("failed to marshal assignees: %w", err)
	}

	taskData, err := jsonbValue(task.TaskData)
	if err != nil {
		return fmt.Errorf("failed to marshal task data: %w", err)
	}

	formSchema, err := jsonbValue(task.FormSchema)
	if err != nil {
		return fmt.Errorf("failed to marshal form schema: %w", err)
	}

	formData, err := jsonbValue(task.FormData)
	if err != nil {
		return fmt.Errorf("failed to marshal form data: %w", err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			assigned_to = EXCLUDED.assigned_to,
			assignees = EXCLUDED.assignees,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			due_date = EXCLUDED.due_date,
			task_data = EXCLUDED.task_data,
			decision = EXCLUDED.decision,
			form_schema = EXCLUDED.form_schema,
			form_data = EXCLUDED.form_data,
			form_progress = EXCLUDED.form_progress,
			locked_by = EXCLUDED.locked_by,
			locked_at = EXCLUDED.locked_at,
			submitted_by = EXCLUDED.submitted_by,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID, task.InstanceID, task.NodeID, task.Type, task.Title, task.Description,
		task.AssignedTo, assignees, task.Status, task.Priority, task.DueDate, taskData,
		task.Decision, formSchema, formData, task.FormProgress, task.LockedBy, task.LockedAt,
		task.SubmittedBy, task.CreatedAt, task.UpdatedAt, task.CompletedAt,
	)
	if err != nil {
		return persistence.NewEntityError("Save", "task", task.ID, err)
	}

	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetByID", "task", id, persistence.ErrTaskNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "task", id, err)
	}

	return task, nil
}

// taskFilterClause is shared by List and Count. Assignee matching includes
// the co-assignee list stored as a JSONB array.
const taskFilterClause = `
	($1 = '' OR instance_id = $1)
	AND ($2 = '' OR node_id = $2)
	AND ($3 = '' OR assigned_to = $3 OR assignees @> to_jsonb(ARRAY[$3]::text[]))
	AND ($4 = '' OR status = $4)
	AND ($5 = '' OR type = $5)
`

func (r *TaskRepository) List(ctx context.Context, filter persistence.TaskFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE ` + taskFilterClause + `
		ORDER BY created_at DESC
		LIMIT $6 OFFSET $7
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	status, taskType := filterStrings(filter)

	rows, err := r.db.QueryContext(ctx, query,
		filter.InstanceID, filter.NodeID, filter.AssignedTo, status, taskType, limit, filter.Offset,
	)
	if err != nil {
		return nil, persistence.NewEntityError("List", "task", "", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, persistence.NewEntityError("List", "task", "", err)
		}

		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

func (r *TaskRepository) Count(ctx context.Context, filter persistence.TaskFilter) (int, error) {
	query := `SELECT COUNT(*) FROM tasks WHERE ` + taskFilterClause

	status, taskType := filterStrings(filter)

	var count int

	err := r.db.QueryRowContext(ctx, query,
		filter.InstanceID, filter.NodeID, filter.AssignedTo, status, taskType,
	).Scan(&count)
	if err != nil {
		return 0, persistence.NewEntityError("Count", "task", "", err)
	}

	return count, nil
}

func filterStrings(filter persistence.TaskFilter) (string, string) {
	status := ""
	if filter.Status != nil {
		status = string(*filter.Status)
	}

	taskType := ""
	if filter.Type != nil {
		taskType = string(*filter.Type)
	}

	return status, taskType
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task

	var assignees, taskData, formSchema, formData []byte

	err := row.Scan(
		&task.ID, &task.InstanceID, &task.NodeID, &task.Type, &task.Title, &task.Description,
		&task.AssignedTo, &assignees, &task.Status, &task.Priority, &task.DueDate, &taskData,
		&task.Decision, &formSchema, &formData, &task.FormProgress, &task.LockedBy, &task.LockedAt,
		&task.SubmittedBy, &task.CreatedAt, &task.UpdatedAt, &task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := jsonbScan(assignees, &task.Assignees); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assignees: %w", err)
	}

	if err := jsonbScan(taskData, &task.TaskData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task data: %w", err)
	}

	if err := jsonbScan(formSchema, &task.FormSchema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal form schema: %w", err)
	}

	if err := jsonbScan(formData, &task.FormData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal form data: %w", err)
	}

	return &task, nil
}
