package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db *sql.DB
}

func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	data, err := jsonbValue(instance.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal instance data: %w", err)
	}

	query := `
		INSERT INTO workflow_instances
			(id, definition_id, status, current_node_id, data, started_by, started_at, completed_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_node_id = EXCLUDED.current_node_id,
			data = EXCLUDED.data,
			completed_at = EXCLUDED.completed_at,
			error = EXCLUDED.error
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID, instance.DefinitionID, instance.Status, instance.CurrentNodeID,
		data, instance.StartedBy, instance.StartedAt, instance.CompletedAt, instance.Error,
	)
	if err != nil {
		return persistence.NewEntityError("Save", "instance", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := `
		SELECT id, definition_id, status, current_node_id, data, started_by, started_at, completed_at, error
		FROM workflow_instances
		WHERE id = $1
	`

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetByID", "instance", id, persistence.ErrInstanceNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "instance", id, err)
	}

	return instance, nil
}

func (r *InstanceRepository) List(ctx context.Context, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	query := `
		SELECT id, definition_id, status, current_node_id, data, started_by, started_at, completed_at, error
		FROM workflow_instances
		WHERE ($1 = '' OR definition_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR started_by = $3)
		ORDER BY started_at DESC
		LIMIT $4 OFFSET $5
	`

	status := ""
	if filter.Status != nil {
		status = string(*filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, query, filter.DefinitionID, status, filter.StartedBy, limit, filter.Offset)
	if err != nil {
		return nil, persistence.NewEntityError("List", "instance", "", err)
	}
	defer func() { _ = rows.Close() }()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, persistence.NewEntityError("List", "instance", "", err)
		}

		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	var data []byte

	err := row.Scan(
		&instance.ID, &instance.DefinitionID, &instance.Status, &instance.CurrentNodeID,
		&data, &instance.StartedBy, &instance.StartedAt, &instance.CompletedAt, &instance.Error,
	)
	if err != nil {
		return nil, err
	}

	if err := jsonbScan(data, &instance.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance data: %w", err)
	}

	return &instance, nil
}
