package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// DefinitionRepository handles workflow definition database operations.
type DefinitionRepository struct {
	db *sql.DB
}

func (r *DefinitionRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	nodes, err := jsonbValue(def.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edges, err := jsonbValue(def.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	allowedUsers, err := jsonbValue(def.AllowedUsers)
	if err != nil {
		return fmt.Errorf("failed to marshal allowed users: %w", err)
	}

	allowedGroups, err := jsonbValue(def.AllowedGroups)
	if err != nil {
		return fmt.Errorf("failed to marshal allowed groups: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions
			(id, name, description, version, active, nodes, edges, created_by, allowed_users, allowed_groups, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			version = EXCLUDED.version,
			active = EXCLUDED.active,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			allowed_users = EXCLUDED.allowed_users,
			allowed_groups = EXCLUDED.allowed_groups,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		def.ID, def.Name, def.Description, def.Version, def.Active,
		nodes, edges, def.CreatedBy, allowedUsers, allowedGroups,
		def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		return persistence.NewEntityError("Save", "definition", def.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT id, name, description, version, active, nodes, edges, created_by, allowed_users, allowed_groups, created_at, updated_at
		FROM workflow_definitions
		WHERE id = $1
	`

	def, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetByID", "definition", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "definition", id, err)
	}

	return def, nil
}

func (r *DefinitionRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT id, name, description, version, active, nodes, edges, created_by, allowed_users, allowed_groups, created_at, updated_at
		FROM workflow_definitions
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistence.NewEntityError("List", "definition", "", err)
	}
	defer func() { _ = rows.Close() }()

	defs := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, persistence.NewEntityError("List", "definition", "", err)
		}

		defs = append(defs, def)
	}

	return defs, rows.Err()
}

func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflow_definitions WHERE id = $1", id)
	if err != nil {
		return persistence.NewEntityError("Delete", "definition", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEntityError("Delete", "definition", id, err)
	}

	if affected == 0 {
		return persistence.NewEntityError("Delete", "definition", id, persistence.ErrDefinitionNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition

	var nodes, edges, allowedUsers, allowedGroups []byte

	err := row.Scan(
		&def.ID, &def.Name, &def.Description, &def.Version, &def.Active,
		&nodes, &edges, &def.CreatedBy, &allowedUsers, &allowedGroups,
		&def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := jsonbScan(nodes, &def.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := jsonbScan(edges, &def.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	if err := jsonbScan(allowedUsers, &def.AllowedUsers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allowed users: %w", err)
	}

	if err := jsonbScan(allowedGroups, &def.AllowedGroups); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allowed groups: %w", err)
	}

	return &def, nil
}
