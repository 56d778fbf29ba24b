package file

import (
	"context"
	"sort"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// DefinitionRepository handles workflow definition file operations.
type DefinitionRepository struct {
	store *store
}

func (r *DefinitionRepository) Save(_ context.Context, def *models.WorkflowDefinition) error {
	return r.store.write(def.ID, def)
}

func (r *DefinitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition

	found, err := r.store.read(id, &def)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewEntityError("GetByID", "definition", id, persistence.ErrDefinitionNotFound)
	}

	return &def, nil
}

func (r *DefinitionRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	ids, err := r.store.ids()
	if err != nil {
		return nil, err
	}

	defs := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		def, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool {
		return defs[i].CreatedAt.After(defs[j].CreatedAt)
	})

	return defs, nil
}

func (r *DefinitionRepository) Delete(_ context.Context, id string) error {
	found, err := r.store.remove(id)
	if err != nil {
		return err
	}

	if !found {
		return persistence.NewEntityError("Delete", "definition", id, persistence.ErrDefinitionNotFound)
	}

	return nil
}
