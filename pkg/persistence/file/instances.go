package file

import (
	"context"
	"sort"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// InstanceRepository handles workflow instance file operations.
type InstanceRepository struct {
	store *store
}

func (r *InstanceRepository) Save(_ context.Context, instance *models.WorkflowInstance) error {
	return r.store.write(instance.ID, instance)
}

func (r *InstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	found, err := r.store.read(id, &instance)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewEntityError("GetByID", "instance", id, persistence.ErrInstanceNotFound)
	}

	return &instance, nil
}

func (r *InstanceRepository) List(ctx context.Context, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	ids, err := r.store.ids()
	if err != nil {
		return nil, err
	}

	instances := make([]*models.WorkflowInstance, 0, len(ids))

	for _, id := range ids {
		instance, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if filter.DefinitionID != "" && instance.DefinitionID != filter.DefinitionID {
			continue
		}

		if filter.Status != nil && instance.Status != *filter.Status {
			continue
		}

		if filter.StartedBy != "" && instance.StartedBy != filter.StartedBy {
			continue
		}

		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].StartedAt.After(instances[j].StartedAt)
	})

	return paginate(instances, filter.Offset, filter.Limit), nil
}

// paginate applies offset/limit windowing to an already filtered slice.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return make([]T, 0)
	}

	items = items[offset:]

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
