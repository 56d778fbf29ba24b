package file

import (
	"context"
	"sort"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// TaskRepository handles task file operations.
type TaskRepository struct {
	store *store
}

func (r *TaskRepository) Save(_ context.Context, task *models.Task) error {
	return r.store.write(task.ID, task)
}

func (r *TaskRepository) GetByID(_ context.Context, id string) (*models.Task, error) {
	var task models.Task

	found, err := r.store.read(id, &task)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewEntityError("GetByID", "task", id, persistence.ErrTaskNotFound)
	}

	return &task, nil
}

func (r *TaskRepository) List(ctx context.Context, filter persistence.TaskFilter) ([]*models.Task, error) {
	tasks, err := r.filtered(ctx, filter)
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	return paginate(tasks, filter.Offset, filter.Limit), nil
}

func (r *TaskRepository) Count(ctx context.Context, filter persistence.TaskFilter) (int, error) {
	tasks, err := r.filtered(ctx, filter)
	if err != nil {
		return 0, err
	}

	return len(tasks), nil
}

func (r *TaskRepository) filtered(ctx context.Context, filter persistence.TaskFilter) ([]*models.Task, error) {
	ids, err := r.store.ids()
	if err != nil {
		return nil, err
	}

	tasks := make([]*models.Task, 0, len(ids))

	for _, id := range ids {
		task, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if filter.InstanceID != "" && task.InstanceID != filter.InstanceID {
			continue
		}

		if filter.NodeID != "" && task.NodeID != filter.NodeID {
			continue
		}

		if filter.AssignedTo != "" && !task.IsAssignee(filter.AssignedTo) {
			continue
		}

		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}

		if filter.Type != nil && task.Type != *filter.Type {
			continue
		}

		tasks = append(tasks, task)
	}

	return tasks, nil
}
