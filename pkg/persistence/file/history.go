package file

import (
	"context"
	"sort"

	"github.com/nivio/flowd/pkg/models"
)

// HistoryRepository stores history entries grouped by instance, one JSON
// document per instance holding the ordered entry list.
type HistoryRepository struct {
	store *store
}

func (r *HistoryRepository) Append(_ context.Context, entry *models.HistoryEntry) error {
	var entries []*models.HistoryEntry

	if _, err := r.store.read(entry.InstanceID, &entries); err != nil {
		return err
	}

	entries = append(entries, entry)

	return r.store.write(entry.InstanceID, entries)
}

func (r *HistoryRepository) ListByInstance(_ context.Context, instanceID string) ([]*models.HistoryEntry, error) {
	entries := make([]*models.HistoryEntry, 0)

	if _, err := r.store.read(instanceID, &entries); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	return entries, nil
}
