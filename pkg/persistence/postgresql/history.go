package postgresql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nivio/flowd/pkg/models"
	"github.com/nivio/flowd/pkg/persistence"
)

// HistoryRepository handles the append-only history table. Rows are never
// updated or deleted.
type HistoryRepository struct {
	db *sql.DB
}

func (r *HistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	data, err := jsonbValue(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal history data: %w", err)
	}

	query := `
		INSERT INTO history_entries (id, instance_id, step, action, user_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.InstanceID, entry.Step, entry.Action, entry.UserID, data, entry.CreatedAt,
	)
	if err != nil {
		return persistence.NewEntityError("Append", "history", entry.ID, err)
	}

	return nil
}

func (r *HistoryRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.HistoryEntry, error) {
	query := `
		SELECT id, instance_id, step, action, user_id, data, created_at
		FROM history_entries
		WHERE instance_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, persistence.NewEntityError("ListByInstance", "history", instanceID, err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*models.HistoryEntry, 0)

	for rows.Next() {
		var entry models.HistoryEntry

		var data []byte

		err := rows.Scan(&entry.ID, &entry.InstanceID, &entry.Step, &entry.Action, &entry.UserID, &data, &entry.CreatedAt)
		if err != nil {
			return nil, persistence.NewEntityError("ListByInstance", "history", instanceID, err)
		}

		if err := jsonbScan(data, &entry.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history data: %w", err)
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
