// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver
	"github.com/nivio/flowd/pkg/persistence"
	"github.com/nivio/flowd/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	definitions   *DefinitionRepository
	instances     *InstanceRepository
	tasks         *TaskRepository
	history       *HistoryRepository
	notifications *NotificationRepository
	subscriptions *SubscriptionRepository
	timers        *TimerRepository
}

// NewPersistence opens a connection, runs migrations and returns the
// persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		definitions:   &DefinitionRepository{db: database},
		instances:     &InstanceRepository{db: database},
		tasks:         &TaskRepository{db: database},
		history:       &HistoryRepository{db: database},
		notifications: &NotificationRepository{db: database},
		subscriptions: &SubscriptionRepository{db: database},
		timers:        &TimerRepository{db: database},
	}, nil
}

func (p *Persistence) Definitions() persistence.DefinitionRepository { return p.definitions }

func (p *Persistence) Instances() persistence.InstanceRepository { return p.instances }

func (p *Persistence) Tasks() persistence.TaskRepository { return p.tasks }

func (p *Persistence) History() persistence.HistoryRepository { return p.history }

func (p *Persistence) Notifications() persistence.NotificationRepository { return p.notifications }

func (p *Persistence) Subscriptions() persistence.SubscriptionRepository { return p.subscriptions }

func (p *Persistence) Timers() persistence.TimerRepository { return p.timers }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
