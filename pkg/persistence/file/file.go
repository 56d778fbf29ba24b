// Package file provides a file-system persistence implementation. Each
// entity is stored as one JSON document; it is intended for development
// and tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nivio/flowd/pkg/persistence"
)

// Persistence implements persistence.Persistence on top of a directory
// tree of JSON documents.
type Persistence struct {
	root          string
	definitions   *DefinitionRepository
	instances     *InstanceRepository
	tasks         *TaskRepository
	history       *HistoryRepository
	notifications *NotificationRepository
	subscriptions *SubscriptionRepository
	timers        *TimerRepository
}

// NewPersistence creates a file persistence layer rooted at the given
// directory. A "file://" prefix is stripped for URL-style configuration.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		definitions:   &DefinitionRepository{store: newStore(cleanRoot, "definitions")},
		instances:     &InstanceRepository{store: newStore(cleanRoot, "instances")},
		tasks:         &TaskRepository{store: newStore(cleanRoot, "tasks")},
		history:       &HistoryRepository{store: newStore(cleanRoot, "history")},
		notifications: &NotificationRepository{store: newStore(cleanRoot, "notifications")},
		subscriptions: &SubscriptionRepository{store: newStore(cleanRoot, "subscriptions")},
		timers:        &TimerRepository{store: newStore(cleanRoot, "timers")},
	}
}

func (p *Persistence) Definitions() persistence.DefinitionRepository { return p.definitions }

func (p *Persistence) Instances() persistence.InstanceRepository { return p.instances }

func (p *Persistence) Tasks() persistence.TaskRepository { return p.tasks }

func (p *Persistence) History() persistence.HistoryRepository { return p.history }

func (p *Persistence) Notifications() persistence.NotificationRepository { return p.notifications }

func (p *Persistence) Subscriptions() persistence.SubscriptionRepository { return p.subscriptions }

func (p *Persistence) Timers() persistence.TimerRepository { return p.timers }

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file persistence there is
// nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// store serializes access to one entity directory. Reads and writes of
// individual documents are guarded by a single RWMutex, which is enough
// for the file backend's intended development use.
type store struct {
	dir string
	mu  sync.RWMutex
}

func newStore(root, entity string) *store {
	return &store{dir: filepath.Join(root, entity)}
}

func (s *store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *store) write(id string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	if err := os.WriteFile(s.path(id), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path(id), err)
	}

	return nil
}

// read unmarshals a document into v. It reports false when the document
// does not exist.
func (s *store) read(id string, v any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", s.path(id), err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", s.path(id), err)
	}

	return true, nil
}

func (s *store) remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", s.path(id), err)
	}

	return true, nil
}

func (s *store) ids() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := fs.Glob(os.DirFS(s.dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, strings.TrimSuffix(entry, ".json"))
	}

	return ids, nil
}
