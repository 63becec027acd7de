// Package catalog loads and manages the coding task catalog.
//
// Tasks live as individual JSON files in a directory so that new tasks can be
// dropped in (or created through the admin API) without a schema migration.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/hirecode/hirecode/internal/domain"
)

// ErrEmpty is returned when no task matches a selection request.
var ErrEmpty = errors.New("catalog: no tasks available")

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Catalog is an in-memory task index backed by a JSON directory.
type Catalog struct {
	mu    sync.RWMutex
	dir   string
	tasks map[string]domain.Task
}

// Load reads every *.json task file from dir. Malformed files are skipped
// with a warning rather than failing startup.
func Load(dir string) (*Catalog, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob task files: %w", err)
	}

	c := &Catalog{dir: dir, tasks: make(map[string]domain.Task, len(entries))}
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Skipping unreadable task file", "path", path, "error", err)
			continue
		}
		var task domain.Task
		if err := json.Unmarshal(data, &task); err != nil {
			slog.Warn("Skipping malformed task file", "path", path, "error", err)
			continue
		}
		if task.ID == "" {
			slog.Warn("Skipping task file without id", "path", path)
			continue
		}
		c.tasks[task.ID] = task
	}

	slog.Info("Task catalog loaded", "dir", dir, "tasks", len(c.tasks))
	return c, nil
}

// Get returns a task by id.
func (c *Catalog) Get(id string) (domain.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	task, ok := c.tasks[id]
	return task, ok
}

// Len returns the number of loaded tasks.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tasks)
}

// ByStack returns all tasks for a stack. When the stack has no tasks the
// whole catalog is returned as a fallback, mirroring the product behavior of
// never stranding a candidate on an unsupported stack.
func (c *Catalog) ByStack(stack string) []domain.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched []domain.Task
	for _, task := range c.tasks {
		if task.Stack == stack {
			matched = append(matched, task)
		}
	}
	if len(matched) > 0 {
		return matched
	}

	all := make([]domain.Task, 0, len(c.tasks))
	for _, task := range c.tasks {
		all = append(all, task)
	}
	return all
}

// Save persists a task JSON to the catalog directory and indexes it.
// Used by the admin task-creation endpoint.
func (c *Catalog) Save(task domain.Task) error {
	if !taskIDPattern.MatchString(task.ID) {
		return fmt.Errorf("catalog: invalid task id %q", task.ID)
	}

	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	path := filepath.Join(c.dir, task.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write task file %s: %w", path, err)
	}

	c.mu.Lock()
	c.tasks[task.ID] = task
	c.mu.Unlock()

	slog.Info("Task saved to catalog", "task_id", task.ID, "stack", task.Stack)
	return nil
}
