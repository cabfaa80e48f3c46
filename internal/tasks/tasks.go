// Package tasks runs named periodic tasks on hardloop cron schedules. The
// task lifecycle endpoints create, reset and remove instances by name.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/worldline-go/hardloop"

	"github.com/rakunlabs/anonymizer/internal/audit"
	"github.com/rakunlabs/anonymizer/internal/client"
	"github.com/rakunlabs/anonymizer/internal/config"
)

// Task is one periodic unit of work.
type Task interface {
	Name() string
	// Interval is the pause between runs.
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Deps are the collaborators available to task constructors.
type Deps struct {
	Audits *audit.Store
	Cfg    *config.Config
}

// Factory builds a task from the shared dependencies.
type Factory func(deps Deps) (Task, error)

var registry = make(map[string]Factory)

// Register adds a task factory under its endpoint name.
func Register(name string, factory Factory) {
	registry[name] = factory
}

func init() {
	Register("AuditPublish", newAuditPublish)
}

// cronRunner is satisfied by hardloop's cron job type, allowing the
// manager to store and stop running instances.
type cronRunner interface {
	Start(ctx context.Context) error
}

type running struct {
	cancel context.CancelFunc
}

// Manager owns the running task instances. hardloop's cron runner does not
// support dynamic add/remove, so each task gets its own runner and cancel
// function.
type Manager struct {
	deps Deps

	mu      sync.Mutex
	ctx     context.Context
	tasks   map[string]running
}

func NewManager(ctx context.Context, deps Deps) *Manager {
	return &Manager{deps: deps, ctx: ctx, tasks: make(map[string]running)}
}

// Add creates and starts a task by name. A task that is already running
// cannot be added twice.
func (m *Manager) Add(name string) error {
	factory, ok := registry[name]
	if !ok {
		return fmt.Errorf("task %q not found", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[name]; ok {
		return fmt.Errorf("attempted to create duplicate periodic task %q", name)
	}

	task, err := factory(m.deps)
	if err != nil {
		return fmt.Errorf("create task %q: %w", name, err)
	}

	spec := fmt.Sprintf("@every %ds", int(task.Interval().Seconds()))
	cronJob, err := hardloop.NewCron(hardloop.Cron{
		Name:  task.Name(),
		Specs: []string{spec},
		Func: func(ctx context.Context) error {
			if err := task.Run(ctx); err != nil {
				slog.Error("periodic task failed", "task", task.Name(), "error", err)
			}
			// Never stop the cron loop on task errors.
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("create cron runner for %q: %w", name, err)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	if err := startRunner(ctx, cronJob); err != nil {
		cancel()
		return fmt.Errorf("start task %q: %w", name, err)
	}
	m.tasks[name] = running{cancel: cancel}
	slog.Info("periodic task started", "task", name, "spec", spec)
	return nil
}

func startRunner(ctx context.Context, runner cronRunner) error {
	return runner.Start(ctx)
}

// Remove stops a running task. Removing a stopped task is a no-op.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if instance, ok := m.tasks[name]; ok {
		instance.cancel()
		delete(m.tasks, name)
		slog.Info("periodic task removed", "task", name)
	}
}

// Reset stops and recreates a task.
func (m *Manager) Reset(name string) error {
	m.Remove(name)
	return m.Add(name)
}

// Known reports whether a task name is registered.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Stop cancels every running task.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, instance := range m.tasks {
		instance.cancel()
		delete(m.tasks, name)
	}
}

// connection derives the TMB retry envelope from the shared service
// defaults.
func (d Deps) connection() client.ConnectionSettings {
	if d.Cfg == nil {
		return client.DefaultConnectionSettings()
	}
	return d.Cfg.Services.Connection
}
