// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"hubctl/internal/engine"
)

// Fake records lifecycle calls and serves canned inspect/exec/log results.
// Stop marks containers exited, Start and Recreate mark them running.
type Fake struct {
	mu         sync.Mutex
	containers map[string]engine.Container
	execs      map[string]string
	logs       map[string]string
	calls      []string
	restarts   int

	// Err, when set, is returned from every call.
	Err error
	// RecreateErr, when set, is returned from Recreate only.
	RecreateErr error
	// RecreateHealth is the native health a recreated container comes up with.
	RecreateHealth string
	// OnStop runs before each stopped container is marked exited.
	OnStop func(name string)
	// OnExec runs before each exec is answered.
	OnExec func(name string, cmd []string)
}

func New() *Fake {
	return &Fake{
		containers:     map[string]engine.Container{},
		execs:          map[string]string{},
		logs:           map[string]string{},
		RecreateHealth: engine.HealthHealthy,
	}
}

var _ engine.Engine = (*Fake)(nil)

func (f *Fake) SetContainer(c engine.Container) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[c.Name] = c
}

func (f *Fake) RemoveContainer(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
}

// SetExec registers the output of `exec <name> <cmd...>`.
func (f *Fake) SetExec(name string, output string, cmd ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs[execKey(name, cmd)] = output
}

func (f *Fake) SetLog(name, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[name] = line
}

// Calls returns lifecycle calls as "stop <name>", "start <name>", "recreate <name>".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) Container(name string) (engine.Container, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	return c, ok
}

func (f *Fake) Inspect(ctx context.Context, name string) (engine.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return engine.Container{}, f.Err
	}
	c, ok := f.containers[name]
	if !ok {
		return engine.Container{}, fmt.Errorf("%s: %w", name, engine.ErrNotFound)
	}
	return c, nil
}

func (f *Fake) Stop(ctx context.Context, names ...string) error {
	for _, name := range names {
		f.mu.Lock()
		hook, err := f.OnStop, f.Err
		f.mu.Unlock()
		if err != nil {
			return err
		}
		if hook != nil {
			hook(name)
		}
		f.mu.Lock()
		f.calls = append(f.calls, "stop "+name)
		if c, ok := f.containers[name]; ok {
			c.Running = false
			c.Status = "exited"
			f.containers[name] = c
		}
		f.mu.Unlock()
	}
	return nil
}

func (f *Fake) Start(ctx context.Context, names ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for _, name := range names {
		f.calls = append(f.calls, "start "+name)
		c, ok := f.containers[name]
		if !ok {
			return fmt.Errorf("%s: %w", name, engine.ErrNotFound)
		}
		c.Running = true
		c.Status = "running"
		f.containers[name] = c
	}
	return nil
}

func (f *Fake) Recreate(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.calls = append(f.calls, "recreate "+name)
	if f.RecreateErr != nil {
		return f.RecreateErr
	}
	f.restarts++
	f.containers[name] = engine.Container{
		Name:      name,
		Status:    "running",
		Running:   true,
		Health:    f.RecreateHealth,
		StartedAt: fmt.Sprintf("restart-%d", f.restarts),
	}
	return nil
}

func (f *Fake) Exec(ctx context.Context, name string, cmd ...string) (string, error) {
	f.mu.Lock()
	hook := f.OnExec
	f.mu.Unlock()
	if hook != nil {
		hook(name, cmd)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	out, ok := f.execs[execKey(name, cmd)]
	if !ok {
		return "", fmt.Errorf("exec %s %s: no canned output", name, strings.Join(cmd, " "))
	}
	return out, nil
}

func (f *Fake) LogTail(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	line, ok := f.logs[name]
	if !ok {
		return "", fmt.Errorf("%s: no logs", name)
	}
	return line, nil
}

func execKey(name string, cmd []string) string {
	return name + " " + strings.Join(cmd, " ")
}
