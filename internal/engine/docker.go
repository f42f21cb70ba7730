package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"hubctl/internal/execx"
)

// DockerOptions configures the docker CLI backend.
type DockerOptions struct {
	Binary         string // default "docker"
	ComposeFile    string // when set, Recreate uses compose --force-recreate
	ComposeProject string
	// Prefix is stripped from container names to get the compose service.
	Prefix string
}

// Docker drives the docker CLI through an execx.Runner.
type Docker struct {
	r    execx.Runner
	opts DockerOptions
}

func NewDocker(r execx.Runner, opts DockerOptions) *Docker {
	if r == nil {
		r = execx.NewOSRunner(nil, nil)
	}
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	return &Docker{r: r, opts: opts}
}

type inspectState struct {
	Status    string `json:"Status"`
	Running   bool   `json:"Running"`
	StartedAt string `json:"StartedAt"`
	Health    *struct {
		Status string `json:"Status"`
	} `json:"Health"`
}

func (d *Docker) Inspect(ctx context.Context, name string) (Container, error) {
	out, err := d.r.Output(ctx, d.opts.Binary, "inspect", "--type", "container", "--format", "{{json .State}}", name)
	if err != nil {
		return Container{}, classify(name, err)
	}
	var st inspectState
	if err := json.Unmarshal([]byte(lastLine(out)), &st); err != nil {
		return Container{}, fmt.Errorf("inspect %s: %w", name, err)
	}
	c := Container{
		Name:      name,
		Status:    st.Status,
		Running:   st.Running,
		StartedAt: st.StartedAt,
	}
	if st.Health != nil {
		c.Health = st.Health.Status
	}
	return c, nil
}

func (d *Docker) Stop(ctx context.Context, names ...string) error {
	var errs []error
	for _, name := range names {
		err := d.r.Run(ctx, d.opts.Binary, "stop", name)
		if err == nil {
			continue
		}
		if err = classify(name, err); errors.Is(err, ErrNotFound) {
			continue
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Docker) Start(ctx context.Context, names ...string) error {
	var errs []error
	for _, name := range names {
		if err := d.r.Run(ctx, d.opts.Binary, "start", name); err != nil {
			errs = append(errs, classify(name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Docker) Recreate(ctx context.Context, name string) error {
	if d.opts.ComposeFile == "" {
		return classify(name, d.r.Run(ctx, d.opts.Binary, "restart", name))
	}
	args := []string{"compose", "-f", d.opts.ComposeFile}
	if d.opts.ComposeProject != "" {
		args = append(args, "-p", d.opts.ComposeProject)
	}
	service := strings.TrimPrefix(name, d.opts.Prefix)
	args = append(args, "up", "-d", "--force-recreate", "--no-deps", service)
	return classify(name, d.r.Run(ctx, d.opts.Binary, args...))
}

func (d *Docker) Exec(ctx context.Context, name string, cmd ...string) (string, error) {
	args := append([]string{"exec", name}, cmd...)
	out, err := d.r.Output(ctx, d.opts.Binary, args...)
	if err != nil {
		return "", classify(name, err)
	}
	return out, nil
}

func (d *Docker) LogTail(ctx context.Context, name string) (string, error) {
	out, err := d.r.CombinedOutput(ctx, d.opts.Binary, "logs", "--tail", "5", name)
	if err != nil {
		return "", classify(name, err)
	}
	return lastLine(out), nil
}

// classify maps docker CLI failures onto the package error taxonomy.
func classify(name string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "No such object"), strings.Contains(msg, "No such container"):
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	case errors.Is(err, exec.ErrNotFound),
		errors.Is(err, context.DeadlineExceeded),
		strings.Contains(msg, "Cannot connect to the Docker daemon"),
		strings.Contains(msg, "error during connect"),
		strings.Contains(msg, "permission denied while trying to connect"):
		return fmt.Errorf("%s: %w: %v", name, ErrEngineUnavailable, err)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
