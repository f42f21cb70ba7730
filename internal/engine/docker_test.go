package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubctl/internal/execx"
)

type recordRunner struct {
	cmds     []string
	outputs  map[string]string
	combined map[string]string
	errs     map[string]error
}

func (r *recordRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := name + " " + strings.Join(args, " ")
	r.cmds = append(r.cmds, cmd)
	return r.errs[cmd]
}

func (r *recordRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := name + " " + strings.Join(args, " ")
	r.cmds = append(r.cmds, cmd)
	if err := r.errs[cmd]; err != nil {
		return "", err
	}
	return r.outputs[cmd], nil
}

func (r *recordRunner) CombinedOutput(ctx context.Context, name string, args ...string) (string, error) {
	cmd := name + " " + strings.Join(args, " ")
	r.cmds = append(r.cmds, cmd)
	if err := r.errs[cmd]; err != nil {
		return "", err
	}
	return r.combined[cmd], nil
}

var _ execx.Runner = (*recordRunner)(nil)

func TestDockerInspect_ParsesState(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{outputs: map[string]string{
		"docker inspect --type container --format {{json .State}} hub-gluetun": `{"Status":"running","Running":true,"StartedAt":"2026-01-02T03:04:05Z","Health":{"Status":"starting"}}`,
		"docker inspect --type container --format {{json .State}} hub-redlib":  `{"Status":"running","Running":true,"StartedAt":"x"}`,
	}}
	d := NewDocker(rr, DockerOptions{})

	c, err := d.Inspect(context.Background(), "hub-gluetun")
	require.NoError(t, err)
	assert.True(t, c.Running)
	assert.Equal(t, HealthStarting, c.Health)
	assert.Equal(t, "2026-01-02T03:04:05Z", c.StartedAt)
	assert.False(t, c.Healthy())

	c, err = d.Inspect(context.Background(), "hub-redlib")
	require.NoError(t, err)
	assert.Equal(t, HealthNone, c.Health)
	assert.True(t, c.Healthy(), "running without a health check counts as healthy")
}

func TestDockerInspect_Classification(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{errs: map[string]error{
		"docker inspect --type container --format {{json .State}} gone": errors.New("exit status 1: Error: No such object: gone"),
		"docker inspect --type container --format {{json .State}} down": errors.New("exit status 1: Cannot connect to the Docker daemon at unix:///var/run/docker.sock"),
	}}
	d := NewDocker(rr, DockerOptions{})

	_, err := d.Inspect(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.Inspect(context.Background(), "down")
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestDockerStop_IgnoresMissing(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{errs: map[string]error{
		"docker stop hub-a": errors.New("exit status 1: Error response from daemon: No such container: hub-a"),
	}}
	d := NewDocker(rr, DockerOptions{})

	require.NoError(t, d.Stop(context.Background(), "hub-a", "hub-b"))
	assert.Equal(t, []string{"docker stop hub-a", "docker stop hub-b"}, rr.cmds)
}

func TestDockerRecreate_UsesCompose(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{}
	d := NewDocker(rr, DockerOptions{ComposeFile: "/app/docker-compose.yml", ComposeProject: "hub", Prefix: "hub-"})
	require.NoError(t, d.Recreate(context.Background(), "hub-gluetun"))
	assert.Equal(t, []string{"docker compose -f /app/docker-compose.yml -p hub up -d --force-recreate --no-deps gluetun"}, rr.cmds)

	rr2 := &recordRunner{}
	d2 := NewDocker(rr2, DockerOptions{})
	require.NoError(t, d2.Recreate(context.Background(), "hub-gluetun"))
	assert.Equal(t, []string{"docker restart hub-gluetun"}, rr2.cmds)
}

func TestDockerLogTail_LastNonEmptyLine(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{combined: map[string]string{
		"docker logs --tail 5 hub-x": "starting\nhealth check failed: dial tcp\n\n",
	}}
	d := NewDocker(rr, DockerOptions{})
	line, err := d.LogTail(context.Background(), "hub-x")
	require.NoError(t, err)
	assert.Equal(t, "health check failed: dial tcp", line)
}

func TestDockerExec_StdoutOnly(t *testing.T) {
	t.Parallel()

	rr := &recordRunner{
		outputs:  map[string]string{"docker exec hub-x cat /tmp/n": "42"},
		combined: map[string]string{"docker exec hub-x cat /tmp/n": "warning: stale\n42"},
	}
	d := NewDocker(rr, DockerOptions{})
	out, err := d.Exec(context.Background(), "hub-x", "cat", "/tmp/n")
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}
