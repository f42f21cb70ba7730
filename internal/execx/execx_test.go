package execx

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestOutput_KeepsStderrOutOfStdout(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r := NewOSRunner(nil, nil)
	out, err := r.Output(context.Background(), "sh", "-c", "echo 12345; echo 'warning: slow' 1>&2")
	require.NoError(t, err)
	assert.Equal(t, "12345", out)
}

func TestOutput_StderrInError(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r := NewOSRunner(nil, nil)
	_, err := r.Output(context.Background(), "sh", "-c", "echo partial; echo 'no such container' 1>&2; exit 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such container")
	assert.NotContains(t, err.Error(), "partial")
}

func TestCombinedOutput_MergesStreams(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r := NewOSRunner(nil, nil)
	out, err := r.CombinedOutput(context.Background(), "sh", "-c", "echo out; echo err 1>&2")
	require.NoError(t, err)
	assert.Contains(t, out, "out")
	assert.Contains(t, out, "err")
}

func TestOutput_CancelledContext(t *testing.T) {
	t.Parallel()
	requireShell(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOSRunner(nil, nil).Output(ctx, "sh", "-c", "sleep 5")
	require.ErrorIs(t, err, context.Canceled)
}
