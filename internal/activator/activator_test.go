package activator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hubctl/internal/engine"
	"hubctl/internal/engine/enginetest"
	"hubctl/internal/lock"
	"hubctl/internal/profile"
	"hubctl/internal/telemetry"
)

const (
	gateway = "hub-gluetun"
	redlib  = "hub-redlib"
	invid   = "hub-invidious"
)

func setup(t *testing.T) (*Activator, *enginetest.Fake, *profile.Store) {
	t.Helper()

	fake := enginetest.New()
	fake.SetContainer(engine.Container{Name: gateway, Status: "running", Running: true, Health: engine.HealthHealthy})
	fake.SetContainer(engine.Container{Name: redlib, Status: "running", Running: true})
	fake.SetContainer(engine.Container{Name: invid, Status: "running", Running: true})

	store := profile.NewStore(t.TempDir())
	for _, name := range []string{"euA", "euB"} {
		_, err := store.Import(name, []byte("[Interface]\n# "+name+"\n[Peer]\nEndpoint = "+name+".example:51820\n"))
		require.NoError(t, err)
	}
	require.NoError(t, store.SetActive("euB"))

	a := New(store, fake, lock.NewLocal(), Options{
		Gateway:        gateway,
		Dependents:     []string{redlib, invid},
		HealthAttempts: 3,
		HealthInterval: time.Millisecond,
	}, zaptest.NewLogger(t), telemetry.New())
	return a, fake, store
}

func TestActivate_SwitchesAndCyclesDependents(t *testing.T) {
	t.Parallel()

	a, fake, store := setup(t)
	res, err := a.Activate(context.Background(), "euA")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Healthy)

	active, err := store.Active()
	require.NoError(t, err)
	assert.Equal(t, "euA", active)

	assert.Equal(t, []string{
		"stop " + redlib,
		"stop " + invid,
		"recreate " + gateway,
		"start " + redlib,
		"start " + invid,
	}, fake.Calls())

	for _, name := range []string{redlib, invid} {
		c, ok := fake.Container(name)
		require.True(t, ok)
		assert.True(t, c.Running, name)
	}
}

func TestActivate_NotFoundTouchesNothing(t *testing.T) {
	t.Parallel()

	a, fake, store := setup(t)
	res, err := a.Activate(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrProfileNotFound)
	assert.False(t, res.Success)
	assert.Empty(t, fake.Calls())

	active, err := store.Active()
	require.NoError(t, err)
	assert.Equal(t, "euB", active)

	// The lock was released.
	_, err = a.Activate(context.Background(), "euA")
	require.NoError(t, err)
}

func TestActivate_InvalidNameMessage(t *testing.T) {
	t.Parallel()

	a, fake, _ := setup(t)
	res, err := a.Activate(context.Background(), "../euA")
	assert.ErrorIs(t, err, profile.ErrInvalidName)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "invalid profile name")
	assert.NotContains(t, res.Message, "not found")
	assert.Empty(t, fake.Calls())
}

func TestActivate_RecreateFailureStillStartsDependents(t *testing.T) {
	t.Parallel()

	a, fake, store := setup(t)
	fake.RecreateErr = errors.New("compose failed")

	res, err := a.Activate(context.Background(), "euA")
	require.Error(t, err)
	assert.ErrorContains(t, err, "compose failed")
	assert.False(t, res.Success)
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "compose failed")

	active, err := store.Active()
	require.NoError(t, err)
	assert.Equal(t, "euA", active, "pointer stays on the requested profile")

	assert.Equal(t, []string{
		"stop " + redlib,
		"stop " + invid,
		"recreate " + gateway,
		"start " + redlib,
		"start " + invid,
	}, fake.Calls())
	for _, name := range []string{redlib, invid} {
		c, ok := fake.Container(name)
		require.True(t, ok)
		assert.True(t, c.Running, name)
	}

	// The lock was released.
	fake.RecreateErr = nil
	res, err = a.Activate(context.Background(), "euB")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestActivate_PersistFailureRestartsDependents(t *testing.T) {
	t.Parallel()

	a, fake, store := setup(t)
	// A non-empty directory where active.conf belongs makes the rename fail.
	active := filepath.Join(store.Dir(), profile.ActiveConfig)
	require.NoError(t, os.Remove(active))
	require.NoError(t, os.MkdirAll(filepath.Join(active, "keep"), 0o700))

	res, err := a.Activate(context.Background(), "euA")
	require.Error(t, err)
	assert.False(t, res.Success)

	assert.Equal(t, []string{
		"stop " + redlib,
		"stop " + invid,
		"start " + redlib,
		"start " + invid,
	}, fake.Calls(), "gateway is not recreated without a persisted profile")

	name, err := store.Active()
	require.NoError(t, err)
	assert.Equal(t, "euB", name)

	// The lock was released.
	require.NoError(t, os.RemoveAll(active))
	res, err = a.Activate(context.Background(), "euA")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestActivate_ConcurrentCallIsBusy(t *testing.T) {
	t.Parallel()

	a, fake, store := setup(t)
	entered := make(chan struct{})
	unblock := make(chan struct{})
	first := true
	fake.OnStop = func(string) {
		if first {
			first = false
			close(entered)
			<-unblock
		}
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := a.Activate(context.Background(), "euA")
		done <- outcome{res, err}
	}()

	<-entered
	res, err := a.Activate(context.Background(), "euB")
	assert.ErrorIs(t, err, ErrLockBusy)
	assert.False(t, res.Success)

	active, err := store.Active()
	require.NoError(t, err)
	assert.Equal(t, "euB", active, "pointer unchanged while dependents are stopping")

	close(unblock)
	got := <-done
	require.NoError(t, got.err)
	assert.True(t, got.res.Success)

	active, err = store.Active()
	require.NoError(t, err)
	assert.Equal(t, "euA", active)
}

func TestActivate_HealthTimeoutStillStartsDependents(t *testing.T) {
	t.Parallel()

	a, fake, _ := setup(t)
	fake.RecreateHealth = engine.HealthUnhealthy

	res, err := a.Activate(context.Background(), "euA")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "not healthy")

	calls := fake.Calls()
	require.Len(t, calls, 5)
	assert.Equal(t, "start "+invid, calls[4])
}

func TestActivate_CancelledAfterStopRunsToCompletion(t *testing.T) {
	t.Parallel()

	a, fake, store := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	fake.OnStop = func(string) { cancel() }

	res, err := a.Activate(ctx, "euA")
	require.NoError(t, err)
	assert.True(t, res.Success)

	active, err := store.Active()
	require.NoError(t, err)
	assert.Equal(t, "euA", active)
	assert.Contains(t, fake.Calls(), "start "+redlib)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	a, _, store := setup(t)

	for i := 0; i < 2; i++ {
		res, err := a.Delete(context.Background(), "never-existed")
		require.NoError(t, err)
		assert.True(t, res.Success)
	}

	_, err := a.Delete(context.Background(), "euB")
	assert.ErrorIs(t, err, ErrProfileActive)

	res, err := a.Delete(context.Background(), "euA")
	require.NoError(t, err)
	assert.True(t, res.Success)

	names, active, err := a.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"euB"}, names)
	assert.Equal(t, "euB", active)

	_, err = store.Get("euA")
	assert.ErrorIs(t, err, profile.ErrNotFound)
}

func TestDelete_BusyWhileLocked(t *testing.T) {
	t.Parallel()

	locker := lock.NewLocal()
	a := New(profile.NewStore(t.TempDir()), enginetest.New(), locker, Options{}, nil, nil)
	release, err := locker.TryLock(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = a.Delete(context.Background(), "euA")
	assert.ErrorIs(t, err, ErrLockBusy)
}

func TestImport_DerivesName(t *testing.T) {
	t.Parallel()

	a, _, _ := setup(t)
	p, err := a.Import(context.Background(), "", []byte("[Interface]\n[Peer]\n# CH Zurich\nPublicKey = x\n"))
	require.NoError(t, err)
	assert.Equal(t, "CH_Zurich", p.Name)

	_, err = a.Import(context.Background(), "euA", []byte("[Interface]\n"))
	assert.ErrorIs(t, err, profile.ErrExists)

	names, _, err := a.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"CH_Zurich", "euA", "euB"}, names)
}
