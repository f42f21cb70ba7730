package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hubctl/internal/config"
)

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	cases := map[uint64]string{
		0:               "0B",
		1023:            "1023B",
		1024:            "1.0KiB",
		1536:            "1.5KiB",
		5 * 1024 * 1024: "5.0MiB",
		3 << 30:         "3.0GiB",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatBytes(in), in)
	}
}

func TestOverrideServe(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Listen: ":1", ProfilesDir: "/a"}
	overrideServe(&cfg, "", "")
	assert.Equal(t, ":1", cfg.Listen)
	overrideServe(&cfg, ":2", "/b")
	assert.Equal(t, ":2", cfg.Listen)
	assert.Equal(t, "/b", cfg.ProfilesDir)
}

func TestNewApp_WiresFileBackends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "hubctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles_dir: "+filepath.Join(dir, "profiles")+"\nstate_dir: "+dir+"\n"), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	a, err := newApp(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.activator)
	assert.NotNil(t, a.builder)
	names, active, err := a.activator.List()
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Empty(t, active)
}

func TestNewApp_RejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	config.ApplyDefaults(&cfg)
	cfg.Lock.Backend = "etcd"
	_, err := newApp(cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "etcd")
}
