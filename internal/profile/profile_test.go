package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const euA = `[Interface]
PrivateKey = aaa
Address = 10.2.0.2/32

[Peer]
# NL-FREE#123
PublicKey = bbb
Endpoint = 185.1.2.3:51820
AllowedIPs = 0.0.0.0/0
`

func TestImportListGet(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	_, err := s.Import("euB", []byte("[Interface]\r\n"))
	require.NoError(t, err)
	p, err := s.Import("euA", []byte(euA))
	require.NoError(t, err)

	info, err := os.Stat(p.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"euA", "euB"}, names)

	got, err := s.Get("euB")
	require.NoError(t, err)
	assert.Equal(t, "[Interface]\n", string(got.Config))

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImport_Immutable(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	_, err := s.Import("euA", []byte("one"))
	require.NoError(t, err)
	_, err = s.Import("euA", []byte("two"))
	assert.ErrorIs(t, err, ErrExists)

	got, err := s.Get("euA")
	require.NoError(t, err)
	assert.Equal(t, "one", string(got.Config))

	_, err = s.Import("blank", []byte(" \n"))
	assert.ErrorIs(t, err, ErrEmptyConfig)
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"euA", "nl_free-123", "X"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", "../etc", "a b", "active", "a.conf", string(make([]byte, 65))} {
		assert.ErrorIs(t, ValidateName(bad), ErrInvalidName, bad)
	}
}

func TestDelete_IdempotentAndKeepsPointer(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir())
	_, err := s.Import("euA", []byte(euA))
	require.NoError(t, err)
	_, err = s.Import("euB", []byte(euA))
	require.NoError(t, err)
	require.NoError(t, s.SetActive("euA"))

	require.NoError(t, s.Delete("euB"))
	require.NoError(t, s.Delete("euB"))

	active, err := s.Active()
	require.NoError(t, err)
	assert.Equal(t, "euA", active)
}

func TestSetActive_MaterializesConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewStore(dir)
	_, err := s.Import("euA", []byte(euA))
	require.NoError(t, err)

	active, err := s.Active()
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, s.SetActive("euA"))
	data, err := os.ReadFile(filepath.Join(dir, ActiveConfig))
	require.NoError(t, err)
	assert.Equal(t, euA, string(data))

	active, err = s.Active()
	require.NoError(t, err)
	assert.Equal(t, "euA", active)

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"euA"}, names, "active.conf is not a profile")

	assert.ErrorIs(t, s.SetActive("ghost"), ErrNotFound)
}

func TestActive_LegacySymlink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewStore(dir)
	_, err := s.Import("euB", []byte(euA))
	require.NoError(t, err)
	require.NoError(t, os.Symlink(filepath.Join(dir, "euB.conf"), filepath.Join(dir, ActiveConfig)))

	active, err := s.Active()
	require.NoError(t, err)
	assert.Equal(t, "euB", active)

	// Switching replaces the link, not the profile it pointed at.
	_, err = s.Import("euA", []byte("[Interface]\n# other\n"))
	require.NoError(t, err)
	require.NoError(t, s.SetActive("euA"))
	got, err := s.Get("euB")
	require.NoError(t, err)
	assert.Equal(t, euA, string(got.Config))
}

func TestExtractName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "NL-FREE123", ExtractName([]byte(euA)))
	assert.Equal(t, "Home_Server", ExtractName([]byte("# Home Server\n[Interface]\nPrivateKey = x\n")))
	assert.Equal(t, DefaultName, ExtractName([]byte("# Key = value\n[Interface]\n")))
	assert.Equal(t, DefaultName, ExtractName(nil))
}

func TestEndpointOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "185.1.2.3:51820", EndpointOf([]byte(euA)))
	assert.Equal(t, "", EndpointOf([]byte("[Interface]\n")))
}
