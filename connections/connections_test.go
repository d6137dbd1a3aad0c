package connections

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/b1naryth1ef/sshexplorer/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	c, err := New(" alice ", "example.com", 0)
	require.NoError(t, err)
	assert.Equal(t, Connection{Name: "alice@example.com", User: "alice", Host: "example.com", Port: 22}, c)
	assert.Equal(t, transport.Target{User: "alice", Host: "example.com", Port: 22}, c.Target())

	_, err = New("", "example.com", 22)
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = New("alice", "  ", 22)
	assert.ErrorIs(t, err, ErrInvalidHost)
	_, err = New("alice", "example.com", 70000)
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestOpenMissingFile(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "connections.yaml"))
	require.NoError(t, err)
	assert.Empty(t, store.List())
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "connections.yaml")
	store, err := Open(path)
	require.NoError(t, err)

	bob, _ := New("bob", "build.example.com", 2222)
	alice, _ := New("alice", "example.com", 22)
	require.NoError(t, store.Add(bob))
	require.NoError(t, store.Add(alice))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []Connection{alice, bob}, reopened.List())

	got, ok := reopened.Get("bob@build.example.com")
	require.True(t, ok)
	assert.Equal(t, 2222, got.Port)
}

func TestStoreAddReplaces(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "connections.yaml"))
	require.NoError(t, err)

	first, _ := New("alice", "example.com", 22)
	second, _ := New("alice", "example.com", 2200)
	require.NoError(t, store.Add(first))
	require.NoError(t, store.Add(second))

	list := store.List()
	require.Len(t, list, 1)
	assert.Equal(t, 2200, list[0].Port)
}

func TestStoreAddRejectsInvalid(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "connections.yaml"))
	require.NoError(t, err)
	assert.ErrorIs(t, store.Add(Connection{User: "alice", Host: "example.com"}), ErrInvalidPort)
	assert.Empty(t, store.List())
}

func TestStoreRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.yaml")
	store, err := Open(path)
	require.NoError(t, err)

	c, _ := New("alice", "example.com", 22)
	require.NoError(t, store.Add(c))
	require.NoError(t, store.Remove(c.Name))
	assert.ErrorIs(t, store.Remove(c.Name), ErrNotFound)

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, reopened.List())
}

func TestOpenDefaultsPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.yaml")
	data := "connections:\n  - name: alice@example.com\n    user: alice\n    host: example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	store, err := Open(path)
	require.NoError(t, err)
	c, ok := store.Get("alice@example.com")
	require.True(t, ok)
	assert.Equal(t, 22, c.Port)
}

func TestOpenMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connections: [\n"), 0o600))
	_, err := Open(path)
	assert.Error(t, err)
}
