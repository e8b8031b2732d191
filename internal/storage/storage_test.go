package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepkit/pephub-sub000/internal/auth/keys"
	"github.com/pepkit/pephub-sub000/internal/config"
	"github.com/pepkit/pephub-sub000/internal/projects"
	"github.com/pepkit/pephub-sub000/internal/storage/sqlite"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	k, p, closeFn, err := New(ctx, &config.StorageConfig{Driver: config.StorageDriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &keys.MemoryStore{}, k)
	assert.NotNil(t, p)
	assert.NoError(t, closeFn())

	k, _, closeFn, err = New(ctx, &config.StorageConfig{
		Driver: config.StorageDriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "auth.db"),
	})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.KeyStore{}, k)
	assert.NoError(t, closeFn())

	_, _, _, err = New(ctx, &config.StorageConfig{Driver: "postgres"})
	assert.Error(t, err)
}

func TestSeedProjects(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "projects.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`projects:
  - namespace: alice
    name: p1
    is_private: true
  - namespace: bob
    name: p2
    tag: v1
`), 0o600))

	store := projects.NewMemoryStore(projects.Facts{Namespace: "bob", Name: "p2", Tag: "v1", IsPrivate: true})
	n, err := SeedProjects(ctx, store, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p1, err := store.Facts(ctx, projects.NewRef("alice", "p1", ""))
	require.NoError(t, err)
	assert.True(t, p1.IsPrivate)

	// existing projects are kept as they are
	p2, err := store.Facts(ctx, projects.NewRef("bob", "p2", "v1"))
	require.NoError(t, err)
	assert.True(t, p2.IsPrivate)

	// seeding twice is a no-op
	n, err = SeedProjects(ctx, store, path)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSeedProjects_Errors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := SeedProjects(ctx, projects.NewMemoryStore(), filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("projects:\n  - name: orphan\n"), 0o600))
	_, err = SeedProjects(ctx, projects.NewMemoryStore(), bad)
	assert.ErrorContains(t, err, "namespace and name are required")
}
