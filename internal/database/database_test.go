package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEnvValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# local settings
OTHER=1
export DATABASE_URL="postgres://u:p@localhost:5432/promptsync?sslmode=disable"
`), 0644))

	got, err := readEnvValue(path, "DATABASE_URL")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost:5432/promptsync?sslmode=disable", got)

	_, err = readEnvValue(path, "MISSING")
	assert.ErrorIs(t, err, ErrNoDatabaseURL)
}

func TestReadEnvValue_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DATABASE_URL=''\n"), 0644))

	_, err := readEnvValue(path, "DATABASE_URL")
	assert.Error(t, err)
}

func TestFindEnvFile_WalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("X=1\n"), 0644))

	got, err := findEnvFile(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".env"), got)
}

func TestLoadDatabaseURL_PrefersEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", " postgres://env/db ")
	got, err := loadDatabaseURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", got)
}
