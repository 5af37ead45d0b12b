package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepBackupDefaultsToTrue(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.True(t, f.KeepBackup())
}

func TestKeepBackupReadsEveryCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	f := NewFile(path, nil)

	require.NoError(t, os.WriteFile(path, []byte("keep_backup: false\n"), 0o644))
	assert.False(t, f.KeepBackup())

	require.NoError(t, os.WriteFile(path, []byte("keep_backup: true\n"), 0o644))
	assert.True(t, f.KeepBackup())
}

func TestKeepBackupMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("other: 1\n"), 0o644))
	assert.True(t, NewFile(path, nil).KeepBackup())
}

func TestKeepBackupBrokenFileUsesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keep_backup: [\n"), 0o644))
	f := NewFile(path, nil)

	_, err := f.Load()
	assert.Error(t, err)
	assert.True(t, f.KeepBackup())
}

func TestSetKeepBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.yaml")
	f := NewFile(path, nil)

	require.NoError(t, f.SetKeepBackup(false))
	assert.False(t, f.KeepBackup())

	require.NoError(t, f.SetKeepBackup(true))
	p, err := f.Load()
	require.NoError(t, err)
	assert.True(t, p.KeepBackup)
}
