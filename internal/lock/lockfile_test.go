package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsnap.lock")
	f := &File{Path: path}

	require.NoError(t, f.Acquire(false))
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, f.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileAcquireFailsWhenAlreadyLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsnap.lock")
	f := &File{Path: path}
	require.NoError(t, f.Acquire(false))

	err := f.Acquire(false)
	assert.ErrorIs(t, err, ErrAlreadyLocked)
}

func TestFileAcquireForceBypassesExistingLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsnap.lock")
	f := &File{Path: path}
	require.NoError(t, f.Acquire(false))

	err := f.Acquire(true)
	assert.NoError(t, err)
}

func TestFileReleaseAbsentIsNotAnError(t *testing.T) {
	f := &File{Path: filepath.Join(t.TempDir(), "missing.lock")}
	assert.NoError(t, f.Release())
}
