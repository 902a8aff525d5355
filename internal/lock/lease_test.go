package lock

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openTestLeaseDB(t *testing.T) *bbolt.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daemon.db")
	db, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLeaseAcquireRenewRelease(t *testing.T) {
	l, err := NewLease(openTestLeaseDB(t), "daemon", time.Minute)
	require.NoError(t, err)

	ok, err := l.Acquire("instance-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// a second owner must not be able to steal an unexpired lease
	ok, err = l.Acquire("instance-b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Renew("instance-a"))
	require.NoError(t, l.Release("instance-a"))

	// now the lease is free again
	ok, err = l.Acquire("instance-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseExpiredIsReclaimable(t *testing.T) {
	l, err := NewLease(openTestLeaseDB(t), "daemon", time.Millisecond)
	require.NoError(t, err)

	ok, err := l.Acquire("instance-a")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = l.Acquire("instance-b")
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must be reclaimable")
}
