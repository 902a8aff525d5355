package daemon

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/rsnap/rsnap/internal/lock"
)

func openTestLeaseDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "daemon.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewRejectsInvalidCronExpression(t *testing.T) {
	_, err := New("not a cron expr !!", func(ctx context.Context) error { return nil }, nil)
	require.Error(t, err)
}

func TestFireInvokesRunFunc(t *testing.T) {
	var calls int32
	d, err := New("* * * * *", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	d.fire(ctx)
	d.fire(ctx)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFireSkipsOverlappingRun(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	d, err := New("* * * * *", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-release
		return nil
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	go d.fire(ctx)
	<-started

	d.fire(ctx) // should be skipped: previous run still in progress
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	close(release)
}

func TestServeFailsWhenLeaseHeldByAnotherOwner(t *testing.T) {
	db := openTestLeaseDB(t)
	lease, err := lock.NewLease(db, "daemon", time.Minute)
	require.NoError(t, err)

	acquired, err := lease.Acquire("other-instance")
	require.NoError(t, err)
	require.True(t, acquired)

	d, err := New("@every 1h", func(ctx context.Context) error { return nil }, nil)
	require.NoError(t, err)
	d.Lease = lease
	d.OwnerID = "this-instance"

	err = d.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "held by another instance")
}

func TestServeAcquiresRenewsAndReleasesLease(t *testing.T) {
	db := openTestLeaseDB(t)
	lease, err := lock.NewLease(db, "daemon", 20*time.Millisecond)
	require.NoError(t, err)

	d, err := New("@every 1h", func(ctx context.Context) error { return nil }, nil)
	require.NoError(t, err)
	d.Lease = lease
	d.OwnerID = "this-instance"
	d.LeaseRenew = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	// give the renewal goroutine time to run at least once past the lease's
	// own expiry window, proving it kept the lease alive rather than just
	// claiming it once at startup
	time.Sleep(50 * time.Millisecond)
	held, err := lease.Acquire("another-instance")
	require.NoError(t, err)
	assert.False(t, held, "lease must stay held by this instance while Serve runs")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after context cancellation")
	}

	acquired, err := lease.Acquire("another-instance")
	require.NoError(t, err)
	assert.True(t, acquired, "lease must be released once Serve returns")
}

func TestServeStopsOnContextCancel(t *testing.T) {
	d, err := New("@every 1h", func(ctx context.Context) error { return nil }, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after context cancellation")
	}
}
