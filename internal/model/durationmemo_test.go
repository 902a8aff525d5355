package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationMemoRoundTrip(t *testing.T) {
	dir := t.TempDir()

	got, err := GetLastDuration(dir, "full")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got, "absent memo defaults to zero")

	require.NoError(t, StoreLastDuration(dir, "full", 42))

	got, err = GetLastDuration(dir, "full")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestDurationMemoOverwrite(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, StoreLastDuration(dir, "part-data_a", 10))
	require.NoError(t, StoreLastDuration(dir, "part-data_a", 99))

	got, err := GetLastDuration(dir, "part-data_a")
	require.NoError(t, err)
	assert.Equal(t, int64(99), got)
}

func TestDurationMemoPartsIndependent(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, StoreLastDuration(dir, "part-data_a", 10))
	require.NoError(t, StoreLastDuration(dir, "part-data_b", 20))

	a, err := GetLastDuration(dir, "part-data_a")
	require.NoError(t, err)
	b, err := GetLastDuration(dir, "part-data_b")
	require.NoError(t, err)

	assert.Equal(t, int64(10), a)
	assert.Equal(t, int64(20), b)
}
