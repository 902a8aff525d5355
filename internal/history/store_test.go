package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndLastOrdersNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	runs := []Run{
		{RunID: NewRunID(), StartedAt: base, FinishedAt: base.Add(time.Minute), HostsTotal: 3, JobsTotal: 5},
		{RunID: NewRunID(), StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Minute), HostsTotal: 3, JobsTotal: 5},
		{RunID: NewRunID(), StartedAt: base.Add(2 * time.Hour), FinishedAt: base.Add(2*time.Hour + time.Minute), HostsTotal: 3, JobsTotal: 5},
	}
	for _, r := range runs {
		require.NoError(t, s.Record(r))
	}

	last, err := s.Last(2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, runs[2].RunID, last[0].RunID)
	assert.Equal(t, runs[1].RunID, last[1].RunID)
}

func TestLastWithNegativeNReturnsAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Record(Run{RunID: NewRunID(), StartedAt: time.Now()}))
	require.NoError(t, s.Record(Run{RunID: NewRunID(), StartedAt: time.Now()}))

	all, err := s.Last(-1)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFormatTableIncludesHostsAndJobs(t *testing.T) {
	runs := []Run{
		{RunID: "r1", StartedAt: time.Now(), FinishedAt: time.Now().Add(90 * time.Second), HostsTotal: 4, HostsFailed: 1, JobsTotal: 9},
	}
	out := FormatTable(runs)
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "3/1")
	assert.Contains(t, out, "9")
}
