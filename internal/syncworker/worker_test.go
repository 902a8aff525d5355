package syncworker

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsnap/rsnap/internal/dispatch"
	"github.com/rsnap/rsnap/internal/model"
	"github.com/rsnap/rsnap/internal/progress"
)

// fakeDispatcher serves a fixed job list to a single worker, one job each.
type fakeDispatcher struct {
	mu       sync.Mutex
	jobs     []model.Job
	Results  []dispatch.Result
}

func (f *fakeDispatcher) NextJob(ctx context.Context, workerID int) (model.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return model.Job{}, false
	}
	j := f.jobs[0]
	f.jobs = f.jobs[1:]
	return j, true
}

func (f *fakeDispatcher) JobDone(ctx context.Context, res dispatch.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Results = append(f.Results, res)
}

func TestPoolRunsJobAndParsesStats(t *testing.T) {
	dir := t.TempDir()
	host := &model.Host{
		Hostname:     "h1",
		ArchiveName:  "snapshot",
		SnapshotRoot: dir,
		RsyncProgram: "rsync",
		RshProgram:   "ssh",
		HostParallel: 1,
	}

	fd := &fakeDispatcher{jobs: []model.Job{{Hostname: "h1", Part: "full"}}}

	pool := &Pool{
		Size:       1,
		TempDir:    dir,
		Progress:   progress.New(time.Now()),
		Dispatcher: fd,
		Hosts:      func(string) *model.Host { return host },
		Exec: func(ctx context.Context, name string, args []string, stdout *os.File) error {
			_, err := stdout.WriteString("Number of files: 100\nNumber of files transferred: 10\nTotal file size: 1,048,576,000\nTotal transferred file size: 10,485,760\n")
			return err
		},
	}

	pool.Run(context.Background())

	require.Len(t, fd.Results, 1)
	res := fd.Results[0]
	assert.Equal(t, 0, res.Status)
	assert.Equal(t, int64(100), res.Stats.FilesTotal)
	assert.Equal(t, int64(1000), res.Stats.BytesTotal)
}

func TestPoolSimulateSkipsSubprocess(t *testing.T) {
	dir := t.TempDir()
	host := &model.Host{Hostname: "h1", ArchiveName: "snapshot", SnapshotRoot: dir, HostParallel: 1}
	fd := &fakeDispatcher{jobs: []model.Job{{Hostname: "h1", Part: "full"}}}

	pool := &Pool{
		Size:       1,
		TempDir:    dir,
		Simulate:   true,
		Progress:   progress.New(time.Now()),
		Dispatcher: fd,
		Hosts:      func(string) *model.Host { return host },
		Exec: func(ctx context.Context, name string, args []string, stdout *os.File) error {
			t.Fatal("simulate mode must not invoke the subprocess")
			return nil
		},
	}

	pool.Run(context.Background())

	require.Len(t, fd.Results, 1)
	assert.Equal(t, 0, fd.Results[0].Status)
}

func TestBuildCommandIncludesLinkDestWhenLatestExists(t *testing.T) {
	dir := t.TempDir()
	host := &model.Host{
		Hostname:     "h1",
		ArchiveName:  "snapshot",
		SnapshotRoot: dir,
		RsyncProgram: "rsync",
		RshProgram:   "ssh",
	}
	require.NoError(t, os.MkdirAll(host.Dir(), 0o755))
	require.NoError(t, os.Symlink(host.Dir(), host.Dir()+"/snapshot.latest"))

	args := BuildCommand(host, t.TempDir(), model.Job{Hostname: "h1", Part: "full"})

	found := false
	for _, a := range args {
		if a == "--link-dest="+host.Dir()+"/snapshot.latest/" {
			found = true
		}
	}
	assert.True(t, found, "expected --link-dest argument, got %v", args)
}
