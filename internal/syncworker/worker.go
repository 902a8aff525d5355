// Package syncworker implements the worker pool (C3): a fixed-size set of
// goroutines that pull jobs from the dispatcher (C2), invoke the sync
// subprocess, parse its stats, and report back.
package syncworker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rsnap/rsnap/internal/dispatch"
	"github.com/rsnap/rsnap/internal/model"
	"github.com/rsnap/rsnap/internal/progress"
	"github.com/rsnap/rsnap/internal/ratelimit"
)

// Dispatcher is the subset of *dispatch.Dispatcher a worker needs.
type Dispatcher interface {
	NextJob(ctx context.Context, workerID int) (model.Job, bool)
	JobDone(ctx context.Context, res dispatch.Result)
}

// HostResolver maps a job's hostname to its merged Host record.
type HostResolver func(hostname string) *model.Host

// Pool runs `size` workers against a Dispatcher. Simulate skips subprocess
// execution entirely (§6 --simulate), reporting a synthetic success.
type Pool struct {
	Size     int
	TempDir  string
	Simulate bool
	Limiter  *ratelimit.Limiter
	Progress *progress.Record
	Log      *logrus.Logger

	Dispatcher Dispatcher
	Hosts      HostResolver

	// Exec allows tests to stub subprocess execution.
	Exec func(ctx context.Context, name string, args []string, stdout *os.File) error
}

// Run starts Size workers and blocks until all have exited (queue drained
// or context cancelled). Workers are sized min(threads, jobs) per the
// corrected worker-count Open Question decision, by the caller passing an
// already-clamped Size.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.Size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	tempDir := filepath.Join(p.TempDir, fmt.Sprintf("rsnap.thread.%d", id))
	if !p.Simulate {
		// A stale directory from a crashed prior run must not silently abort
		// this worker (see Open Questions): remove and recreate.
		_ = os.RemoveAll(tempDir)
		if err := os.MkdirAll(tempDir, 0o755); err != nil {
			p.logf(logrus.ErrorLevel, "worker %d: create temp dir: %v", id, err)
			return
		}
	}

	for {
		job, ok := p.Dispatcher.NextJob(ctx, id)
		if !ok {
			return
		}

		start := time.Now()
		p.Progress.WorkerStart(id, job.Hostname+"/"+job.Part, start)

		res := p.runJob(ctx, id, tempDir, job)

		dur := time.Since(start)
		p.Progress.WorkerIdle(id, dur)

		p.Dispatcher.JobDone(ctx, res)
	}
}

func (p *Pool) runJob(ctx context.Context, id int, tempDir string, job model.Job) dispatch.Result {
	host := p.Hosts(job.Hostname)
	start := time.Now()

	if p.Simulate {
		return dispatch.Result{Job: job, DurationSecs: 0, Status: 0}
	}

	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return dispatch.Result{Job: job, Status: 1, ErrorMessage: err.Error()}
		}
	}

	itemsDir := filepath.Join(host.Dir(), host.ArchiveName+".items")
	logPath := filepath.Join(itemsDir, job.Part+".txt")
	if err := os.MkdirAll(itemsDir, 0o755); err != nil {
		return dispatch.Result{Job: job, Status: 1, ErrorMessage: err.Error()}
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		return dispatch.Result{Job: job, Status: 1, ErrorMessage: errors.Wrap(err, "create items log").Error()}
	}
	defer logFile.Close()

	args := BuildCommand(host, tempDir, job)

	status := 0
	if p.Exec != nil {
		if err := p.Exec(ctx, host.RsyncProgram, args, logFile); err != nil {
			status = exitStatus(err)
		}
	} else {
		cmd := exec.Command(host.RsyncProgram, args...)
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		if err := cmd.Run(); err != nil {
			status = exitStatus(err)
		}
	}

	stats, parseErr := func() (dispatch.Stats, error) {
		f, err := os.Open(logPath)
		if err != nil {
			return dispatch.Stats{}, err
		}
		defer f.Close()
		return ParseStats(f)
	}()
	if parseErr != nil {
		p.logf(logrus.WarnLevel, "worker %d: parse stats for %s/%s: %v", id, job.Hostname, job.Part, parseErr)
	}

	res := dispatch.Result{
		Job:          job,
		DurationSecs: int64(time.Since(start).Seconds()),
		Status:       status,
		Stats:        stats,
	}
	if _, tolerated := dispatch.ToleratedStatuses[status]; !tolerated {
		res.ErrorMessage = fmt.Sprintf("%s/%s: sync exited %d", job.Hostname, job.Part, status)
	}
	return res
}

// BuildCommand constructs the rsync argv per §6's grammar.
func BuildCommand(host *model.Host, tempDir string, job model.Job) []string {
	var args []string
	if host.RsyncOptions != "" {
		args = append(args, splitFields(host.RsyncOptions)...)
	}
	args = append(args, "--archive", "--delete", "--numeric-ids", "--stats", "--itemize-changes")
	args = append(args, fmt.Sprintf(`--rsh=%s`, host.RshProgram))
	if host.Exclude != "" {
		args = append(args, splitFields(host.Exclude)...)
	}
	if job.Filter != "" {
		filterPath := filepath.Join(tempDir, "filter")
		_ = os.WriteFile(filterPath, []byte(job.Filter), 0o644)
		args = append(args, "--filter="+fmt.Sprintf(". %s", filterPath))
	}
	latest := filepath.Join(host.Dir(), host.ArchiveName+".latest")
	if _, err := os.Stat(latest); err == nil {
		args = append(args, "--link-dest="+latest+"/")
	}
	args = append(args, host.Hostname+":/")
	args = append(args, filepath.Join(host.Dir(), host.ArchiveName)+"/")
	return args
}

func splitFields(s string) []string {
	var out []string
	field := ""
	for _, r := range s {
		if r == ' ' {
			if field != "" {
				out = append(out, field)
				field = ""
			}
			continue
		}
		field += string(r)
	}
	if field != "" {
		out = append(out, field)
	}
	return out
}

func exitStatus(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func (p *Pool) logf(level logrus.Level, format string, args ...interface{}) {
	if p.Log == nil {
		return
	}
	p.Log.Logf(level, format, args...)
}
