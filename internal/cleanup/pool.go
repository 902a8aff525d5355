// Package cleanup implements the cleanup pool (C5): a small worker pool that
// rm -rf's each host's <archive>.delete staging directory once all backup
// and report work has completed.
package cleanup

import (
	"context"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rsnap/rsnap/internal/model"
	"github.com/rsnap/rsnap/internal/progress"
)

// Pool runs `Size` workers (default 2, per cleanup_threads) that each pop a
// host directory off a shared list and remove its delete-staging tree.
type Pool struct {
	Size     int
	Progress *progress.Record
	Log      *logrus.Logger

	// RmProgram is the configured rm binary (rm_program, defaults to "rm").
	RmProgram string

	// Exec allows tests to stub the rm subprocess.
	Exec func(ctx context.Context, dir string) error

	mu   sync.Mutex
	dirs []string
}

// Result records the outcome of one host's cleanup.
type Result struct {
	Dir string
	Err error
}

// Run pops the delete-staging directory for each host in hosts and removes
// it, reporting progress the same way the backup phase does (hosts_total/
// hosts_done are reused for the cleanup phase, per the phase-string swap).
func (p *Pool) Run(ctx context.Context, hosts []*model.Host) []Result {
	p.dirs = make([]string, 0, len(hosts))
	for _, h := range hosts {
		p.dirs = append(p.dirs, h.Dir()+"/"+h.ArchiveName+".delete")
	}

	if p.Progress != nil {
		p.Progress.SetPhase("Cleaning up (done %a/%b hosts)", len(hosts), 0)
	}

	size := p.Size
	if size <= 0 {
		size = 2
	}
	if size > len(p.dirs) {
		size = len(p.dirs)
	}
	if size == 0 {
		return nil
	}

	results := make([]Result, 0, len(p.dirs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				dir, ok := p.next()
				if !ok {
					return
				}
				err := p.removeDeleteStaging(ctx, dir)
				mu.Lock()
				results = append(results, Result{Dir: dir, Err: err})
				mu.Unlock()
				if p.Progress != nil {
					p.Progress.IncJobsDone(true)
				}
				if err != nil {
					p.logf(logrus.WarnLevel, "cleanup %s: %v", dir, err)
				}
			}
		}()
	}
	wg.Wait()
	return results
}

func (p *Pool) next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.dirs) == 0 {
		return "", false
	}
	dir := p.dirs[0]
	p.dirs = p.dirs[1:]
	return dir, true
}

func (p *Pool) removeDeleteStaging(ctx context.Context, deleteDir string) error {
	if p.Exec != nil {
		return p.Exec(ctx, deleteDir)
	}
	program := p.RmProgram
	if program == "" {
		program = "rm"
	}
	cmd := exec.CommandContext(ctx, program, "-rf", deleteDir)
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s -rf %s", program, deleteDir)
	}
	return nil
}

func (p *Pool) logf(level logrus.Level, format string, args ...interface{}) {
	if p.Log == nil {
		return
	}
	p.Log.Logf(level, format, args...)
}
