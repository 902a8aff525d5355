// Package progress holds the shared progress record (C6) and the
// named-pipe IPC server that exposes it to out-of-band queriers.
package progress

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// WorkerState is the per-worker status line shown in a progress report.
type WorkerState struct {
	State        string // "idle", "running", ...
	CurrentJob   string
	Start        time.Time
	LastDuration time.Duration
}

// Record is the process-wide progress record described in §3. It is safe
// for concurrent use: every accessor takes its own mutex, since the
// dispatcher, the sync and cleanup workers and the IPC/logger helpers all
// update or read it from their own goroutines.
type Record struct {
	mu sync.Mutex

	StartedAt time.Time
	Phase     string // template with %a %b %c %d placeholders

	HostsTotal int
	HostsDone  int
	JobsTotal  int
	JobsDone   int

	Workers map[int]*WorkerState

	quit bool
}

// New returns a zeroed Record with its start time set to now.
func New(startedAt time.Time) *Record {
	return &Record{
		StartedAt: startedAt,
		Phase:     "Backing up (done %c/%d jobs, %a/%b hosts)",
		Workers:   make(map[int]*WorkerState),
	}
}

// SetPhase replaces the phase template string (e.g. when entering the
// cleanup phase).
func (r *Record) SetPhase(phase string, hostsTotal, hostsDone int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Phase = phase
	r.HostsTotal = hostsTotal
	r.HostsDone = hostsDone
}

// SetTotals sets the host/job totals once scheduling (C1) has run.
func (r *Record) SetTotals(hostsTotal, jobsTotal int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.HostsTotal = hostsTotal
	r.JobsTotal = jobsTotal
}

// IncJobsDone increments the job counter, and the host counter when the
// caller indicates a host has just completed all its jobs.
func (r *Record) IncJobsDone(hostCompleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.JobsDone++
	if hostCompleted {
		r.HostsDone++
	}
}

// WorkerStart records that a worker has begun a job.
func (r *Record) WorkerStart(id int, jobName string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.Workers[id]
	if !ok {
		w = &WorkerState{}
		r.Workers[id] = w
	}
	w.State = "running"
	w.CurrentJob = jobName
	w.Start = at
}

// WorkerIdle records that a worker finished its job and is now idle,
// remembering the job's duration for the next progress report.
func (r *Record) WorkerIdle(id int, lastDuration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.Workers[id]
	if !ok {
		w = &WorkerState{}
		r.Workers[id] = w
	}
	w.State = "idle"
	w.CurrentJob = ""
	w.LastDuration = lastDuration
}

// Snapshot returns a point-in-time, race-free copy of the host/job totals.
func (r *Record) Snapshot() (hostsTotal, hostsDone, jobsTotal, jobsDone int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.HostsTotal, r.HostsDone, r.JobsTotal, r.JobsDone
}

// Quit reports whether teardown has been requested.
func (r *Record) Quit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quit
}

// SetQuit requests teardown of the progress helpers (C6, C8).
func (r *Record) SetQuit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quit = true
}

// interpolatePhase replaces %a %b %c %d with hosts_done, hosts_total,
// jobs_done, jobs_total respectively, per §3's progress-record template.
func interpolatePhase(phase string, hostsDone, hostsTotal, jobsDone, jobsTotal int) string {
	repl := strings.NewReplacer(
		"%a", strconv.Itoa(hostsDone),
		"%b", strconv.Itoa(hostsTotal),
		"%c", strconv.Itoa(jobsDone),
		"%d", strconv.Itoa(jobsTotal),
	)
	return repl.Replace(phase)
}

// Report renders the free-form human-readable report served over the fifo
// by the progress verb (§4.6): start time, elapsed, interpolated phase, and
// one line per worker.
func (r *Record) Report(now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Elapsed: %s\n", now.Sub(r.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "Phase: %s\n", interpolatePhase(r.Phase, r.HostsDone, r.HostsTotal, r.JobsDone, r.JobsTotal))

	ids := make([]int, 0, len(r.Workers))
	for id := range r.Workers {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}

	for _, id := range ids {
		w := r.Workers[id]
		switch w.State {
		case "running":
			fmt.Fprintf(&b, "worker %d: running %s since %s (last job took %s)\n",
				id, w.CurrentJob, now.Sub(w.Start).Round(time.Second), w.LastDuration.Round(time.Second))
		default:
			fmt.Fprintf(&b, "worker %d: idle (last job took %s)\n", id, w.LastDuration.Round(time.Second))
		}
	}

	return b.String()
}

// PhaseString returns the current interpolated phase string, used by the
// periodic syslog emitter (C6).
func (r *Record) PhaseString() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return interpolatePhase(r.Phase, r.HostsDone, r.HostsTotal, r.JobsDone, r.JobsTotal)
}
