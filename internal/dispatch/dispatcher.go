// Package dispatch implements the job queue and dispatcher (C2) as a single
// actor goroutine owning the queue and the host-state map — the design the
// specification's own notes prefer over a bare shared mutex. Workers interact
// with it only through NextJob/JobDone. The progress record it updates is
// shared with other goroutines and guarded by its own mutex.
package dispatch

import (
	"context"
	"sort"

	"github.com/rsnap/rsnap/internal/model"
	"github.com/rsnap/rsnap/internal/progress"
)

// Stats are the additive per-job metrics parsed from the sync subprocess'
// output (§4.3, §6).
type Stats struct {
	FilesTotal int64
	FilesSent  int64
	BytesTotal int64 // MB
	BytesSent  int64 // MB
}

// ToleratedStatuses are the sync-subprocess exit codes treated as success
// for scheduling purposes (0 = clean, 23 = partial transfer, 24 = vanished
// source files).
var ToleratedStatuses = map[int]struct{}{0: {}, 23: {}, 24: {}}

// Result is what a worker reports back via JobDone.
type Result struct {
	Job          model.Job
	DurationSecs int64
	Status       int
	Stats        Stats
	ErrorMessage string // non-empty only when Status is not tolerated
}

// InitializeHost is called inline, from the dispatcher goroutine, the first
// time a job for that host is admitted (C4's initialize_host).
type InitializeHost func(h *model.Host) error

// StoreDuration persists a job part's duration on success (C1's
// store_last_duration).
type StoreDuration func(h *model.Host, part string, seconds int64)

type nextReq struct {
	workerID int
	reply    chan nextReply
}

type nextReply struct {
	job model.Job
	ok  bool
}

type doneReq struct {
	result Result
	reply  chan struct{}
}

type hostSnapshotReq struct {
	reply chan map[string]model.State
}

// Dispatcher owns the queue and per-host state; all mutation happens on its
// single goroutine (Run), reached only through the channel API below.
type Dispatcher struct {
	hostsByName map[string]*model.State
	queue       []model.Job

	progress *progress.Record

	initHost  InitializeHost
	storeDur  StoreDuration

	nextCh     chan nextReq
	doneCh     chan doneReq
	snapshotCh chan hostSnapshotReq
	stopped    chan struct{}
}

// New builds a dispatcher over the given plan. hosts must contain exactly
// the hosts referenced by plan.Jobs.
func New(hosts []*model.Host, plan model.Plan, rec *progress.Record, initHost InitializeHost, storeDur StoreDuration) *Dispatcher {
	byName := make(map[string]*model.State, len(hosts))
	jobCounts := make(map[string]int, len(hosts))
	for _, j := range plan.Jobs {
		jobCounts[j.Hostname]++
	}
	for _, h := range hosts {
		byName[h.Hostname] = &model.State{Host: h, Jobs: jobCounts[h.Hostname]}
	}

	rec.SetTotals(plan.HostsTotal, plan.JobsTotal)

	return &Dispatcher{
		hostsByName: byName,
		queue:       append([]model.Job(nil), plan.Jobs...),
		progress:    rec,
		initHost:    initHost,
		storeDur:    storeDur,
		nextCh:      make(chan nextReq),
		doneCh:      make(chan doneReq),
		snapshotCh:  make(chan hostSnapshotReq),
		stopped:     make(chan struct{}),
	}
}

// Run drives the actor loop until the context is cancelled or the caller
// stops requesting work (the worker pool's WaitGroup draining is what
// actually determines when the phase ends; Run simply keeps serving
// requests until ctx is done).
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.nextCh:
			job, ok := d.handleNext(req.workerID)
			req.reply <- nextReply{job: job, ok: ok}
		case req := <-d.doneCh:
			d.handleDone(req.result)
			close(req.reply)
		case req := <-d.snapshotCh:
			req.reply <- d.hostSnapshotLocked()
		}
	}
}

// NextJob implements the next_job(worker_id) contract (§4.2).
func (d *Dispatcher) NextJob(ctx context.Context, workerID int) (model.Job, bool) {
	reply := make(chan nextReply, 1)
	select {
	case d.nextCh <- nextReq{workerID: workerID, reply: reply}:
	case <-ctx.Done():
		return model.Job{}, false
	}
	select {
	case r := <-reply:
		return r.job, r.ok
	case <-ctx.Done():
		return model.Job{}, false
	}
}

// JobDone implements the job_done(job, duration, status, stats) contract.
func (d *Dispatcher) JobDone(ctx context.Context, res Result) {
	reply := make(chan struct{})
	select {
	case d.doneCh <- doneReq{result: res, reply: reply}:
	case <-ctx.Done():
		return
	}
	select {
	case <-reply:
	case <-ctx.Done():
	}
}

// HostSnapshot returns a point-in-time copy of all host states. The
// orchestrator samples it during the backup phase for the hosts-in-progress
// gauge, and reads it once more for reporting (C7) after the phase has joined.
func (d *Dispatcher) HostSnapshot(ctx context.Context) map[string]model.State {
	reply := make(chan map[string]model.State, 1)
	select {
	case d.snapshotCh <- hostSnapshotReq{reply: reply}:
	case <-ctx.Done():
		return nil
	}
	select {
	case m := <-reply:
		return m
	case <-ctx.Done():
		return nil
	}
}

// handleNext implements the split-end scan: even worker IDs walk the queue
// head-to-tail, odd worker IDs walk tail-to-head, so that two large jobs
// run concurrently instead of two workers contending for the same host.
func (d *Dispatcher) handleNext(workerID int) (model.Job, bool) {
	n := len(d.queue)
	if n == 0 {
		return model.Job{}, false
	}

	ascending := workerID%2 == 0
	for i := 0; i < n; i++ {
		idx := i
		if !ascending {
			idx = n - 1 - i
		}
		job := d.queue[idx]
		st := d.hostsByName[job.Hostname]
		if st == nil || !st.Admissible() {
			continue
		}

		d.queue = append(d.queue[:idx], d.queue[idx+1:]...)
		st.InProgress++
		if !st.Initialized {
			if d.initHost != nil {
				_ = d.initHost(st.Host) // filesystem errors during init are not fatal to scheduling
			}
			st.Initialized = true
		}
		return job, true
	}
	return model.Job{}, false
}

func (d *Dispatcher) handleDone(res Result) {
	st := d.hostsByName[res.Job.Hostname]
	if st == nil {
		return
	}

	st.InProgress--
	st.FilesTotal += res.Stats.FilesTotal
	st.FilesSent += res.Stats.FilesSent
	st.BytesTotal += res.Stats.BytesTotal
	st.BytesSent += res.Stats.BytesSent
	st.Duration += res.DurationSecs

	st.JobsDone++
	hostCompleted := st.JobsDone == st.Jobs
	d.progress.IncJobsDone(hostCompleted)

	if _, ok := ToleratedStatuses[res.Status]; ok {
		if d.storeDur != nil {
			d.storeDur(st.Host, res.Job.Part, res.DurationSecs)
		}
	} else {
		st.Errors++
		st.ErrorMessages = append(st.ErrorMessages, res.ErrorMessage)
	}
}

func (d *Dispatcher) hostSnapshotLocked() map[string]model.State {
	out := make(map[string]model.State, len(d.hostsByName))
	for name, st := range d.hostsByName {
		out[name] = *st
	}
	return out
}

// SortedHostNames is a small convenience used by the reporting phase to get
// deterministic (group, hostname) ordering; see internal/report.
func SortedHostNames(states map[string]model.State) []string {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := states[names[i]], states[names[j]]
		if a.Host.Group != b.Host.Group {
			return a.Host.Group < b.Host.Group
		}
		return names[i] < names[j]
	})
	return names
}
