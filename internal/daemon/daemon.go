// Package daemon implements --daemon/--cron (C14): a long-lived process
// that fires a full backup run on a cron schedule instead of running once
// and exiting.
package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/rsnap/rsnap/internal/lock"
)

// RunFunc executes one full backup run. It is invoked once per cron firing.
type RunFunc func(ctx context.Context) error

// Daemon wraps a cron schedule around RunFunc, serializing firings so a
// slow-running backup is never overlapped by the next scheduled one.
type Daemon struct {
	Expr    string
	Run     RunFunc
	Log     *logrus.Logger
	cron    *cron.Cron
	mu      sync.Mutex
	running bool

	// Lease, when set, augments the plain lockfile with the durable
	// bbolt-backed single-instance guard (§4.8): Serve refuses to start if
	// another owner holds an unexpired lease, and renews it periodically
	// for as long as this daemon is alive.
	Lease      *lock.Lease
	OwnerID    string
	LeaseRenew time.Duration // defaults to one third of the lease's own expiry window if zero
}

// New validates the cron expression up front so a typo surfaces at startup
// rather than silently never firing.
func New(expr string, run RunFunc, log *logrus.Logger) (*Daemon, error) {
	if _, err := cron.ParseStandard(expr); err != nil {
		return nil, errors.Wrapf(err, "parse cron expression %q", expr)
	}
	return &Daemon{Expr: expr, Run: run, Log: log}, nil
}

// Serve starts the cron schedule and blocks until ctx is cancelled, then
// stops accepting new firings and waits for any in-flight run to finish.
// If Lease is set, Serve first claims it (failing if another owner holds
// an unexpired lease) and renews it periodically until it stops.
func (d *Daemon) Serve(ctx context.Context) error {
	if d.Lease != nil {
		acquired, err := d.Lease.Acquire(d.OwnerID)
		if err != nil {
			return errors.Wrap(err, "acquire daemon lease")
		}
		if !acquired {
			return errors.New("daemon lease is held by another instance")
		}
		defer func() {
			if err := d.Lease.Release(d.OwnerID); err != nil {
				d.logf("daemon: release lease: %v", err)
			}
		}()

		renewDone := make(chan struct{})
		defer close(renewDone)
		go d.renewLease(renewDone)
	}

	d.cron = cron.New()
	_, err := d.cron.AddFunc(d.Expr, func() { d.fire(ctx) })
	if err != nil {
		return errors.Wrapf(err, "schedule cron expression %q", d.Expr)
	}
	d.cron.Start()

	<-ctx.Done()
	stopCtx := d.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		d.logf("daemon: timed out waiting for in-flight run to finish")
	}
	return nil
}

// renewLease refreshes the lease at an interval well inside its expiry
// window, so a live daemon's lease never lapses under a competing owner.
func (d *Daemon) renewLease(done <-chan struct{}) {
	interval := d.LeaseRenew
	if interval <= 0 {
		interval = d.Lease.Expiry() / 3
	}
	if interval <= 0 {
		interval = time.Minute
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := d.Lease.Renew(d.OwnerID); err != nil {
				d.logf("daemon: renew lease: %v", err)
			}
		case <-done:
			return
		}
	}
}

// fire runs one firing, skipping it entirely if the previous firing is
// still in progress rather than queueing a backlog of overlapping runs.
func (d *Daemon) fire(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		d.logf("daemon: skipping cron firing, previous run still in progress")
		return
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	if err := d.Run(ctx); err != nil {
		d.logf("daemon: run failed: %v", err)
	}
}

func (d *Daemon) logf(format string, args ...interface{}) {
	if d.Log == nil {
		return
	}
	d.Log.Errorf(format, args...)
}
