// cmd/rsnap/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rsnap/rsnap/cli"
	"github.com/rsnap/rsnap/internal/daemon"
	"github.com/rsnap/rsnap/internal/history"
	"github.com/rsnap/rsnap/internal/lock"
	"github.com/rsnap/rsnap/internal/logging"
	"github.com/rsnap/rsnap/internal/orchestrator"
)

// daemonLeaseExpiry is how long a daemon's claim on the lease survives
// without renewal before another instance may reclaim it.
const daemonLeaseExpiry = 5 * time.Minute

// main is the rsnap entry point. It parses CLI flags and delegates to the
// orchestrator, either for a single run or, under --daemon, for a
// self-scheduling long-lived process.
func main() {
	args := cli.ParseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if args.Daemon {
		os.Exit(runDaemon(ctx, args))
	}

	code, _ := orchestrator.Run(ctx, args, orchestrator.Deps{})
	os.Exit(code)
}

// runDaemon wraps orchestrator.Run in a cron schedule so the process stays
// up and fires a full run on each tick of --cron instead of exiting after
// one run. It opens the run-history store once for the daemon's whole
// lifetime (instead of per firing, as the single-shot path does) so the
// same bbolt file can also back the daemon-mode lease (§4.8): the lease is
// claimed before the schedule starts and released on shutdown, reclaimable
// by another instance once it lapses without renewal.
func runDaemon(ctx context.Context, args cli.CLIArgs) int {
	log := logging.New(args.Debug)

	cfg, err := orchestrator.LoadConfig(args)
	if err != nil {
		logging.LogError(log, "load config", err)
		return 1
	}

	hist, err := history.Open(orchestrator.HistoryPath(cfg))
	if err != nil {
		logging.LogError(log, "open history store", err)
		return 1
	}
	defer hist.Close()

	lease, err := lock.NewLease(hist.DB(), cfg.Lockfile, daemonLeaseExpiry)
	if err != nil {
		logging.LogError(log, "open daemon lease", err)
		return 1
	}

	d, err := daemon.New(args.CronExpr, func(ctx context.Context) error {
		_, err := orchestrator.Run(ctx, args, orchestrator.Deps{Hist: hist})
		return err
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rsnap: %v\n", err)
		return 1
	}
	d.Lease = lease
	d.OwnerID = ownerID()

	if err := d.Serve(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rsnap: %v\n", err)
		return 1
	}
	return 0
}

// ownerID identifies this daemon instance in the lease row: hostname plus
// pid, unique enough to tell two crashed-and-restarted instances apart in
// operator-facing logs without pulling in a UUID just for this.
func ownerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
