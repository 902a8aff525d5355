// Package orchestrator wires the per-component pieces (C1-C15) into the
// single end-to-end run described in the control-flow summary: load
// config, acquire lockfile, schedule, run backup, finalize, report, clean up,
// teardown.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rsnap/rsnap/cli"
	"github.com/rsnap/rsnap/internal/cleanup"
	"github.com/rsnap/rsnap/internal/config"
	"github.com/rsnap/rsnap/internal/dispatch"
	"github.com/rsnap/rsnap/internal/history"
	"github.com/rsnap/rsnap/internal/lock"
	"github.com/rsnap/rsnap/internal/logging"
	"github.com/rsnap/rsnap/internal/metrics"
	"github.com/rsnap/rsnap/internal/model"
	"github.com/rsnap/rsnap/internal/notify"
	"github.com/rsnap/rsnap/internal/progress"
	"github.com/rsnap/rsnap/internal/ratelimit"
	"github.com/rsnap/rsnap/internal/report"
	"github.com/rsnap/rsnap/internal/selector"
	"github.com/rsnap/rsnap/internal/snapshot"
	"github.com/rsnap/rsnap/internal/syncworker"
)

// Deps lets tests substitute the sync/rm/sendmail subprocess execution and
// the history store, without running real rsync, rm or sendmail.
// Hist, when set, is reused across calls instead of opened and closed per
// run — daemon mode passes its own long-lived store here so the same bbolt
// file also backs the daemon lease (internal/lock.Lease) without two
// competing opens of it.
type Deps struct {
	SyncExec   func(ctx context.Context, name string, args []string, stdout *os.File) error
	RmExec     func(ctx context.Context, dir string) error
	SendmailFn func(program string, stdin []byte) error
	Hist       *history.Store
}

// LoadConfig loads the config file named by args and applies --override
// flags. Exported so --daemon mode can open the run-history store (and the
// lease backed by it) once at startup, ahead of the per-firing Run calls.
func LoadConfig(args cli.CLIArgs) (*config.Config, error) {
	return loadConfig(args)
}

// HistoryPath resolves the run-history store path for cfg. Exported for the
// same reason as LoadConfig.
func HistoryPath(cfg *config.Config) string {
	return historyPath(cfg)
}

// Run executes the full control-flow sequence once: load config, acquire
// lockfile, schedule jobs, run the backup phase, finalize each host, build and
// send the report, run the cleanup phase, teardown. It is itself what
// --daemon fires repeatedly, and what --history/--progress short-circuit
// before reaching.
func Run(ctx context.Context, args cli.CLIArgs, deps Deps) (exitCode int, err error) {
	log := logging.New(args.Debug)

	cfg, err := loadConfig(args)
	if err != nil {
		logging.LogError(log, "load config", err)
		return 1, err
	}

	if args.Progress {
		return requestProgress(cfg)
	}

	hist := deps.Hist
	if hist == nil {
		opened, err := history.Open(historyPath(cfg))
		if err != nil {
			logging.LogError(log, "open history store", err)
			return 1, err
		}
		defer opened.Close()
		hist = opened
	}

	if args.History > 0 {
		runs, err := hist.Last(args.History)
		if err != nil {
			logging.LogError(log, "read run history", err)
			return 1, err
		}
		fmt.Print(history.FormatTable(runs))
		return 0, nil
	}

	lf := &lock.File{Path: cfg.Lockfile}
	if err := lf.Acquire(args.Force); err != nil {
		logging.LogError(log, "acquire lockfile", err)
		if args.All && errors.Is(err, lock.ErrAlreadyLocked) {
			sink := &report.SendmailSink{Program: cfg.SendmailProgram, Exec: deps.SendmailFn}
			body := "Lockfile " + cfg.Lockfile + " exists; this run did not start.\n"
			if sendErr := sink.Send(cfg.EmailFrom, cfg.EmailTo, "rsnap errors: lockfile exists", body); sendErr != nil {
				log.Warnf("send lockfile alert email: %v", sendErr)
			}
		}
		return 1, err
	}
	defer lf.Release()

	return runOnce(ctx, args, cfg, hist, log, deps)
}

func loadConfig(args cli.CLIArgs) (*config.Config, error) {
	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return nil, err
	}
	for _, kv := range args.Overrides {
		if err := config.ApplyOverride(cfg, kv); err != nil {
			return nil, errors.Wrapf(err, "apply override %q", kv)
		}
	}
	return cfg, nil
}

func historyPath(cfg *config.Config) string {
	if cfg.ReportsDir != "" {
		return cfg.ReportsDir + "/history.db"
	}
	return "/var/lib/rsnap/history.db"
}

func requestProgress(cfg *config.Config) (int, error) {
	reply, err := progress.RequestReport(cfg.Fifo, 5*time.Second)
	if err != nil {
		return 1, err
	}
	fmt.Print(reply)
	return 0, nil
}

func runOnce(ctx context.Context, args cli.CLIArgs, cfg *config.Config, hist *history.Store, log *logrus.Logger, deps Deps) (int, error) {
	runID := history.NewRunID()
	startedAt := time.Now()

	snapshot.Simulate = args.Simulate

	hosts := cfg.Hosts()
	exprFilter, err := buildExprFilter(args.Select)
	if err != nil {
		logging.LogError(log, "compile --select expression", err)
		return 1, err
	}

	sel := buildSelector(args)
	kept, err := model.Select(hosts, sel, time.Now().Weekday(), exprFilter)
	if err != nil {
		logging.LogError(log, "select hosts", err)
		return 1, err
	}

	byName := make(map[string]*model.Host, len(kept))
	for _, h := range kept {
		byName[h.Hostname] = h
	}

	plan := model.BuildPlan(kept, func(h *model.Host, part string) int64 {
		d, err := model.GetLastDuration(h.Dir(), part)
		if err != nil {
			log.Warnf("read duration memo for %s/%s: %v", h.Hostname, part, err)
		}
		return d
	})

	rec := progress.New(startedAt)

	mtx := metrics.New()
	mtx.JobsTotal.Set(float64(plan.JobsTotal))
	mtx.HostsInProgress.Set(0)

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	if args.MetricsAddr != "" {
		go func() {
			if err := mtx.Serve(metricsCtx, args.MetricsAddr); err != nil {
				log.Warnf("metrics server: %v", err)
			}
		}()
	}

	var fifoSrv *progress.FIFOServer
	if !args.Force {
		defer os.Remove(cfg.Fifo)
		fifoSrv = &progress.FIFOServer{Path: cfg.Fifo, Record: rec}
		go func() {
			if err := fifoSrv.Serve(); err != nil {
				log.Warnf("progress fifo server: %v", err)
			}
		}()
	}

	emitter := &progress.SyslogEmitter{Record: rec, Interval: time.Duration(cfg.LogInterval) * time.Second}
	go func() {
		if err := emitter.Run(); err != nil {
			log.Warnf("syslog emitter: %v", err)
		}
	}()
	defer rec.SetQuit()

	limiter := ratelimit.New(cfg.LaunchRatePerSec, cfg.LaunchBurst)

	disp := dispatch.New(kept, plan, rec, snapshot.InitializeHost, func(h *model.Host, part string, seconds int64) {
		if err := model.StoreLastDuration(h.Dir(), part, seconds); err != nil {
			log.Warnf("store duration memo for %s/%s: %v", h.Hostname, part, err)
		}
	})

	dispCtx, stopDisp := context.WithCancel(ctx)
	go disp.Run(dispCtx)
	defer stopDisp()

	hipCtx, stopHIP := context.WithCancel(dispCtx)
	go pollHostsInProgress(hipCtx, disp, mtx)

	poolSize := cfg.Threads
	if plan.JobsTotal < poolSize {
		poolSize = plan.JobsTotal
	}
	if poolSize < 1 && plan.JobsTotal > 0 {
		poolSize = 1
	}

	pool := &syncworker.Pool{
		Size:     poolSize,
		TempDir:  cfg.TempDir,
		Simulate: args.Simulate,
		Limiter:  limiter,
		Progress: rec,
		Log:      log,

		Dispatcher: disp,
		Hosts:      func(hostname string) *model.Host { return byName[hostname] },
		Exec:       deps.SyncExec,
	}
	pool.Run(dispCtx)
	stopHIP()
	mtx.HostsInProgress.Set(0)

	if err := ctx.Err(); err != nil {
		log.Warnf("run interrupted: skipping finalize, report and cleanup")
		return 1, errors.Wrap(err, "run interrupted")
	}

	states := disp.HostSnapshot(ctx)

	hostsFailed := 0
	var bytesSent int64
	var summaries []report.HostSummary
	for _, name := range dispatch.SortedHostNames(states) {
		st := states[name]
		bytesSent += st.BytesSent
		mtx.JobDuration.Observe(float64(st.Duration))
		if st.Errors > 0 {
			hostsFailed++
		} else {
			if err := snapshot.Finalize(st.Host, startedAt); err != nil {
				log.Errorf("finalize %s: %+v", name, err)
				hostsFailed++
			}
		}
		summaries = append(summaries, report.HostSummary{Host: st.Host, State: st})
	}

	mtx.JobsDone.Set(float64(plan.JobsTotal))
	mtx.BytesSentTotal.Add(float64(bytesSent))

	if err := snapshot.RunGlobalHook(hookCommand(cfg.AfterAllBackupHook), "after_all_backup_hook"); err != nil {
		log.Warnf("after_all_backup_hook: %v", err)
	}

	body := report.Build(summaries)
	if cfg.ReportsDir != "" {
		if info, statErr := os.Stat(cfg.ReportsDir); statErr == nil && info.IsDir() {
			reportPath := cfg.ReportsDir + "/rsnap." + time.Now().Format("20060102-150405") + ".txt"
			if err := os.WriteFile(reportPath, []byte(body), 0o644); err != nil {
				log.Warnf("write report file: %v", err)
			}
		}
	}
	subject := cfg.EmailSubject
	if subject == "" {
		subject = fmt.Sprintf("rsnap report: %d hosts, %d failed", len(kept), hostsFailed)
	}
	if hostsFailed > 0 {
		subject = "rsnap errors: " + subject
	}
	sink := &report.SendmailSink{Program: cfg.SendmailProgram, Exec: deps.SendmailFn}
	if err := sink.Send(cfg.EmailFrom, cfg.EmailTo, subject, body); err != nil {
		log.Warnf("send report email: %v", err)
	}

	if cfg.WebhookURL != "" {
		webhookClient := notify.NewClient(cfg.WebhookURL, log)
		failedHosts := make([]string, 0, hostsFailed)
		for _, name := range dispatch.SortedHostNames(states) {
			if states[name].Errors > 0 {
				failedHosts = append(failedHosts, name)
			}
		}
		webhookFinishedAt := time.Now()
		_ = webhookClient.Send(notify.RunSummary{
			RunID:           runID,
			StartedAt:       startedAt,
			FinishedAt:      webhookFinishedAt,
			HostsTotal:      len(kept),
			HostsFailed:     hostsFailed,
			JobsTotal:       plan.JobsTotal,
			BytesSentMB:     bytesSent,
			FailedHostnames: failedHosts,
			DurationSeconds: webhookFinishedAt.Sub(startedAt).Seconds(),
			ReportExcerpt:   notify.Excerpt(body),
		})
		webhookClient.Close()
	}

	if cfg.SMTPAlertAddr != "" {
		failedHosts := make([]string, 0, hostsFailed)
		for _, name := range dispatch.SortedHostNames(states) {
			if states[name].Errors > 0 {
				failedHosts = append(failedHosts, name)
			}
		}
		sender := notify.NewSMTPSender(notify.SMTPConfig{
			Addr:     cfg.SMTPAlertAddr,
			From:     cfg.SMTPAlertFrom,
			To:       cfg.SMTPAlertTo,
			Username: cfg.SMTPAlertUsername,
			Password: cfg.SMTPAlertPassword,
		})
		smtpFinishedAt := time.Now()
		if err := sender.Send(notify.RunSummary{
			RunID:           runID,
			StartedAt:       startedAt,
			FinishedAt:      smtpFinishedAt,
			HostsTotal:      len(kept),
			HostsFailed:     hostsFailed,
			JobsTotal:       plan.JobsTotal,
			BytesSentMB:     bytesSent,
			FailedHostnames: failedHosts,
			DurationSeconds: smtpFinishedAt.Sub(startedAt).Seconds(),
			ReportExcerpt:   notify.Excerpt(body),
		}); err != nil {
			log.Warnf("send SMTP alert: %v", err)
		}
	}

	if !args.NoCleanup {
		if err := snapshot.RunGlobalHook(hookCommand(cfg.DuringAllCleanupHook), "during_all_cleanup_hook"); err != nil {
			log.Warnf("during_all_cleanup_hook: %v", err)
		}

		cleanupPool := &cleanup.Pool{
			Size:      cfg.CleanupThreads,
			Progress:  rec,
			Log:       log,
			RmProgram: cfg.RmProgram,
			Exec:      deps.RmExec,
		}
		for _, res := range cleanupPool.Run(ctx, kept) {
			if res.Err != nil {
				log.Warnf("cleanup %s: %v", res.Dir, res.Err)
			}
		}

		if err := snapshot.RunGlobalHook(hookCommand(cfg.AfterAllCleanupHook), "after_all_cleanup_hook"); err != nil {
			log.Warnf("after_all_cleanup_hook: %v", err)
		}
	}

	if cfg.OKFile != "" {
		_ = os.WriteFile(cfg.OKFile, []byte(time.Now().Format(time.RFC3339)+"\n"), 0o644)
	}

	finishedAt := time.Now()
	if err := hist.Record(history.Run{
		RunID:       runID,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		HostsTotal:  len(kept),
		HostsFailed: hostsFailed,
		JobsTotal:   plan.JobsTotal,
		BytesSentMB: bytesSent,
		ExitCode:    0,
	}); err != nil {
		log.Warnf("record run history: %v", err)
	}

	return 0, nil
}

// pollHostsInProgress keeps mtx.HostsInProgress in step with live per-host
// concurrency by periodically sampling the dispatcher's host states, the
// same HostSnapshot call the post-backup report loop uses for its final
// read. Returns once ctx is cancelled (the backup phase has joined).
func pollHostsInProgress(ctx context.Context, disp *dispatch.Dispatcher, mtx *metrics.Metrics) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			states := disp.HostSnapshot(ctx)
			n := 0
			for _, st := range states {
				if st.InProgress > 0 {
					n++
				}
			}
			mtx.HostsInProgress.Set(float64(n))
		}
	}
}

// hookCommand returns hook.Command, or "" for an unset hook, so callers can
// pass the result straight to snapshot.RunGlobalHook without a nil check.
func hookCommand(hook *config.Hook) string {
	if hook == nil {
		return ""
	}
	return hook.Command
}

func buildSelector(args cli.CLIArgs) model.Selector {
	sel := model.Selector{All: args.All}
	if len(args.Groups) > 0 {
		sel.Groups = make(map[string]struct{}, len(args.Groups))
		for _, g := range args.Groups {
			sel.Groups[g] = struct{}{}
		}
	}
	if len(args.Hosts) > 0 {
		sel.Hosts = make(map[string]struct{}, len(args.Hosts))
		for _, h := range args.Hosts {
			sel.Hosts[h] = struct{}{}
		}
	}
	return sel
}

func buildExprFilter(expr string) (model.ExprFilter, error) {
	if expr == "" {
		return nil, nil
	}
	compiled, err := selector.Compile(expr)
	if err != nil {
		return nil, err
	}
	return func(h *model.Host) bool {
		return compiled.Match(h.Hostname, h.Group, h.RunsToday(int(time.Now().Weekday())))
	}, nil
}
