package progress

import (
	"log/syslog"
	"time"
)

// SyslogEmitter periodically writes the record's interpolated phase string
// to the system log (facility daemon, tag rsnap), matching the ambient
// operational visibility the process should have even without --progress.
type SyslogEmitter struct {
	Record   *Record
	Interval time.Duration

	writer *syslog.Writer
}

// Run opens a syslog connection and emits the phase every Interval until the
// record's quit flag is set. Interval <= 0 disables emission entirely (the
// loop returns immediately), matching log_interval = 0.
func (e *SyslogEmitter) Run() error {
	if e.Interval <= 0 {
		return nil
	}

	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "rsnap")
	if err != nil {
		return err
	}
	e.writer = w
	defer w.Close()

	const pollEvery = time.Second
	elapsed := time.Duration(0)
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for !e.Record.Quit() {
		<-ticker.C
		elapsed += pollEvery
		if elapsed < e.Interval {
			continue
		}
		elapsed = 0
		_ = w.Info(e.Record.PhaseString())
	}
	return nil
}
