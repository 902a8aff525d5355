// Package cli parses command-line flags into a typed CLIArgs struct,
// matching the flag table §6 describes.
package cli

import "github.com/spf13/pflag"

// CLIArgs holds all configurable options passed via the command line.
// It is populated once in ParseFlags() and then passed around the app.
type CLIArgs struct {
	Hosts []string // positional hostnames

	All    bool
	Groups []string

	ConfigPath string
	Force      bool
	Simulate   bool
	NoCleanup  bool
	Debug      bool
	Progress   bool

	Overrides []string // -o K=V, repeatable

	Select      string // --select EXPR (C13)
	MetricsAddr string // --metrics-addr HOST:PORT (C11)
	History     int    // --history N (C12); 0 means "not requested"

	Daemon   bool   // --daemon (C14)
	CronExpr string // --cron EXPR (C14)
}

// ParseFlags reads command-line flags into CLIArgs using spf13/pflag.
// Returns a fully populated CLIArgs struct.
func ParseFlags() CLIArgs {
	var args CLIArgs

	pflag.BoolVar(&args.All, "all", false, "Back up every configured host")
	pflag.StringArrayVar(&args.Groups, "group", nil, "Include hosts in a named group (repeatable)")
	pflag.StringVar(&args.ConfigPath, "config", "/etc/rsnap.conf", "Path to the config file")
	pflag.BoolVar(&args.Force, "force", false, "Ignore the lockfile; disable the progress fifo")
	pflag.BoolVar(&args.Simulate, "simulate", false, "Skip all filesystem mutation and subprocess execution")
	pflag.BoolVar(&args.NoCleanup, "no-cleanup", false, "Skip the deferred-deletion cleanup phase")
	pflag.BoolVar(&args.Debug, "debug", false, "Verbose trace to stdout (sets the structured logger to debug level)")
	pflag.BoolVar(&args.Progress, "progress", false, "Connect to a running instance's fifo, print its progress report, and exit")
	pflag.StringArrayVarP(&args.Overrides, "override", "o", nil, "Override a config key as K=V (repeatable)")
	pflag.StringVar(&args.Select, "select", "", "Additional boolean host filter expression, applied after --all/group/hostname selection")
	pflag.StringVar(&args.MetricsAddr, "metrics-addr", "", "Expose Prometheus metrics on HOST:PORT while running; unset disables the listener")
	pflag.IntVar(&args.History, "history", 0, "Print the last N run records and exit, instead of running a backup")
	pflag.BoolVar(&args.Daemon, "daemon", false, "Run continuously, self-scheduling on --cron")
	pflag.StringVar(&args.CronExpr, "cron", "", "Cron expression governing --daemon mode")

	pflag.Parse()
	args.Hosts = pflag.Args()
	return args
}
