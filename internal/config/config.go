// Package config loads the declarative YAML configuration (C9): global
// defaults plus per-host overrides, matching the schema named in the
// external-interfaces section, plus the smtp_alert_* keys of the optional
// direct-SMTP alert.
package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Hook mirrors model.Hook's YAML shape for config-file decoding.
type Hook struct {
	Command      string `yaml:"command"`
	Progress     string `yaml:"progress"`
	EmailFrom    string `yaml:"email_from"`
	EmailTo      string `yaml:"email_to"`
	EmailSubject string `yaml:"email_subject"`
}

// HostOverride is one per-host block in the config file. Any zero-valued
// field falls back to the global default during merge.
type HostOverride struct {
	Hostname      string   `yaml:"hostname"`
	Group         string   `yaml:"group"`
	SnapshotRoot  string   `yaml:"snapshot_root"`
	ArchiveName   string   `yaml:"archive_name"`
	TempDir       string   `yaml:"temp_dir"`
	Exclude       string   `yaml:"exclude"`
	Rotate        *int     `yaml:"rotate"`
	HostParallel  *int     `yaml:"host_parallel"`
	ParallelPaths []string `yaml:"parallel_paths"`
	Weekdays      []int    `yaml:"weekdays"`
	RshProgram    string   `yaml:"rsh_program"`
	RsyncProgram  string   `yaml:"rsync_program"`
	RsyncOptions  string   `yaml:"rsync_options"`

	AfterHostBackupHook *Hook `yaml:"after_host_backup_hook"`

	// ParallelPath (singular) is rejected outright at validation time: only
	// the plural form is a recognized key.
	ParallelPath string `yaml:"parallel_path"`
}

// Config is the top-level document: global defaults plus the host list.
type Config struct {
	Threads        int `yaml:"threads"`
	CleanupThreads int `yaml:"cleanup_threads"`
	HostParallel   int `yaml:"host_parallel"`
	Rotate         int `yaml:"rotate"`
	LogInterval    int `yaml:"log_interval"`

	SnapshotRoot string `yaml:"snapshot_root"`
	ArchiveName  string `yaml:"archive_name"`
	TempDir      string `yaml:"temp_dir"`
	ReportsDir   string `yaml:"reports_dir"`
	Lockfile     string `yaml:"lockfile"`
	Fifo         string `yaml:"fifo"`
	OKFile       string `yaml:"okfile"`

	RshProgram      string `yaml:"rsh_program"`
	RsyncProgram    string `yaml:"rsync_program"`
	RsyncOptions    string `yaml:"rsync_options"`
	RmProgram       string `yaml:"rm_program"`
	SendmailProgram string `yaml:"sendmail_program"`

	Exclude string `yaml:"exclude"`

	EmailFrom    string `yaml:"email_from"`
	EmailTo      string `yaml:"email_to"`
	EmailSubject string `yaml:"email_subject"`
	WebhookURL   string `yaml:"webhook_url"`

	// SMTPAlertAddr, when set, delivers the same run summary the webhook
	// gets over direct SMTP instead of (or alongside) the webhook POST,
	// for hosts with no local MTA for the sendmail report path.
	SMTPAlertAddr     string   `yaml:"smtp_alert_addr"`
	SMTPAlertFrom     string   `yaml:"smtp_alert_from"`
	SMTPAlertTo       []string `yaml:"smtp_alert_to"`
	SMTPAlertUsername string   `yaml:"smtp_alert_username"`
	SMTPAlertPassword string   `yaml:"smtp_alert_password"`

	LaunchRatePerSec int `yaml:"launch_rate_per_sec"`
	LaunchBurst      int `yaml:"launch_burst"`

	AfterHostBackupHook   *Hook `yaml:"after_host_backup_hook"`
	AfterAllBackupHook    *Hook `yaml:"after_all_backup_hook"`
	DuringAllCleanupHook  *Hook `yaml:"during_all_cleanup_hook"`
	AfterAllCleanupHook   *Hook `yaml:"after_all_cleanup_hook"`

	Hosts []HostOverride `yaml:"hosts"`

	// ParallelPath (singular), top-level: same rejection rule as the
	// per-host key.
	ParallelPath string `yaml:"parallel_path"`
}

// Load reads and decodes the YAML config at path, applies defaults, and
// validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config yaml (unknown or malformed key)")
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Threads == 0 {
		c.Threads = 4
	}
	if c.CleanupThreads == 0 {
		c.CleanupThreads = 2
	}
	if c.HostParallel == 0 {
		c.HostParallel = 1
	}
	if c.ArchiveName == "" {
		c.ArchiveName = "snapshot"
	}
	if c.TempDir == "" {
		c.TempDir = "/tmp/rsnap"
	}
	if c.Lockfile == "" {
		c.Lockfile = "/var/run/rsnap.lock"
	}
	if c.Fifo == "" {
		c.Fifo = "/var/run/rsnap.fifo"
	}
	if c.RshProgram == "" {
		c.RshProgram = "ssh"
	}
	if c.RsyncProgram == "" {
		c.RsyncProgram = "rsync"
	}
	if c.RmProgram == "" {
		c.RmProgram = "rm"
	}
	if c.SendmailProgram == "" {
		c.SendmailProgram = "sendmail"
	}
	if c.LogInterval == 0 {
		c.LogInterval = 300
	}
}

// validate rejects negative numeric fields, a missing snapshot_root or host
// hostname, and the singular parallel_path key at both levels. Unknown keys
// never reach it: Load's decoder rejects them (KnownFields).
func (c *Config) validate() error {
	if c.Threads < 0 {
		return errors.New("threads must not be negative")
	}
	if c.CleanupThreads < 0 {
		return errors.New("cleanup_threads must not be negative")
	}
	if c.HostParallel < 0 {
		return errors.New("host_parallel must not be negative")
	}
	if c.Rotate < 0 {
		return errors.New("rotate must not be negative")
	}
	if c.LaunchRatePerSec < 0 {
		return errors.New("launch_rate_per_sec must not be negative")
	}
	if c.SnapshotRoot == "" {
		return errors.New("snapshot_root is required")
	}
	if c.ParallelPath != "" {
		return errors.New("parallel_path is not a recognized key; use parallel_paths (plural)")
	}
	for _, h := range c.Hosts {
		if h.Hostname == "" {
			return errors.New("every host entry requires a hostname")
		}
		if h.ParallelPath != "" {
			return errors.Errorf("host %s: parallel_path is not a recognized key; use parallel_paths (plural)", h.Hostname)
		}
		if h.Rotate != nil && *h.Rotate < 0 {
			return errors.Errorf("host %s: rotate must not be negative", h.Hostname)
		}
		if h.HostParallel != nil && *h.HostParallel < 0 {
			return errors.Errorf("host %s: host_parallel must not be negative", h.Hostname)
		}
	}
	return nil
}
