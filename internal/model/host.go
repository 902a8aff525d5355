// Package model holds the host/job/schedule data types that flow between the
// dispatcher, worker pool, and snapshot lifecycle.
package model

import "path/filepath"

// Hook is a named external-program invocation, with the %h/%p token
// substitutions described by the host record's hooks.
type Hook struct {
	Command      string `yaml:"command"`
	Progress     string `yaml:"progress"`
	EmailFrom    string `yaml:"email_from"`
	EmailTo      string `yaml:"email_to"`
	EmailSubject string `yaml:"email_subject"`
}

// Host is the fully merged (defaults + per-host override) configuration for
// one backup target.
type Host struct {
	Hostname        string
	Group           string
	SnapshotRoot    string
	Exclude         string
	Rotate          int
	HostParallel    int
	ParallelPaths   []string
	Weekdays        map[int]struct{} // nil means "every day"
	AfterHostHook   *Hook
	RshProgram      string
	RsyncProgram    string
	RsyncOptions    string
	ArchiveName     string
	TempDir         string
}

// Dir is <snapshot_root>[/group]/hostname.
func (h *Host) Dir() string {
	if h.Group != "" {
		return filepath.Join(h.SnapshotRoot, h.Group, h.Hostname)
	}
	return filepath.Join(h.SnapshotRoot, h.Hostname)
}

// RunsToday reports whether the host's weekday filter admits the given
// weekday (0 = Sunday .. 6 = Saturday, matching time.Weekday).
func (h *Host) RunsToday(weekday int) bool {
	if len(h.Weekdays) == 0 {
		return true
	}
	_, ok := h.Weekdays[weekday]
	return ok
}

// State is the mutable runtime counters for one host, owned exclusively by
// the dispatcher actor (see internal/dispatch).
type State struct {
	Host *Host

	Jobs        int
	JobsDone    int
	InProgress  int
	Initialized bool

	Errors        int
	ErrorMessages []string

	FilesTotal int64
	FilesSent  int64
	BytesTotal int64 // MB
	BytesSent  int64 // MB
	Duration   int64 // seconds, summed across this host's jobs
}

// Admissible reports whether another job for this host may be dispatched.
func (s *State) Admissible() bool {
	return s.InProgress < s.Host.HostParallel
}
