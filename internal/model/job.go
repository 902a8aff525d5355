package model

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Job is one unit of work handed to a worker: back up one part of one host.
type Job struct {
	Hostname     string
	Part         string // "full", "part-<encoded-subpath>", or "rest"
	Filter       string // opaque include/exclude expression, empty if none
	LastDuration int64  // seconds, from the duration memo; 0 if unknown
}

// EncodePartName turns a filesystem subpath into the part name used both as
// the job's Part field and as the duration-memo / items-log file name.
func EncodePartName(subpath string) string {
	clean := strings.Trim(subpath, string(filepath.Separator))
	encoded := strings.ReplaceAll(clean, string(filepath.Separator), "_")
	return "part-" + encoded
}

// ExpandJobs builds the job list for one host, per the filter-expansion
// rules: one job per first-level subdirectory of each parallel-path root
// found in the previous snapshot, plus a trailing "rest" job excluding all
// of them. With no parallel paths configured, a single "full" job covers the
// whole host; with parallel paths but no subdirectory found under any of them
// in the previous snapshot (or no previous snapshot), a single "rest" job does.
func ExpandJobs(h *Host) []Job {
	if len(h.ParallelPaths) == 0 {
		return []Job{{Hostname: h.Hostname, Part: "full"}}
	}

	latest := filepath.Join(h.Dir(), h.ArchiveName+".latest")
	var subdirs []string // root-relative "root/child" pairs, for filter construction
	for _, root := range h.ParallelPaths {
		rootAbs := filepath.Join(latest, root)
		entries, err := os.ReadDir(rootAbs)
		if err != nil {
			continue // root absent from prior snapshot: contributes no subdir jobs
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			subdirs = append(subdirs, filepath.Join(root, e.Name()))
		}
	}

	if len(subdirs) == 0 {
		// No parallel-path root existed in the prior snapshot (or there is no
		// prior snapshot): the whole host is backed up as a single "rest" job.
		return []Job{{Hostname: h.Hostname, Part: "rest", Filter: restFilter(nil)}}
	}

	sort.Strings(subdirs)

	jobs := make([]Job, 0, len(subdirs)+1)
	for _, sd := range subdirs {
		jobs = append(jobs, Job{
			Hostname: h.Hostname,
			Part:     EncodePartName(sd),
			Filter:   subdirFilter(sd),
		})
	}
	jobs = append(jobs, Job{Hostname: h.Hostname, Part: "rest", Filter: restFilter(subdirs)})
	return jobs
}

// subdirFilter builds an rsync-style include/exclude filter expression that
// selects only the given subdirectory: ancestors included, siblings
// excluded, the subdirectory itself (and everything under it) included.
func subdirFilter(subdir string) string {
	parts := strings.Split(strings.Trim(subdir, "/"), string(filepath.Separator))
	var b strings.Builder
	prefix := ""
	for _, p := range parts {
		prefix = filepath.Join(prefix, p)
		b.WriteString("+ /" + prefix + "\n")
	}
	b.WriteString("+ /" + prefix + "/**\n")
	b.WriteString("- *\n")
	return b.String()
}

// restFilter builds the filter expression for the trailing "rest" job,
// excluding every subdirectory already covered by a part-job.
func restFilter(covered []string) string {
	var b strings.Builder
	for _, sd := range covered {
		b.WriteString("- /" + strings.Trim(sd, "/") + "\n")
	}
	b.WriteString("+ *\n")
	return b.String()
}
