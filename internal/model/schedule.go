package model

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Selector carries the CLI selection inputs: --all, --group (repeatable),
// explicit hostnames.
type Selector struct {
	All     bool
	Groups  map[string]struct{}
	Hosts   map[string]struct{}
}

// ExprFilter is the optional --select host filter (C13); nil means no
// expression filter is applied.
type ExprFilter func(h *Host) bool

// ErrUnknownHost is returned when an explicit CLI hostname is not present in
// the configuration.
var ErrUnknownHost = errors.New("unknown host")

// ErrEmptySelection is returned when, after filtering, no host remains.
var ErrEmptySelection = errors.New("empty host selection")

// Select applies --all/--group/hostname selection, then the weekday filter,
// then (if non-nil) the --select expression filter, in that order — each
// stage can only narrow, never widen, the previous stage's result.
func Select(all []*Host, sel Selector, today time.Weekday, expr ExprFilter) ([]*Host, error) {
	byName := make(map[string]*Host, len(all))
	for _, h := range all {
		byName[h.Hostname] = h
	}

	effectiveAll := sel.All
	if effectiveAll && (len(sel.Groups) > 0 || len(sel.Hosts) > 0) {
		effectiveAll = false // more specific selector wins
	}

	for name := range sel.Hosts {
		if _, ok := byName[name]; !ok {
			return nil, errors.Wrapf(ErrUnknownHost, "%s", name)
		}
	}

	var kept []*Host
	for _, h := range all {
		switch {
		case effectiveAll:
		case len(sel.Hosts) > 0 || len(sel.Groups) > 0:
			_, byHost := sel.Hosts[h.Hostname]
			_, byGroup := sel.Groups[h.Group]
			if !byHost && !byGroup {
				continue
			}
		default:
			continue
		}

		if !h.RunsToday(int(today)) {
			continue
		}

		if expr != nil && !expr(h) {
			continue
		}

		kept = append(kept, h)
	}

	if len(kept) == 0 {
		return nil, ErrEmptySelection
	}
	return kept, nil
}

// Plan is the fully-expanded, duration-sorted job list for a run, together
// with the host and job totals the dispatcher seeds the progress record from.
type Plan struct {
	Jobs       []Job
	HostsTotal int
	JobsTotal  int
}

// DurationLookup resolves a job's last known duration; normally
// model.GetLastDuration against the host's directory.
type DurationLookup func(h *Host, part string) int64

// BuildPlan expands every kept host into jobs, looks up durations, and sorts
// the combined list longest-first.
func BuildPlan(hosts []*Host, lookup DurationLookup) Plan {
	var jobs []Job
	for _, h := range hosts {
		for _, j := range ExpandJobs(h) {
			j.LastDuration = lookup(h, j.Part)
			jobs = append(jobs, j)
		}
	}

	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].LastDuration > jobs[k].LastDuration
	})

	return Plan{Jobs: jobs, HostsTotal: len(hosts), JobsTotal: len(jobs)}
}
