package config

import (
	"github.com/rsnap/rsnap/internal/model"
)

// Hosts merges global defaults into each configured host override, producing
// the fully-resolved host records the scheduler and dispatcher operate on.
func (c *Config) Hosts() []*model.Host {
	hosts := make([]*model.Host, 0, len(c.Hosts))
	for _, o := range c.Hosts {
		hosts = append(hosts, c.mergeHost(o))
	}
	return hosts
}

func (c *Config) mergeHost(o HostOverride) *model.Host {
	h := &model.Host{
		Hostname:      o.Hostname,
		Group:         o.Group,
		SnapshotRoot:  firstNonEmpty(o.SnapshotRoot, c.SnapshotRoot),
		Exclude:       firstNonEmpty(o.Exclude, c.Exclude),
		Rotate:        firstNonNilInt(o.Rotate, c.Rotate),
		HostParallel:  firstNonNilInt(o.HostParallel, c.HostParallel),
		ParallelPaths: o.ParallelPaths,
		RshProgram:    firstNonEmpty(o.RshProgram, c.RshProgram),
		RsyncProgram:  firstNonEmpty(o.RsyncProgram, c.RsyncProgram),
		RsyncOptions:  firstNonEmpty(o.RsyncOptions, c.RsyncOptions),
		ArchiveName:   firstNonEmpty(o.ArchiveName, c.ArchiveName),
		TempDir:       firstNonEmpty(o.TempDir, c.TempDir),
	}

	if len(o.Weekdays) > 0 {
		h.Weekdays = make(map[int]struct{}, len(o.Weekdays))
		for _, d := range o.Weekdays {
			h.Weekdays[d] = struct{}{}
		}
	}

	hook := o.AfterHostBackupHook
	if hook == nil {
		hook = c.AfterHostBackupHook
	}
	if hook != nil {
		h.AfterHostHook = &model.Hook{
			Command:      hook.Command,
			Progress:     hook.Progress,
			EmailFrom:    hook.EmailFrom,
			EmailTo:      hook.EmailTo,
			EmailSubject: hook.EmailSubject,
		}
	}

	return h
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonNilInt(override *int, def int) int {
	if override != nil {
		return *override
	}
	return def
}
