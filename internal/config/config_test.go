package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rsnap.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "snapshot_root: /backups\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 2, cfg.CleanupThreads)
	assert.Equal(t, 1, cfg.HostParallel)
	assert.Equal(t, "snapshot", cfg.ArchiveName)
	assert.Equal(t, "ssh", cfg.RshProgram)
	assert.Equal(t, "rsync", cfg.RsyncProgram)
	assert.Equal(t, 300, cfg.LogInterval)
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	path := writeConfig(t, "snapshot_root: /backups\nbogus_key: 1\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsSingularParallelPath(t *testing.T) {
	path := writeConfig(t, "snapshot_root: /backups\nparallel_path: /data\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "parallel_paths")
}

func TestLoadRejectsSingularParallelPathPerHost(t *testing.T) {
	path := writeConfig(t, `
snapshot_root: /backups
hosts:
  - hostname: db1
    parallel_path: /data
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "parallel_paths")
}

func TestLoadRequiresSnapshotRoot(t *testing.T) {
	path := writeConfig(t, "threads: 4\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadParsesHostsAndParallelPaths(t *testing.T) {
	path := writeConfig(t, `
snapshot_root: /backups
hosts:
  - hostname: db1
    group: prod
    rotate: 5
    parallel_paths:
      - /var/lib/mysql
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Hosts, 1)
	assert.Equal(t, "db1", cfg.Hosts[0].Hostname)
	assert.Equal(t, "prod", cfg.Hosts[0].Group)
	require.NotNil(t, cfg.Hosts[0].Rotate)
	assert.Equal(t, 5, *cfg.Hosts[0].Rotate)
	assert.Equal(t, []string{"/var/lib/mysql"}, cfg.Hosts[0].ParallelPaths)
}

func TestApplyOverrideTopLevel(t *testing.T) {
	cfg := &Config{SnapshotRoot: "/backups"}
	require.NoError(t, ApplyOverride(cfg, "rotate=7"))
	assert.Equal(t, 7, cfg.Rotate)
}

func TestApplyOverridePerHost(t *testing.T) {
	five := 5
	cfg := &Config{
		SnapshotRoot: "/backups",
		Hosts:        []HostOverride{{Hostname: "db1", Rotate: &five}},
	}
	require.NoError(t, ApplyOverride(cfg, "host.db1.rotate=9"))
	require.NotNil(t, cfg.Hosts[0].Rotate)
	assert.Equal(t, 9, *cfg.Hosts[0].Rotate)
}

func TestApplyOverrideUnknownHostFails(t *testing.T) {
	cfg := &Config{SnapshotRoot: "/backups"}
	err := ApplyOverride(cfg, "host.missing.rotate=9")
	assert.Error(t, err)
}
