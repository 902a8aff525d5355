package model

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DurationMemoDir is the per-host directory holding one decimal-integer file
// per job part, recording that part's last successful run duration.
const DurationMemoDir = ".rsnap"

// GetLastDuration reads the persisted duration (seconds) for one host part.
// Absence of the file means zero, matching the documented default.
func GetLastDuration(hostDir, part string) (int64, error) {
	path := filepath.Join(hostDir, DurationMemoDir, part)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "read duration memo %s", path)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse duration memo %s", path)
	}
	return v, nil
}

// StoreLastDuration atomically persists the duration (seconds) for one host
// part: write to a sibling temp file, fsync, then rename over the final
// path. Only called on success (see the job_done contract).
func StoreLastDuration(hostDir, part string, seconds int64) error {
	dir := filepath.Join(hostDir, DurationMemoDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create duration memo dir %s", dir)
	}

	finalPath := filepath.Join(dir, part)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "create temp duration memo %s", tmpPath)
	}

	if _, err := f.WriteString(strconv.FormatInt(seconds, 10) + "\n"); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(err, "write temp duration memo %s", tmpPath)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(err, "sync temp duration memo %s", tmpPath)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "close temp duration memo %s", tmpPath)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "rename duration memo into place %s", finalPath)
	}
	return nil
}
