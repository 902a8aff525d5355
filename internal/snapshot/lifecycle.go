// Package snapshot implements the snapshot lifecycle (C4): per-host working
// directory initialization and the atomic finalize/rotate sequence.
package snapshot

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rsnap/rsnap/internal/model"
)

// Simulate, when true, makes every operation in this package a no-op,
// matching --simulate's "preserve scheduling and progress, skip all
// filesystem mutation" contract.
var Simulate bool

// InitializeHost creates <dir>/<archive>/ and <dir>/<archive>.items/ the
// first time a host is admitted. No-op in simulate mode.
func InitializeHost(h *model.Host) error {
	if Simulate {
		return nil
	}
	dir := h.Dir()
	if err := os.MkdirAll(filepath.Join(dir, h.ArchiveName), 0o755); err != nil {
		return errors.Wrapf(err, "initialize working dir for %s", h.Hostname)
	}
	if err := os.MkdirAll(filepath.Join(dir, h.ArchiveName+".items"), 0o755); err != nil {
		return errors.Wrapf(err, "initialize items dir for %s", h.Hostname)
	}
	return nil
}

// Finalize runs the atomic rename/symlink/rotate sequence for one host with
// zero errors (§4.4). Hosts with errors must not call this; their partial
// working directory is left in place for inspection, per §4.4/§7.
func Finalize(h *model.Host, now time.Time) error {
	if Simulate {
		return nil
	}

	dir := h.Dir()
	archive := h.ArchiveName
	dateStamp := now.Format("20060102")

	suffix, err := nextSuffix(dir, archive, dateStamp)
	if err != nil {
		return err
	}

	if err := os.Rename(filepath.Join(dir, archive), filepath.Join(dir, archive+"."+suffix)); err != nil {
		return errors.Wrap(err, "rename working dir to snapshot")
	}
	if err := os.Rename(filepath.Join(dir, archive+".items"), filepath.Join(dir, archive+"."+suffix+".items")); err != nil {
		return errors.Wrap(err, "rename items dir to snapshot items")
	}

	if err := relink(dir, archive+".latest", archive+"."+suffix); err != nil {
		return err
	}
	if err := relink(dir, archive+".items.latest", archive+"."+suffix+".items"); err != nil {
		return err
	}

	if err := runAfterHostHook(h, filepath.Join(dir, archive+"."+suffix)); err != nil {
		return err
	}

	deleteDir := filepath.Join(dir, archive+".delete")
	if err := os.MkdirAll(deleteDir, 0o755); err != nil {
		return errors.Wrap(err, "ensure delete staging dir")
	}

	return rotate(dir, archive, h.Rotate)
}

// nextSuffix finds the next <date>.<NNN> suffix for today, allowing
// multiple runs per day.
func nextSuffix(dir, archive, dateStamp string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return "", errors.Wrap(err, "scan host dir for existing snapshots")
	}

	k := -1
	prefix := archive + "." + dateStamp + "."
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		numStr := strings.TrimPrefix(name, prefix)
		if len(numStr) != 3 {
			continue
		}
		if n, err := strconv.Atoi(numStr); err == nil && n > k {
			k = n
		}
	}
	return fmt.Sprintf("%s.%03d", dateStamp, k+1), nil
}

func relink(dir, linkName, target string) error {
	linkPath := filepath.Join(dir, linkName)
	_ = os.Remove(linkPath) // absent is fine; any other removal error surfaces on Symlink below
	if err := os.Symlink(target, linkPath); err != nil {
		return errors.Wrapf(err, "relink %s -> %s", linkName, target)
	}
	return nil
}

// rotate moves every snapshot beyond the newest `rotate` entries into
// <archive>.delete/, deferring actual deletion to the cleanup pool (C5).
func rotate(dir, archive string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "scan host dir for rotation")
	}

	var snaps []string
	for _, e := range entries {
		if matchSnapshot(e.Name(), archive) != "" {
			snaps = append(snaps, e.Name())
		}
	}
	sort.Strings(snaps)

	if keep < 0 {
		keep = 0
	}
	if len(snaps) <= keep {
		return nil
	}

	toMove := snaps[:len(snaps)-keep]
	for _, name := range toMove {
		if err := moveIfExists(filepath.Join(dir, name), filepath.Join(dir, archive+".delete", name)); err != nil {
			return err
		}
		itemsName := name + ".items"
		if err := moveIfExists(filepath.Join(dir, itemsName), filepath.Join(dir, archive+".delete", itemsName)); err != nil {
			return err
		}
	}
	return nil
}

func matchSnapshot(name, archive string) string {
	prefix := archive + "."
	if !strings.HasPrefix(name, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(name, prefix)
	parts := strings.Split(rest, ".")
	if len(parts) != 2 || len(parts[0]) != 8 || len(parts[1]) != 3 {
		return ""
	}
	return rest
}

func moveIfExists(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "stat %s before rotation move", src)
	}
	if err := os.Rename(src, dst); err != nil {
		return errors.Wrapf(err, "move %s into delete staging", src)
	}
	return nil
}

func runAfterHostHook(h *model.Host, snapPath string) error {
	if h.AfterHostHook == nil || h.AfterHostHook.Command == "" {
		return nil
	}
	cmd := substituteTokens(h.AfterHostHook.Command, h, snapPath)
	return runShell(cmd, "after_host_backup_hook")
}

// substituteTokens replaces %h and %p with hostname and snapshot path.
func substituteTokens(s string, h *model.Host, snapPath string) string {
	repl := strings.NewReplacer("%h", h.Hostname, "%p", snapPath)
	return repl.Replace(s)
}

// RunGlobalHook runs one of the three whole-run hooks (after_all_backup_hook,
// during_all_cleanup_hook, after_all_cleanup_hook): unlike after_host_backup_hook,
// these have no single host to substitute %h/%p against, so command runs verbatim.
// name identifies which hook it is, for the wrapped error.
func RunGlobalHook(command, name string) error {
	if command == "" {
		return nil
	}
	return runShell(command, name)
}

func runShell(command, name string) error {
	cmd := exec.Command("sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "run %s", name)
	}
	return nil
}
