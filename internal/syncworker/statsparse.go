package syncworker

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/rsnap/rsnap/internal/dispatch"
)

const mbDivisor = 1048576

var (
	reFilesTotal      = regexp.MustCompile(`^Number of files: (\d+)$`)
	reFilesTransf     = regexp.MustCompile(`^Number of (?:regular )?files transferred: (\d+)$`)
	reSizeTotal       = regexp.MustCompile(`^Total file size: (\d+)$`)
	reSizeTransferred = regexp.MustCompile(`^Total transferred file size: (\d+)$`)
)

// ParseStats scans an rsync --stats items log for the four grammar lines
// described in §6, stripping "," and "." before matching, and converts the
// two byte counts to MB (divide by 2^20).
func ParseStats(r io.Reader) (dispatch.Stats, error) {
	var stats dispatch.Stats

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := stripPunctuation(scanner.Text())

		if m := reFilesTotal.FindStringSubmatch(line); m != nil {
			stats.FilesTotal = atoi(m[1])
			continue
		}
		if m := reFilesTransf.FindStringSubmatch(line); m != nil {
			stats.FilesSent = atoi(m[1])
			continue
		}
		if m := reSizeTotal.FindStringSubmatch(line); m != nil {
			stats.BytesTotal = atoi(m[1]) / mbDivisor
			continue
		}
		if m := reSizeTransferred.FindStringSubmatch(line); m != nil {
			stats.BytesSent = atoi(m[1]) / mbDivisor
			continue
		}
	}
	return stats, scanner.Err()
}

func stripPunctuation(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, ".", "")
	return strings.TrimSpace(s)
}

func atoi(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
