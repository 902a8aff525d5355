package history

import (
	"fmt"
	"strings"
)

// FormatTable renders runs as the fixed-width table `--history N` prints:
// Run ID, Started, Duration, Hosts OK/Failed, Jobs.
func FormatTable(runs []Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-20s %10s %14s %8s\n", "Run ID", "Started", "Duration", "Hosts OK/Failed", "Jobs")
	for _, r := range runs {
		dur := r.FinishedAt.Sub(r.StartedAt).Round(1e9) // nearest second
		hostsOK := r.HostsTotal - r.HostsFailed
		fmt.Fprintf(&b, "%-36s %-20s %10s %14s %8d\n",
			r.RunID, r.StartedAt.Format("2006-01-02 15:04:05"), dur,
			fmt.Sprintf("%d/%d", hostsOK, r.HostsFailed), r.JobsTotal)
	}
	return b.String()
}
