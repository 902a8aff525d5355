// Package report builds the end-of-run text report (C7): per-host failure
// blocks, a fixed-width table grouped by host group with subtotals, and a
// grand total.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rsnap/rsnap/internal/model"
)

// HostSummary is one row's worth of data: the merged host plus its final
// runtime state after the backup phase.
type HostSummary struct {
	Host  *model.Host
	State model.State
}

// Build renders the full report text for a completed run.
func Build(summaries []HostSummary) string {
	var b strings.Builder

	writeFailureBlocks(&b, summaries)
	writeTable(&b, summaries)

	return b.String()
}

func writeFailureBlocks(b *strings.Builder, summaries []HostSummary) {
	for _, s := range summaries {
		if s.State.Errors == 0 {
			continue
		}
		if s.State.Jobs > 1 {
			fmt.Fprintf(b, "%s: %d of %d jobs failed\n", s.Host.Hostname, s.State.Errors, s.State.Jobs)
		} else {
			fmt.Fprintf(b, "%s: failed\n", s.Host.Hostname)
		}
		for _, msg := range s.State.ErrorMessages {
			fmt.Fprintf(b, "  %s\n", msg)
		}
		b.WriteString("\n")
	}
}

func writeTable(b *strings.Builder, summaries []HostSummary) {
	sorted := make([]HostSummary, len(summaries))
	copy(sorted, summaries)
	sort.SliceStable(sorted, func(i, j int) bool {
		gi, gj := sorted[i].Host.Group, sorted[j].Host.Group
		if gi != gj {
			return gi < gj
		}
		return sorted[i].Host.Hostname < sorted[j].Host.Hostname
	})

	fmt.Fprintf(b, "%-20s %12s %12s %10s %10s %10s\n", "Host", "Files Total", "Files Sent", "GB Total", "GB Sent", "Time")

	var grand HostSummary
	var groupTotal HostSummary
	currentGroup := ""
	first := true

	flushGroup := func() {
		if currentGroup == "" && first {
			return
		}
		fmt.Fprintf(b, "%-20s %12d %12d %10.2f %10.2f %10s\n",
			"  subtotal", groupTotal.State.FilesTotal, groupTotal.State.FilesSent,
			mbToGB(groupTotal.State.BytesTotal), mbToGB(groupTotal.State.BytesSent),
			formatDuration(groupTotal.State.Duration))
		b.WriteString("\n")
		groupTotal = HostSummary{}
	}

	for _, s := range sorted {
		if s.Host.Group != currentGroup || first {
			flushGroup()
			currentGroup = s.Host.Group
			first = false
		}

		fmt.Fprintf(b, "%-20s %12d %12d %10.2f %10.2f %10s\n",
			s.Host.Hostname, s.State.FilesTotal, s.State.FilesSent,
			mbToGB(s.State.BytesTotal), mbToGB(s.State.BytesSent),
			formatDuration(s.State.Duration))

		groupTotal.State.FilesTotal += s.State.FilesTotal
		groupTotal.State.FilesSent += s.State.FilesSent
		groupTotal.State.BytesTotal += s.State.BytesTotal
		groupTotal.State.BytesSent += s.State.BytesSent
		groupTotal.State.Duration += s.State.Duration

		grand.State.FilesTotal += s.State.FilesTotal
		grand.State.FilesSent += s.State.FilesSent
		grand.State.BytesTotal += s.State.BytesTotal
		grand.State.BytesSent += s.State.BytesSent
		grand.State.Duration += s.State.Duration
	}
	flushGroup()

	fmt.Fprintf(b, "%-20s %12d %12d %10.2f %10.2f %10s\n",
		"GRAND TOTAL", grand.State.FilesTotal, grand.State.FilesSent,
		mbToGB(grand.State.BytesTotal), mbToGB(grand.State.BytesSent),
		formatDuration(grand.State.Duration))
}

// mbToGB converts the internally-tracked MB figures to GB with the two
// decimal places the report table shows.
func mbToGB(mb int64) float64 {
	return float64(mb) / 1024.0
}

// formatDuration renders seconds as H:MM:SS.
func formatDuration(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
