package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rsnap/rsnap/internal/model"
)

func TestBuildIncludesFailureBlockForHostWithErrors(t *testing.T) {
	summaries := []HostSummary{
		{
			Host: &model.Host{Hostname: "db1", Group: "prod"},
			State: model.State{
				Jobs: 2, Errors: 1,
				ErrorMessages: []string{"db1/part-foo: sync exited 12"},
				FilesTotal:    100, FilesSent: 10,
				BytesTotal: 2048, BytesSent: 1024,
				Duration: 65,
			},
		},
	}

	out := Build(summaries)

	assert.Contains(t, out, "db1: 1 of 2 jobs failed")
	assert.Contains(t, out, "db1/part-foo: sync exited 12")
	assert.Contains(t, out, "db1")
	assert.Contains(t, out, "GRAND TOTAL")
}

func TestBuildGroupsAndSubtotals(t *testing.T) {
	summaries := []HostSummary{
		{Host: &model.Host{Hostname: "web1", Group: "web"}, State: model.State{FilesTotal: 10, BytesTotal: 1024, Duration: 61}},
		{Host: &model.Host{Hostname: "web2", Group: "web"}, State: model.State{FilesTotal: 20, BytesTotal: 2048, Duration: 62}},
		{Host: &model.Host{Hostname: "db1", Group: "db"}, State: model.State{FilesTotal: 5, BytesTotal: 512, Duration: 30}},
	}

	out := Build(summaries)
	lines := strings.Split(out, "\n")

	var subtotalCount int
	for _, l := range lines {
		if strings.Contains(l, "subtotal") {
			subtotalCount++
		}
	}
	assert.Equal(t, 2, subtotalCount, "one subtotal per group")
	assert.Contains(t, out, formatDuration(123)) // web group subtotal: 61+62s
}

func TestFormatDurationRendersHMMSS(t *testing.T) {
	assert.Equal(t, "0:00:05", formatDuration(5))
	assert.Equal(t, "1:01:01", formatDuration(3661))
}

func TestMBToGBConversion(t *testing.T) {
	assert.InDelta(t, 1.0, mbToGB(1024), 0.001)
}
