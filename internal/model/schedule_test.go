package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostFixture(name, group string) *Host {
	return &Host{Hostname: name, Group: group, ArchiveName: "snapshot", HostParallel: 1, Rotate: 1}
}

func TestSelectAllSuppressedByExplicitHosts(t *testing.T) {
	hosts := []*Host{hostFixture("h1", ""), hostFixture("h2", "")}
	sel := Selector{All: true, Hosts: map[string]struct{}{"h1": {}}}

	kept, err := Select(hosts, sel, time.Monday, nil)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "h1", kept[0].Hostname)
}

func TestSelectUnknownHostFails(t *testing.T) {
	hosts := []*Host{hostFixture("h1", "")}
	sel := Selector{Hosts: map[string]struct{}{"missing": {}}}

	_, err := Select(hosts, sel, time.Monday, nil)
	require.ErrorIs(t, err, ErrUnknownHost)
}

func TestSelectWeekdayFilterEmptyYieldsError(t *testing.T) {
	h := hostFixture("h1", "")
	h.Weekdays = map[int]struct{}{int(time.Tuesday): {}}

	_, err := Select([]*Host{h}, Selector{All: true}, time.Monday, nil)
	require.ErrorIs(t, err, ErrEmptySelection)
}

func TestBuildPlanSortsLongestFirst(t *testing.T) {
	h1 := hostFixture("h1", "")
	h2 := hostFixture("h2", "")

	lookup := func(h *Host, part string) int64 {
		if h.Hostname == "h1" {
			return 10
		}
		return 100
	}

	plan := BuildPlan([]*Host{h1, h2}, lookup)
	require.Len(t, plan.Jobs, 2)
	assert.Equal(t, "h2", plan.Jobs[0].Hostname, "longer duration job sorts first")
	assert.Equal(t, "h1", plan.Jobs[1].Hostname)
}
