package cli

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
)

func TestParseFlagsDefaults(t *testing.T) {
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)

	oldArgs := os.Args
	os.Args = []string{"rsnap"}
	defer func() { os.Args = oldArgs }()

	args := ParseFlags()
	assert.False(t, args.All)
	assert.Equal(t, "/etc/rsnap.conf", args.ConfigPath)
	assert.False(t, args.Force)
	assert.False(t, args.Simulate)
	assert.Empty(t, args.Hosts)
	assert.Equal(t, 0, args.History)
}

func TestParseFlagsPositionalHostsAndGroups(t *testing.T) {
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)

	oldArgs := os.Args
	os.Args = []string{"rsnap", "--group", "databases", "--group", "web", "h1", "h2"}
	defer func() { os.Args = oldArgs }()

	args := ParseFlags()
	assert.Equal(t, []string{"databases", "web"}, args.Groups)
	assert.Equal(t, []string{"h1", "h2"}, args.Hosts)
}

func TestParseFlagsOverridesAndSelect(t *testing.T) {
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)

	oldArgs := os.Args
	os.Args = []string{"rsnap", "--all", "-o", "threads=8", "-o", "host.h1.rotate=5", "--select", `group == "web"`}
	defer func() { os.Args = oldArgs }()

	args := ParseFlags()
	assert.True(t, args.All)
	assert.Equal(t, []string{"threads=8", "host.h1.rotate=5"}, args.Overrides)
	assert.Equal(t, `group == "web"`, args.Select)
}

func TestParseFlagsDaemonAndMetrics(t *testing.T) {
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)

	oldArgs := os.Args
	os.Args = []string{"rsnap", "--daemon", "--cron", "0 2 * * *", "--metrics-addr", ":9090", "--history", "5"}
	defer func() { os.Args = oldArgs }()

	args := ParseFlags()
	assert.True(t, args.Daemon)
	assert.Equal(t, "0 2 * * *", args.CronExpr)
	assert.Equal(t, ":9090", args.MetricsAddr)
	assert.Equal(t, 5, args.History)
}
