// Package selector implements --select (C13): an optional boolean
// expression narrowing the hosts already picked by the base hostname/group
// selector.
package selector

import (
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
)

// hostEnv is the field set an expression may reference: hostname, group,
// weekday_ok (whether the host's weekday filter admits today).
type hostEnv struct {
	Hostname  string `expr:"hostname"`
	Group     string `expr:"group"`
	WeekdayOK bool   `expr:"weekday_ok"`
}

// Expr is a compiled --select expression.
type Expr struct {
	program *vm.Program
}

// Compile parses and compiles a boolean expression string over hostname,
// group, and weekday_ok.
func Compile(input string) (*Expr, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("empty --select expression")
	}

	program, err := expr.Compile(input, expr.Env(hostEnv{}), expr.AsBool())
	if err != nil {
		return nil, errors.Wrap(err, "compile --select expression")
	}
	return &Expr{program: program}, nil
}

// Match evaluates the expression against one host's fields. A run error
// (should not happen after expr.AsBool() compile-time checking) is treated
// as non-match rather than propagated, since --select is a narrowing-only
// filter.
func (e *Expr) Match(hostname, group string, weekdayOK bool) bool {
	out, err := expr.Run(e.program, hostEnv{Hostname: hostname, Group: group, WeekdayOK: weekdayOK})
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}
