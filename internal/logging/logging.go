// Package logging provides the structured operational logger (C10),
// distinct from the end-user report (C7) and the periodic syslog emitter
// (C6): a logrus logger gated by --debug.
package logging

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// New builds a logrus logger writing structured text to stderr. debug
// raises the level to Debug (where wrapped pkg/errors chains render with
// %+v) instead of Info.
func New(debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// LogError renders err at error level, using the %+v stack-aware
// formatting of github.com/pkg/errors when the logger is at debug level,
// and a flat message otherwise (§7).
func LogError(log *logrus.Logger, msg string, err error) {
	if log.IsLevelEnabled(logrus.DebugLevel) {
		log.Errorf("%s: %+v", msg, err)
		return
	}
	log.Errorf("%s: %v", msg, errors.Cause(err))
}
