// Package logging builds the single *logrus.Logger threaded through
// construction everywhere in this module, following the teacher's
// pattern of a logger created once in main and passed down rather than
// a package-level global.
package logging

import "github.com/sirupsen/logrus"

// New returns a logger at InfoLevel, or DebugLevel when debug is true.
// Debug traces individual record decisions (rename detected, tie-break
// winner); Info traces scan/sync summaries; errors never abort a scan by
// themselves, only a failed commit does.
func New(debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if debug {
		logger.Level = logrus.DebugLevel
	}
	return logger
}
