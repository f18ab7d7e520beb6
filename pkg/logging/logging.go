// Package logging configures the process-wide logrus instance and hands out
// subsystem-scoped entries, following the pattern used throughout the
// indexer's ambient stack (network.go, security.go's secLogger).
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Setup configures the global logrus logger from the level/file pair found
// in the node's configuration. An empty file writes to stderr.
func Setup(level, file string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if file == "" {
		logrus.SetOutput(os.Stderr)
		return nil
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	logrus.SetOutput(f)
	return nil
}

// For returns a logger entry scoped to a named subsystem, e.g. "thread",
// "auth", "plugin".
func For(subsystem string) *logrus.Entry {
	return logrus.WithField("subsystem", subsystem)
}
