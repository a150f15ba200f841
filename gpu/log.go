package gpu

import "github.com/sirupsen/logrus"

// Debug turns on logging of adapter selection, buffer allocation and dispatch.
var Debug = false

var logger = logrus.New()

// SetLogger routes package logging to l.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		logger = l
	}
}

// Log writes a formatted debug line. Callers check Debug first.
func Log(format string, args ...interface{}) {
	logger.WithField("component", "gpu").Infof(format, args...)
}
