package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/mdpipe/mdcache"
)

var _ mdcache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New wraps l, tagging every line with component=mdcache.
func New(l *logrus.Logger) LogrusLogger {
	return LogrusLogger{E: l.WithField("component", "mdcache")}
}

func (l LogrusLogger) Debug(msg string, f mdcache.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l LogrusLogger) Info(msg string, f mdcache.Fields) { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l LogrusLogger) Warn(msg string, f mdcache.Fields) { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l LogrusLogger) Error(msg string, f mdcache.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}
