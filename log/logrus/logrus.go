// Package logrus adapts a *logrus.Entry to nemocache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/nemocache"
)

var _ nemocache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New tags every entry with component=nemocache.
func New(l *logrus.Logger) LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return LogrusLogger{E: l.WithField("component", "nemocache")}
}

func (l LogrusLogger) Debug(msg string, f nemocache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f nemocache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f nemocache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f nemocache.Fields) { l.with(f).Error(msg) }

// with maps an "err" field onto logrus.ErrorKey.
func (l LogrusLogger) with(f nemocache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		if k == "err" {
			k = logrus.ErrorKey
		}
		lf[k] = v
	}
	return l.E.WithFields(lf)
}
