// Package logrus adapts a logrus logger into the logger of
// the switch.
package logrus

import (
	"fmt"
	"sync/atomic"

	logrus "github.com/sirupsen/logrus"

	"github.com/go-vfsswitch/vfsswitch"
	"github.com/go-vfsswitch/vfsswitch/log"
)

type Logrus struct {
	Logger  *logrus.Logger
	Enable  log.Topics
	counter atomic.Uint64
}

func (l *Logrus) Enabled(topics log.Topics) bool {
	return (l.Enable & topics) != 0
}

// level picks the level of a record, the most severe topic
// winning.
func level(topics log.Topics) logrus.Level {
	switch {
	case topics&log.TopicError != 0:
		return logrus.ErrorLevel
	case topics&(log.TopicCall|log.TopicVerdict) != 0:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// flattenFields expands the values implementing DebugStruct
// into one field per member, prefixed with the name of the
// value.
func flattenFields(fields log.M) logrus.Fields {
	result := make(logrus.Fields, len(fields))
	for name, field := range fields {
		if ds, ok := field.(vfsswitch.DebugStruct); ok {
			if m := ds.Fields(); m != nil {
				for fieldName, value := range m {
					result[name+"."+fieldName] = value
				}
				continue
			}
		}
		if err, ok := field.(error); ok {
			result[name] = err.Error()
			continue
		}
		result[name] = field
	}
	return result
}

func (l *Logrus) Call(name string, args log.M) string {
	if !l.Enabled(log.TopicCall) {
		return ""
	}
	cookie := fmt.Sprintf("%x", l.counter.Add(1))
	l.Logger.WithFields(flattenFields(args)).WithFields(logrus.Fields{
		"name":   name,
		"cookie": cookie,
	}).Log(level(log.TopicCall), "call")
	return cookie
}

func (l *Logrus) Log(topics log.Topics, msg string) {
	if !l.Enabled(topics) {
		return
	}
	l.Logger.Log(level(topics&l.Enable), msg)
}

func (l *Logrus) Logf(topics log.Topics, msg string, args ...any) {
	if !l.Enabled(topics) {
		return
	}
	l.Logger.Logf(level(topics&l.Enable), msg, args...)
}

func (l *Logrus) Return(name, cookie string, rets log.M) {
	if !l.Enabled(log.TopicCall) {
		return
	}
	lvl := level(log.TopicCall)
	if err, ok := rets["err"].(error); ok && err != nil {
		lvl = logrus.InfoLevel
	}
	l.Logger.WithFields(flattenFields(rets)).WithFields(logrus.Fields{
		"name":   name,
		"cookie": cookie,
	}).Log(lvl, "return")
}

var _ log.Log = (*Logrus)(nil)

func Default() *Logrus {
	return &Logrus{
		Logger: logrus.New(),
		Enable: log.AllTopics,
	}
}
