// Package log defines the logging interface of the switch.
//
// The switch does not pick a logging framework for its
// users. Instead it logs through this small interface,
// and users adapt the logger of their choice into it
// (see the logrus subpackage).
//
// Every log call is tagged with a topic, so that users
// can filter what the switch reports, and so that the
// switch does not spend time building log records for
// topics nobody listens to.
package log

// Topics specify the masks of the logger topic.
type Topics int

const (
	// TopicCall records the arguments and the result of
	// each public operation of the switch.
	//
	// This affects `Log.Call` and `Log.Return`. They
	// won't be called if TopicCall is not enabled.
	TopicCall Topics = 1 << iota

	// TopicVerdict records the decisions made locally by
	// the switch, e.g. refusing an unmount while files
	// are still open.
	TopicVerdict

	// TopicTrace records mount lookups and node
	// registry transitions.
	TopicTrace

	// TopicError records inconsistencies detected and
	// tolerated by the switch, such as a reference
	// count that is already exhausted.
	TopicError
)

const (
	AllTopics = Topics(0) |
		TopicCall |
		TopicVerdict |
		TopicTrace |
		TopicError
)

// M is the shorthand for `map[string]any`.
type M = map[string]any

// Log is the logger interface.
type Log interface {
	// Check if any of the topic is enabled.
	Enabled(Topics) bool

	// Call records the calling arguments of an operation.
	//
	// The returned cookie associates the call with the
	// result passed to Return.
	Call(name string, args M) string

	// Return records the result of an operation, using
	// the cookie previously returned by Call.
	Return(name, cookie string, rets M)

	// Log with the specified topics.
	Log(topics Topics, msg string)

	// Logf with the specified topics.
	Logf(topics Topics, msg string, args ...any)
}

// NoLog is the null implementation of the Log.
type NoLog struct{}

func (NoLog) Enabled(Topics) bool                         { return false }
func (NoLog) Call(string, M) string                       { return "" }
func (NoLog) Log(topics Topics, msg string)               {}
func (NoLog) Logf(topics Topics, msg string, args ...any) {}
func (NoLog) Return(name, cookie string, rets M)          {}

var _ Log = (*NoLog)(nil)
