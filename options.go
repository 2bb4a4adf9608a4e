package vfsswitch

import (
	"time"

	"github.com/go-vfsswitch/vfsswitch/log"
)

type option struct {
	registry    *Registry
	logger      log.Log
	lockTimeout time.Duration
	cwd         string
}

func newOption() *option {
	return &option{
		registry: DefaultRegistry,
		logger:   log.NoLog{},
		cwd:      "/",
	}
}

// Option is the option that could be passed to New.
type Option func(*option)

// WithRegistry resolves backend names against the given
// registry instead of the DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(o *option) {
		o.registry = r
	}
}

// WithLogger sets the logger of the switch. The switch
// does not log by default.
func WithLogger(l log.Log) Option {
	return func(o *option) {
		if l == nil {
			l = log.NoLog{}
		}
		o.logger = l
	}
}

// WithLockTimeout bounds how long an operation waits for the
// mount table lock or a mount's lock. Operations giving up
// fail with ErrTimedOut. Zero, the default, waits forever.
func WithLockTimeout(d time.Duration) Option {
	return func(o *option) {
		o.lockTimeout = d
	}
}

// WithCwd sets the initial working directory. It is not
// required to exist.
func WithCwd(cwd string) Option {
	return func(o *option) {
		o.cwd = cwd
	}
}

// Options is used to aggregate a bundle of options.
func Options(opts ...Option) Option {
	return func(o *option) {
		for _, opt := range opts {
			opt(o)
		}
	}
}
