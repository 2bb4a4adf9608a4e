package vfsswitch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// lock is a mutex whose acquisition may be bounded.
type lock struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func newLock(timeout time.Duration) *lock {
	return &lock{
		sem:     semaphore.NewWeighted(1),
		timeout: timeout,
	}
}

func (l *lock) acquire(what string) error {
	if l.timeout <= 0 {
		// Cannot fail with a context that is never done.
		_ = l.sem.Acquire(context.Background(), 1)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrapf(ErrTimedOut, "acquire %s lock after %s", what, l.timeout)
	}
	return nil
}

// acquireForever ignores the timeout. It is used to finish
// bookkeeping that cannot be abandoned halfway.
func (l *lock) acquireForever() error {
	return l.sem.Acquire(context.Background(), 1)
}

func (l *lock) release() {
	l.sem.Release(1)
}
