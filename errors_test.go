package vfsswitch

import (
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrno(t *testing.T) {
	assert := Assert{assert.New(t)}
	assert.Equal(syscall.Errno(0), Errno(nil))
	assert.Equal(syscall.EINVAL, Errno(ErrInvalidArgument))
	assert.Equal(syscall.ENOENT, Errno(errors.Wrapf(ErrNotFound, "backend %q", "x")))
	assert.Equal(syscall.EEXIST, Errno(errors.Wrap(ErrAlreadyExists, "mount")))
	assert.Equal(syscall.EBUSY, Errno(ErrBusy))
	assert.Equal(syscall.EACCES, Errno(ErrAccessDenied))
	assert.Equal(syscall.EIO, Errno(ErrIOUnsupported))
	assert.Equal(syscall.EXDEV, Errno(ErrCrossDevice))
	assert.Equal(syscall.ETIMEDOUT, Errno(ErrTimedOut))

	// Errors of backends.
	assert.Equal(syscall.ENOENT, Errno(os.ErrNotExist))
	assert.Equal(syscall.ENOENT, Errno(&os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}))
	assert.Equal(syscall.ENOSPC, Errno(fmt.Errorf("write: %w", syscall.ENOSPC)))
	assert.Equal(syscall.EIO, Errno(errors.New("something else")))
}
