package vfsswitch

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// Errors resolved locally by the switch, before any backend
// is consulted. They are usually returned wrapped with the
// offending path, so match them with errors.Is.
var (
	ErrInvalidArgument = errors.New("vfs: invalid argument")
	ErrNotFound        = errors.New("vfs: not found")
	ErrAlreadyExists   = errors.New("vfs: already exists")
	ErrBusy            = errors.New("vfs: resource busy")
	ErrAccessDenied    = errors.New("vfs: descriptor not open")
	ErrIOUnsupported   = errors.New("vfs: operation not supported by backend")
	ErrCrossDevice     = errors.New("vfs: cross filesystem rename")
	ErrTimedOut        = errors.New("vfs: lock acquisition timed out")
)

var errnoMap = []struct {
	err   error
	errno syscall.Errno
}{
	{ErrInvalidArgument, syscall.EINVAL},
	{ErrNotFound, syscall.ENOENT},
	{ErrAlreadyExists, syscall.EEXIST},
	{ErrBusy, syscall.EBUSY},
	{ErrAccessDenied, syscall.EACCES},
	{ErrIOUnsupported, syscall.EIO},
	{ErrCrossDevice, syscall.EXDEV},
	{ErrTimedOut, syscall.ETIMEDOUT},
	{os.ErrNotExist, syscall.ENOENT},
	{os.ErrExist, syscall.EEXIST},
	{os.ErrPermission, syscall.EPERM},
	{os.ErrClosed, syscall.EBADF},
}

// Errno converts an error returned by the switch or by a
// backend into the closest errno value, for callers that
// speak the C convention. nil maps to 0.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	for _, m := range errnoMap {
		if errors.Is(err, m.err) {
			return m.errno
		}
	}
	return syscall.EIO
}
