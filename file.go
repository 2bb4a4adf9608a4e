package vfsswitch

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-vfsswitch/vfsswitch/log"
)

// OpenFlag is the open mode of a descriptor.
type OpenFlag uint32

const (
	FlagRead OpenFlag = 1 << iota
	FlagWrite
	FlagAppend
	FlagCreate
	FlagTruncate
	FlagExclusive
	FlagDirectory

	// FlagOpen is set by the switch on open descriptors.
	FlagOpen
)

var openFlagNames = []struct {
	flag OpenFlag
	name string
}{
	{FlagRead, "READ"},
	{FlagWrite, "WRITE"},
	{FlagAppend, "APPEND"},
	{FlagCreate, "CREATE"},
	{FlagTruncate, "TRUNCATE"},
	{FlagExclusive, "EXCLUSIVE"},
	{FlagDirectory, "DIRECTORY"},
	{FlagOpen, "OPEN"},
}

func (f OpenFlag) String() string {
	var flags []string
	for _, item := range openFlagNames {
		if f&item.flag != 0 {
			flags = append(flags, item.name)
			f ^= item.flag
		}
	}
	if f != 0 {
		flags = append(flags, fmt.Sprintf("0x%x", uint32(f)))
	}
	if len(flags) == 0 {
		return "0"
	}
	return strings.Join(flags, "|")
}

// Descriptor is the handle of an open file.
//
// The zero value is a closed descriptor, ready to be passed
// to Switch.Open. A descriptor must not be used by several
// goroutines at the same time.
type Descriptor struct {
	node  *FileNode
	pos   int64
	flags OpenFlag
	ctx   any
}

// IsOpen reports whether the descriptor refers to a file.
func (fd *Descriptor) IsOpen() bool {
	return fd.node != nil && fd.flags&FlagOpen != 0
}

// Node is the file node of an open descriptor.
func (fd *Descriptor) Node() *FileNode { return fd.node }

// Pos is the current position of the descriptor.
func (fd *Descriptor) Pos() int64 { return fd.pos }

// SetPos is used by backends to advance the position.
func (fd *Descriptor) SetPos(pos int64) { fd.pos = pos }

// Flags returns the open mode of the descriptor.
func (fd *Descriptor) Flags() OpenFlag { return fd.flags }

// Context returns the backend state stored by SetContext.
func (fd *Descriptor) Context() any { return fd.ctx }

// SetContext stores backend state in the descriptor. It is
// cleared when the descriptor is closed.
func (fd *Descriptor) SetContext(ctx any) { fd.ctx = ctx }

func (fd *Descriptor) reset() {
	*fd = Descriptor{}
}

// Open resolves path against the working directory and
// opens it on fd.
func (s *Switch) Open(fd *Descriptor, path string, flags OpenFlag) (rerr error) {
	ret := s.logCall("Open", log.M{"path": path, "flags": flags})
	defer func() { ret(log.M{"fd": fd, "err": rerr}) }()

	if fd.node != nil {
		return errors.Wrapf(ErrAlreadyExists, "descriptor already open on %q", fd.node.path)
	}
	abspath, err := s.resolve(path)
	if err != nil {
		return err
	}
	m, rel, err := s.lookup(abspath)
	if err != nil {
		return err
	}
	if m.driver.open == nil {
		return errors.Wrapf(ErrIOUnsupported, "open on %q", m.driver.name)
	}

	if err := m.lock.acquire("mount " + m.path); err != nil {
		return err
	}
	defer m.lock.release()
	if m.detached.Load() {
		return errors.Wrapf(ErrNotFound, "no filesystem mounted for %q", abspath)
	}
	node := m.retainNodeLocked(s.logger, rel)
	fd.node = node
	fd.pos = 0
	fd.flags = flags | FlagOpen
	fd.ctx = nil
	if err := m.driver.open.Open(fd); err != nil {
		m.releaseNodeLocked(s.logger, node)
		fd.reset()
		return err
	}
	return nil
}

// Close closes fd. When the backend fails to close, fd is
// left open so that closing can be retried.
func (s *Switch) Close(fd *Descriptor) (rerr error) {
	ret := s.logCall("Close", log.M{"fd": fd})
	defer func() { ret(log.M{"err": rerr}) }()

	if !fd.IsOpen() {
		return errors.Wrap(ErrAccessDenied, "descriptor not open")
	}
	m := fd.node.mount
	if err := m.lock.acquire("mount " + m.path); err != nil {
		return err
	}
	defer m.lock.release()
	if m.driver.close != nil {
		if err := m.driver.close.Close(fd); err != nil {
			return err
		}
	}
	m.releaseNodeLocked(s.logger, fd.node)
	fd.reset()
	return nil
}

// driverOf checks that fd is open and returns the driver
// serving it.
func driverOf(fd *Descriptor) (*Driver, error) {
	if !fd.IsOpen() {
		return nil, errors.Wrap(ErrAccessDenied, "descriptor not open")
	}
	return fd.node.mount.driver, nil
}

func unsupported(d *Driver, op string) error {
	return errors.Wrapf(ErrIOUnsupported, "%s on %q", op, d.name)
}

// Read reads from fd at its position.
func (s *Switch) Read(fd *Descriptor, buf []byte) (n int, rerr error) {
	ret := s.logCall("Read", log.M{"fd": fd, "len": len(buf)})
	defer func() { ret(log.M{"n": n, "err": rerr}) }()

	d, err := driverOf(fd)
	if err != nil {
		return 0, err
	}
	if d.read == nil {
		return 0, unsupported(d, "read")
	}
	return d.read.Read(fd, buf)
}

// Write writes to fd at its position.
func (s *Switch) Write(fd *Descriptor, buf []byte) (n int, rerr error) {
	ret := s.logCall("Write", log.M{"fd": fd, "len": len(buf)})
	defer func() { ret(log.M{"n": n, "err": rerr}) }()

	d, err := driverOf(fd)
	if err != nil {
		return 0, err
	}
	if d.write == nil {
		return 0, unsupported(d, "write")
	}
	return d.write.Write(fd, buf)
}

// Flush commits the data buffered by the backend for fd.
func (s *Switch) Flush(fd *Descriptor) (rerr error) {
	ret := s.logCall("Flush", log.M{"fd": fd})
	defer func() { ret(log.M{"err": rerr}) }()

	d, err := driverOf(fd)
	if err != nil {
		return err
	}
	if d.flush == nil {
		return unsupported(d, "flush")
	}
	return d.flush.Flush(fd)
}

// Lseek moves the position of fd, whence being one of the
// io.Seek constants.
func (s *Switch) Lseek(fd *Descriptor, offset int64, whence int) (pos int64, rerr error) {
	ret := s.logCall("Lseek", log.M{"fd": fd, "offset": offset, "whence": whence})
	defer func() { ret(log.M{"pos": pos, "err": rerr}) }()

	d, err := driverOf(fd)
	if err != nil {
		return 0, err
	}
	if d.lseek == nil {
		return 0, unsupported(d, "lseek")
	}
	pos, err = d.lseek.Lseek(fd, offset, whence)
	if err != nil {
		return pos, err
	}
	if pos < 0 {
		return pos, errors.Wrapf(ErrInvalidArgument, "negative position %d", pos)
	}
	fd.pos = pos
	return pos, nil
}

// Ftruncate changes the size of the file open on fd.
func (s *Switch) Ftruncate(fd *Descriptor, length int64) (rerr error) {
	ret := s.logCall("Ftruncate", log.M{"fd": fd, "length": length})
	defer func() { ret(log.M{"err": rerr}) }()

	d, err := driverOf(fd)
	if err != nil {
		return err
	}
	if d.ftruncate == nil {
		return unsupported(d, "ftruncate")
	}
	return d.ftruncate.Ftruncate(fd, length)
}

// Getdents fills dirents with the next entries of the
// directory open on fd, returning how many were filled.
func (s *Switch) Getdents(fd *Descriptor, dirents []Dirent) (n int, rerr error) {
	ret := s.logCall("Getdents", log.M{"fd": fd, "len": len(dirents)})
	defer func() { ret(log.M{"n": n, "err": rerr}) }()

	d, err := driverOf(fd)
	if err != nil {
		return 0, err
	}
	if d.getdents == nil {
		return 0, unsupported(d, "getdents")
	}
	return d.getdents.Getdents(fd, dirents)
}

// Ioctl sends a backend specific command to fd.
func (s *Switch) Ioctl(fd *Descriptor, cmd uint32, arg any) (rerr error) {
	ret := s.logCall("Ioctl", log.M{"fd": fd, "cmd": cmd})
	defer func() { ret(log.M{"err": rerr}) }()

	d, err := driverOf(fd)
	if err != nil {
		return err
	}
	if d.ioctl == nil {
		return unsupported(d, "ioctl")
	}
	return d.ioctl.Ioctl(fd, cmd, arg)
}
