package vfsswitch

import (
	"os"

	"github.com/pkg/errors"

	"github.com/go-vfsswitch/vfsswitch/log"
)

// namespaceMount resolves abspath into its mount and checks
// that the mount is still attached.
func (s *Switch) namespaceMount(abspath string) (*Mount, string, error) {
	m, rel, err := s.lookup(abspath)
	if err != nil {
		return nil, "", err
	}
	if m.detached.Load() {
		return nil, "", errors.Wrapf(ErrNotFound, "no filesystem mounted for %q", abspath)
	}
	return m, rel, nil
}

// Unlink removes a file. Unlike the other path operations,
// a relative path is resolved against the root and not
// against the working directory.
//
// It fails with ErrBusy while the file is open.
func (s *Switch) Unlink(path string) (rerr error) {
	ret := s.logCall("Unlink", log.M{"path": path})
	defer func() { ret(log.M{"err": rerr}) }()

	abspath, err := JoinPath("/", path)
	if err != nil {
		return err
	}
	m, rel, err := s.namespaceMount(abspath)
	if err != nil {
		return err
	}
	if m.driver.unlink == nil {
		return unsupported(m.driver, "unlink")
	}

	if err := m.lock.acquire("mount " + m.path); err != nil {
		return err
	}
	defer m.lock.release()
	if n := m.findNodeLocked(rel); n != nil {
		s.logger.Logf(log.TopicVerdict, "unlink %q refused with refs=%d", abspath, n.Refs())
		return errors.Wrapf(ErrBusy, "%q is open", abspath)
	}
	return m.driver.unlink.Unlink(m, rel)
}

// Remove removes a file or an empty directory.
//
// Whether an open file may be removed is left to the
// backend, which is consulted even when the file is open.
func (s *Switch) Remove(path string) (rerr error) {
	ret := s.logCall("Remove", log.M{"path": path})
	defer func() { ret(log.M{"err": rerr}) }()

	abspath, err := s.resolve(path)
	if err != nil {
		return err
	}
	m, rel, err := s.namespaceMount(abspath)
	if err != nil {
		return err
	}
	if m.driver.remove == nil {
		return unsupported(m.driver, "remove")
	}
	return m.driver.remove.Remove(m, rel)
}

// Rename moves oldPath to newPath inside one filesystem.
//
// Paths owned by different filesystems fail with
// ErrCrossDevice, leaving the copy to the caller. It fails
// with ErrBusy while oldPath is open.
func (s *Switch) Rename(oldPath, newPath string) (rerr error) {
	ret := s.logCall("Rename", log.M{"oldPath": oldPath, "newPath": newPath})
	defer func() { ret(log.M{"err": rerr}) }()

	oldAbs, err := s.resolve(oldPath)
	if err != nil {
		return err
	}
	newAbs, err := s.resolve(newPath)
	if err != nil {
		return err
	}
	m, oldRel, err := s.namespaceMount(oldAbs)
	if err != nil {
		return err
	}
	target, newRel, err := s.namespaceMount(newAbs)
	if err != nil {
		return err
	}
	if m != target {
		return errors.Wrapf(ErrCrossDevice, "rename %q to %q", oldAbs, newAbs)
	}
	if m.driver.rename == nil {
		return unsupported(m.driver, "rename")
	}

	if err := m.lock.acquire("mount " + m.path); err != nil {
		return err
	}
	defer m.lock.release()
	if n := m.findNodeLocked(oldRel); n != nil {
		s.logger.Logf(log.TopicVerdict, "rename %q refused with refs=%d", oldAbs, n.Refs())
		return errors.Wrapf(ErrBusy, "%q is open", oldAbs)
	}
	return m.driver.rename.Rename(m, oldRel, newRel)
}

// Stat describes the entry at path.
func (s *Switch) Stat(path string) (info os.FileInfo, rerr error) {
	ret := s.logCall("Stat", log.M{"path": path})
	defer func() { ret(log.M{"info": info, "err": rerr}) }()

	abspath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	m, rel, err := s.namespaceMount(abspath)
	if err != nil {
		return nil, err
	}
	if m.driver.stat == nil {
		return nil, unsupported(m.driver, "stat")
	}
	return m.driver.stat.Stat(m, rel)
}

// Mkdir creates a directory by opening it with FlagDirectory
// and FlagCreate. The node used for it is not registered,
// so creating a directory does not keep its mount busy.
func (s *Switch) Mkdir(path string) (rerr error) {
	ret := s.logCall("Mkdir", log.M{"path": path})
	defer func() { ret(log.M{"err": rerr}) }()

	abspath, err := s.resolve(path, "./")
	if err != nil {
		return err
	}
	m, rel, err := s.namespaceMount(abspath)
	if err != nil {
		return err
	}
	if m.driver.open == nil {
		return unsupported(m.driver, "open")
	}
	node := &FileNode{path: rel, mount: m}
	node.refs.Store(1)
	fd := &Descriptor{
		node:  node,
		flags: FlagDirectory | FlagCreate | FlagOpen,
	}
	if err := m.driver.open.Open(fd); err != nil {
		return err
	}
	if m.driver.close != nil {
		return m.driver.close.Close(fd)
	}
	return nil
}
