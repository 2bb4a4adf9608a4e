package vfsswitch

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Backend is a filesystem implementation attached to the
// switch. It may be any value: the entry points it offers
// are discovered upon registration by checking which of the
// Behaviour interfaces below it implements.
//
// Every entry point is optional. Calling an operation whose
// entry point is absent fails with ErrIOUnsupported.
type Backend any

// BehaviourMkfs formats a device for the backend.
type BehaviourMkfs interface {
	Mkfs(device any) error
}

// BehaviourMount attaches the backend to a mount whose path,
// device and driver have already been populated.
type BehaviourMount interface {
	Mount(m *Mount) error
}

// BehaviourUnmount detaches the backend from a mount. The
// switch guarantees there is no open file on the mount.
type BehaviourUnmount interface {
	Unmount(m *Mount) error
}

// BehaviourStatfs reports the usage of a mounted filesystem.
type BehaviourStatfs interface {
	Statfs(m *Mount) (StatFS, error)
}

// BehaviourOpen opens the file the descriptor's node refers
// to. The node path, position and flags are already set.
type BehaviourOpen interface {
	Open(fd *Descriptor) error
}

// BehaviourClose closes an open descriptor. Failing leaves
// the descriptor open so that closing can be retried.
type BehaviourClose interface {
	Close(fd *Descriptor) error
}

// BehaviourRead reads from the descriptor's position. The
// backend is in charge of advancing the position.
type BehaviourRead interface {
	Read(fd *Descriptor, buf []byte) (int, error)
}

// BehaviourWrite writes at the descriptor's position. The
// backend is in charge of advancing the position.
type BehaviourWrite interface {
	Write(fd *Descriptor, buf []byte) (int, error)
}

// BehaviourFlush commits buffered data of a descriptor.
type BehaviourFlush interface {
	Flush(fd *Descriptor) error
}

// BehaviourLseek computes the new position of a descriptor.
// The switch records the returned position on success.
type BehaviourLseek interface {
	Lseek(fd *Descriptor, offset int64, whence int) (int64, error)
}

// BehaviourFtruncate changes the size of an open file.
type BehaviourFtruncate interface {
	Ftruncate(fd *Descriptor, length int64) error
}

// BehaviourGetdents fills entries of an open directory and
// returns how many were filled. Zero means the end.
type BehaviourGetdents interface {
	Getdents(fd *Descriptor, dirents []Dirent) (int, error)
}

// BehaviourIoctl performs a backend specific command.
type BehaviourIoctl interface {
	Ioctl(fd *Descriptor, cmd uint32, arg any) error
}

// BehaviourUnlink removes a non-directory entry. The path is
// relative to the mount.
type BehaviourUnlink interface {
	Unlink(m *Mount, path string) error
}

// BehaviourRemove removes a file or an empty directory. The
// path is relative to the mount.
type BehaviourRemove interface {
	Remove(m *Mount, path string) error
}

// BehaviourRename moves an entry within the mount. Both
// paths are relative to the mount.
type BehaviourRename interface {
	Rename(m *Mount, oldPath, newPath string) error
}

// BehaviourStat describes an entry. The path is relative to
// the mount.
type BehaviourStat interface {
	Stat(m *Mount, path string) (os.FileInfo, error)
}

// StatFS is the usage report of a mounted filesystem.
type StatFS struct {
	BlockSize  uint64
	Blocks     uint64
	BlocksFree uint64
	Files      uint64
	FilesFree  uint64
}

// Dirent is a directory entry filled by Getdents.
type Dirent struct {
	Name string
	Mode os.FileMode
	Size int64
}

// Driver is the operation table of a registered backend.
// Absent entry points are nil.
type Driver struct {
	name    string
	backend Backend

	mkfs      BehaviourMkfs
	mount     BehaviourMount
	unmount   BehaviourUnmount
	statfs    BehaviourStatfs
	open      BehaviourOpen
	close     BehaviourClose
	read      BehaviourRead
	write     BehaviourWrite
	flush     BehaviourFlush
	lseek     BehaviourLseek
	ftruncate BehaviourFtruncate
	getdents  BehaviourGetdents
	ioctl     BehaviourIoctl
	unlink    BehaviourUnlink
	remove    BehaviourRemove
	rename    BehaviourRename
	stat      BehaviourStat
}

func newDriver(name string, backend Backend) *Driver {
	d := &Driver{name: name, backend: backend}
	d.mkfs, _ = backend.(BehaviourMkfs)
	d.mount, _ = backend.(BehaviourMount)
	d.unmount, _ = backend.(BehaviourUnmount)
	d.statfs, _ = backend.(BehaviourStatfs)
	d.open, _ = backend.(BehaviourOpen)
	d.close, _ = backend.(BehaviourClose)
	d.read, _ = backend.(BehaviourRead)
	d.write, _ = backend.(BehaviourWrite)
	d.flush, _ = backend.(BehaviourFlush)
	d.lseek, _ = backend.(BehaviourLseek)
	d.ftruncate, _ = backend.(BehaviourFtruncate)
	d.getdents, _ = backend.(BehaviourGetdents)
	d.ioctl, _ = backend.(BehaviourIoctl)
	d.unlink, _ = backend.(BehaviourUnlink)
	d.remove, _ = backend.(BehaviourRemove)
	d.rename, _ = backend.(BehaviourRename)
	d.stat, _ = backend.(BehaviourStat)
	return d
}

// Name of the backend the driver was registered with.
func (d *Driver) Name() string { return d.name }

// Backend returns the registered backend value.
func (d *Driver) Backend() Backend { return d.backend }

// Registry maps backend names to their drivers.
//
// Backends are meant to be registered at startup, usually
// from the init function of the backend's package, before
// the first mount. Names are not checked for uniqueness:
// when two backends share a name, the first one wins.
type Registry struct {
	mtx     sync.RWMutex
	drivers []*Driver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a backend under the given name.
func (r *Registry) Register(name string, backend Backend) *Driver {
	if backend == nil {
		panic("invalid nil backend")
	}
	d := newDriver(name, backend)
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.drivers = append(r.drivers, d)
	return d
}

// Lookup finds the driver registered under name.
func (r *Registry) Lookup(name string) (*Driver, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	for _, d := range r.drivers {
		if d.name == name {
			return d, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "backend %q", name)
}

// Names lists the registered backends in registration order.
func (r *Registry) Names() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for _, d := range r.drivers {
		names = append(names, d.name)
	}
	return names
}

// DefaultRegistry is the registry used by switches created
// without the WithRegistry option.
var DefaultRegistry = NewRegistry()

// Register adds a backend to the DefaultRegistry.
func Register(name string, backend Backend) *Driver {
	return DefaultRegistry.Register(name, backend)
}

// Lookup finds a backend in the DefaultRegistry.
func Lookup(name string) (*Driver, error) {
	return DefaultRegistry.Lookup(name)
}
