package vfsswitch

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/go-vfsswitch/vfsswitch/log"
)

// Mount is a filesystem instance attached to the namespace.
//
// It is created by Switch.Mount and handed to the backend,
// which may keep its own state in it through SetContext.
type Mount struct {
	path   string
	device any
	driver *Driver

	// Must acquire lock to access nodes.
	lock     *lock
	nodes    map[string]*FileNode
	numNodes atomic.Int64

	detached atomic.Bool
	ctx      atomic.Value
}

// Path is the normalized absolute mount path.
func (m *Mount) Path() string { return m.path }

// Device is the device the mount was created with.
func (m *Mount) Device() any { return m.device }

// Driver is the operation table of the mount's backend.
func (m *Mount) Driver() *Driver { return m.driver }

// Backend is the backend serving the mount.
func (m *Mount) Backend() Backend { return m.driver.backend }

// OpenNodes returns how many distinct files are currently
// open on the mount.
func (m *Mount) OpenNodes() int { return int(m.numNodes.Load()) }

type mountContext struct{ v any }

// Context returns the backend state stored by SetContext.
func (m *Mount) Context() any {
	if c, ok := m.ctx.Load().(mountContext); ok {
		return c.v
	}
	return nil
}

// SetContext stores backend state in the mount.
func (m *Mount) SetContext(v any) { m.ctx.Store(mountContext{v}) }

// relative strips the mount path from an absolute path
// owned by this mount.
func (m *Mount) relative(abspath string) string {
	return abspath[len(m.path):]
}

// MountInfo is a snapshot of a mount table entry.
type MountInfo struct {
	Path      string
	Backend   string
	OpenNodes int
}

// Switch dispatches path and descriptor operations to the
// filesystems mounted in its namespace.
//
// All methods are safe for concurrent use. The mount table
// is guarded by a single lock, while every mount guards its
// own open files with a lock of its own. No lock of the
// switch is held while data is transferred by a backend.
type Switch struct {
	registry *Registry
	logger   log.Log
	timeout  time.Duration

	// Must acquire tableLock to access mounts and pending.
	tableLock *lock
	mounts    []*Mount
	pending   []*Mount

	cwdMtx sync.RWMutex
	cwd    string
}

// New creates a switch with an empty namespace.
func New(opts ...Option) *Switch {
	option := newOption()
	Options(opts...)(option)
	cwd, err := NormalizePath(option.cwd)
	if err != nil {
		cwd = "/"
	}
	return &Switch{
		registry:  option.registry,
		logger:    option.logger,
		timeout:   option.lockTimeout,
		tableLock: newLock(option.lockTimeout),
		cwd:       cwd,
	}
}

// Chdir changes the working directory used to resolve
// relative paths. The directory is not required to exist.
func (s *Switch) Chdir(path string) error {
	s.cwdMtx.Lock()
	defer s.cwdMtx.Unlock()
	cwd, err := JoinPath(s.cwd, path)
	if err != nil {
		return err
	}
	s.cwd = cwd
	return nil
}

// Getwd returns the current working directory.
func (s *Switch) Getwd() string {
	s.cwdMtx.RLock()
	defer s.cwdMtx.RUnlock()
	return s.cwd
}

func (s *Switch) resolve(path string, extra ...string) (string, error) {
	return JoinPath(s.Getwd(), append([]string{path}, extra...)...)
}

func (s *Switch) logCall(name string, args log.M) func(rets log.M) {
	if !s.logger.Enabled(log.TopicCall) {
		return func(log.M) {}
	}
	cookie := s.logger.Call(name, args)
	return func(rets log.M) {
		s.logger.Return(name, cookie, rets)
	}
}

func sameDevice(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// lookupLocked returns the first mount, in ascending path
// order, whose path is a prefix of abspath.
//
// The prefix is compared bytewise and not by segments, so a
// mount at "/data" also owns "/database", as "base".
func (s *Switch) lookupLocked(abspath string) *Mount {
	for _, m := range s.mounts {
		if strings.HasPrefix(abspath, m.path) {
			return m
		}
	}
	return nil
}

// findMountPathLocked returns the first mount whose path
// agrees with abspath on their common length. Pending
// mounts are considered as well.
//
// Mount paths therefore never nest: once "/" is mounted,
// nothing else can be.
func (s *Switch) findMountPathLocked(abspath string) *Mount {
	match := func(m *Mount) bool {
		n := min(len(abspath), len(m.path))
		return abspath[:n] == m.path[:n]
	}
	for _, m := range s.mounts {
		if match(m) {
			return m
		}
	}
	for _, m := range s.pending {
		if match(m) {
			return m
		}
	}
	return nil
}

func (s *Switch) findDeviceLocked(device any) *Mount {
	for _, m := range s.mounts {
		if sameDevice(m.device, device) {
			return m
		}
	}
	for _, m := range s.pending {
		if sameDevice(m.device, device) {
			return m
		}
	}
	return nil
}

func (s *Switch) insertLocked(m *Mount) {
	i := sort.Search(len(s.mounts), func(i int) bool {
		return m.path < s.mounts[i].path
	})
	s.mounts = append(s.mounts, nil)
	copy(s.mounts[i+1:], s.mounts[i:])
	s.mounts[i] = m
}

func removeMount(list []*Mount, m *Mount) []*Mount {
	for i, item := range list {
		if item == m {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// lookup resolves an absolute path into the mount owning it
// and the path relative to that mount.
func (s *Switch) lookup(abspath string) (*Mount, string, error) {
	if err := s.tableLock.acquire("mount table"); err != nil {
		return nil, "", err
	}
	m := s.lookupLocked(abspath)
	s.tableLock.release()
	if m == nil {
		return nil, "", errors.Wrapf(ErrNotFound, "no filesystem mounted for %q", abspath)
	}
	if s.logger.Enabled(log.TopicTrace) {
		s.logger.Logf(log.TopicTrace, "path %q resolved to mount %q", abspath, m.path)
	}
	return m, m.relative(abspath), nil
}

// Mkfs formats device with the named backend. It fails with
// ErrBusy while the device is mounted. The mount table is
// left untouched.
func (s *Switch) Mkfs(device any, backend string) (rerr error) {
	ret := s.logCall("Mkfs", log.M{"device": device, "backend": backend})
	defer func() { ret(log.M{"err": rerr}) }()

	if device != nil {
		if err := s.tableLock.acquire("mount table"); err != nil {
			return err
		}
		m := s.findDeviceLocked(device)
		s.tableLock.release()
		if m != nil {
			return errors.Wrapf(ErrBusy, "device mounted at %q", m.path)
		}
	}

	driver, err := s.registry.Lookup(backend)
	if err != nil {
		return err
	}
	if driver.mkfs == nil {
		return nil
	}
	return driver.mkfs.Mkfs(device)
}

// Mount attaches device at path using the named backend.
//
// The path is resolved against the working directory. It
// fails with ErrAlreadyExists when the path collides with
// another mount path, and with ErrBusy when the device is
// already mounted.
func (s *Switch) Mount(device any, path, backend string) (rerr error) {
	ret := s.logCall("Mount", log.M{"device": device, "path": path, "backend": backend})
	defer func() { ret(log.M{"err": rerr}) }()

	driver, err := s.registry.Lookup(backend)
	if err != nil {
		return err
	}
	abspath, err := s.resolve(path, "./")
	if err != nil {
		return err
	}

	m := &Mount{
		path:   abspath,
		device: device,
		driver: driver,
		lock:   newLock(s.timeout),
		nodes:  make(map[string]*FileNode),
	}

	// Reserve the path and device while the backend mounts,
	// so that the table lock is not held across the call.
	if err := s.tableLock.acquire("mount table"); err != nil {
		return err
	}
	if other := s.findMountPathLocked(abspath); other != nil {
		s.tableLock.release()
		s.logger.Logf(log.TopicVerdict, "mount %q collides with %q", abspath, other.path)
		return errors.Wrapf(ErrAlreadyExists, "mount %q collides with %q", abspath, other.path)
	}
	if other := s.findDeviceLocked(device); other != nil {
		s.tableLock.release()
		s.logger.Logf(log.TopicVerdict, "device of %q already mounted at %q", abspath, other.path)
		return errors.Wrapf(ErrBusy, "device already mounted at %q", other.path)
	}
	s.pending = append(s.pending, m)
	s.tableLock.release()

	if driver.mount != nil {
		err = driver.mount.Mount(m)
	}

	// The reservation must be dropped whatever happens.
	_ = s.tableLock.acquireForever()
	defer s.tableLock.release()
	s.pending = removeMount(s.pending, m)
	if err != nil {
		return err
	}
	s.insertLocked(m)
	return nil
}

// Unmount detaches the filesystem owning path. It fails with
// ErrBusy while any file of the filesystem is open.
func (s *Switch) Unmount(path string) (rerr error) {
	ret := s.logCall("Unmount", log.M{"path": path})
	defer func() { ret(log.M{"err": rerr}) }()

	abspath, err := s.resolve(path, "./")
	if err != nil {
		return err
	}
	m, _, err := s.lookup(abspath)
	if err != nil {
		return err
	}

	if err := m.lock.acquire("mount " + m.path); err != nil {
		return err
	}
	defer m.lock.release()
	if m.detached.Load() {
		return errors.Wrapf(ErrNotFound, "no filesystem mounted for %q", abspath)
	}
	if len(m.nodes) > 0 {
		s.logger.Logf(log.TopicVerdict, "unmount %q refused with %d open files", m.path, len(m.nodes))
		return errors.Wrapf(ErrBusy, "%d files open on %q", len(m.nodes), m.path)
	}
	if m.driver.unmount != nil {
		if err := m.driver.unmount.Unmount(m); err != nil {
			return err
		}
	}

	m.detached.Store(true)
	_ = s.tableLock.acquireForever()
	defer s.tableLock.release()
	s.mounts = removeMount(s.mounts, m)
	return nil
}

// UnmountAll unmounts every filesystem, in descending path
// order. Failures do not stop the others from being
// unmounted; they are returned together.
func (s *Switch) UnmountAll() error {
	var result error
	mounts := s.Mounts()
	for i := len(mounts) - 1; i >= 0; i-- {
		if err := s.Unmount(mounts[i].Path); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "unmount %q", mounts[i].Path))
		}
	}
	return result
}

// Statfs reports the usage of the filesystem owning path.
func (s *Switch) Statfs(path string) (stat StatFS, rerr error) {
	ret := s.logCall("Statfs", log.M{"path": path})
	defer func() { ret(log.M{"stat": stat, "err": rerr}) }()

	abspath, err := s.resolve(path, "./")
	if err != nil {
		return StatFS{}, err
	}
	m, _, err := s.lookup(abspath)
	if err != nil {
		return StatFS{}, err
	}
	if m.driver.statfs == nil {
		return StatFS{}, errors.Wrapf(ErrIOUnsupported, "statfs on %q", m.driver.name)
	}
	return m.driver.statfs.Statfs(m)
}

// MountOf returns the mount table entry owning path.
func (s *Switch) MountOf(path string) (MountInfo, error) {
	abspath, err := s.resolve(path, "./")
	if err != nil {
		return MountInfo{}, err
	}
	m, _, err := s.lookup(abspath)
	if err != nil {
		return MountInfo{}, err
	}
	return MountInfo{
		Path:      m.path,
		Backend:   m.driver.name,
		OpenNodes: m.OpenNodes(),
	}, nil
}

// Mounts returns a snapshot of the mount table, in lookup
// order.
func (s *Switch) Mounts() []MountInfo {
	_ = s.tableLock.acquireForever()
	defer s.tableLock.release()
	result := make([]MountInfo, 0, len(s.mounts))
	for _, m := range s.mounts {
		result = append(result, MountInfo{
			Path:      m.path,
			Backend:   m.driver.name,
			OpenNodes: m.OpenNodes(),
		})
	}
	return result
}
