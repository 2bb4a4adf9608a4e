// Package memfs is a RAM file system, registered in the
// switch as the "ramfs" backend.
//
// A MemFS is the device of a "ramfs" mount:
//
//	fs := memfs.New()
//	err := sw.Mount(fs, "/data", "ramfs")
package memfs

import (
	"io"
	"io/fs"
	"math"
	"os"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-vfsswitch/vfsswitch"
	"github.com/go-vfsswitch/vfsswitch/gofs"
)

// BlockSize is the block size reported by Statfs.
const BlockSize = 512

// MaxFileSize is the size a file cannot grow beyond. Writes
// and truncations past it fail with EFBIG.
const MaxFileSize = math.MaxInt32

func init() {
	vfsswitch.Register("ramfs", gofs.New())
}

type memObject interface {
	size() int64
}

type memFile struct {
	dataMtx sync.Mutex
	// Must acquire data.dataMtx to modify.
	data []byte
}

func (m *memFile) size() int64 {
	m.dataMtx.Lock()
	defer m.dataMtx.Unlock()
	return int64(len(m.data))
}

var _ memObject = (*memFile)(nil)

type memDir struct {
	// Must acquire memfs.mtx to modify.
	dentries map[string]*memItem
}

func (m *memDir) size() int64 {
	return int64(0)
}

var _ memObject = (*memDir)(nil)

type memItem struct {
	metaMtx    sync.Mutex
	name       string
	mode       os.FileMode
	modifyTime time.Time
	obj        memObject
}

func newMemItem(mode os.FileMode, name string, obj memObject) *memItem {
	return &memItem{
		name:       name,
		mode:       mode,
		modifyTime: time.Now(),
		obj:        obj,
	}
}

func (m *memItem) touch() {
	m.metaMtx.Lock()
	defer m.metaMtx.Unlock()
	m.modifyTime = time.Now()
}

type memStat struct {
	name       string
	mode       os.FileMode
	modifyTime time.Time
	size       int64
}

func (s memStat) IsDir() bool        { return s.mode.IsDir() }
func (s memStat) ModTime() time.Time { return s.modifyTime }
func (s memStat) Mode() fs.FileMode  { return s.mode }
func (s memStat) Name() string       { return s.name }
func (s memStat) Size() int64        { return s.size }
func (memStat) Sys() any             { return nil }

var _ os.FileInfo = memStat{}

func (item *memItem) stat() os.FileInfo {
	item.metaMtx.Lock()
	defer item.metaMtx.Unlock()
	return memStat{
		name:       item.name,
		mode:       item.mode,
		modifyTime: item.modifyTime,
		size:       item.obj.size(),
	}
}

// MemFS is a file system held in memory.
//
// Its capacity bounds the bytes held by files, writes
// beyond it fail with ENOSPC. Zero means unbounded.
type MemFS struct {
	mtx      sync.Mutex
	rootItem *memItem
	rootDir  *memDir
	capacity int64
	used     atomic.Int64
	numItems atomic.Int64
}

// New creates an empty file system without capacity bound.
func New() *MemFS {
	return NewSize(0)
}

// NewSize creates an empty file system holding at most
// capacity bytes of data.
func NewSize(capacity int64) *MemFS {
	result := &MemFS{capacity: capacity}
	result.reset()
	return result
}

func (m *MemFS) reset() {
	m.rootDir = &memDir{
		dentries: make(map[string]*memItem),
	}
	m.rootItem = newMemItem(
		os.FileMode(0777)|os.ModeDir,
		"/", m.rootDir,
	)
	m.used.Store(0)
	m.numItems.Store(0)
}

// Format discards every file and directory.
func (m *MemFS) Format() error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.reset()
	return nil
}

var _ gofs.FileSystemFormat = (*MemFS)(nil)

// Statfs reports the bytes used by files in blocks of
// BlockSize. Without a capacity, free blocks are reported
// as if the file system were twice its current size.
func (m *MemFS) Statfs() (vfsswitch.StatFS, error) {
	used := (m.used.Load() + BlockSize - 1) / BlockSize
	total := used * 2
	if m.capacity > 0 {
		total = m.capacity / BlockSize
	}
	free := total - used
	if free < 0 {
		free = 0
	}
	return vfsswitch.StatFS{
		BlockSize:  BlockSize,
		Blocks:     uint64(total),
		BlocksFree: uint64(free),
		Files:      uint64(m.numItems.Load()),
	}, nil
}

var _ gofs.FileSystemStatfs = (*MemFS)(nil)

// Used returns the bytes held by files.
func (m *MemFS) Used() int64 { return m.used.Load() }

type memOpenFile struct {
	fs     *MemFS
	item   *memItem
	flag   int
	file   *memFile
	offset int64
}

func (m *memOpenFile) Close() error               { return nil }
func (m *memOpenFile) Stat() (os.FileInfo, error) { return m.item.stat(), nil }

func (m *memOpenFile) Sync() error {
	m.item.touch()
	return nil
}

const (
	allModeFlags = os.O_RDONLY | os.O_WRONLY | os.O_RDWR
)

func (m *memOpenFile) Read(p []byte) (n int, err error) {
	numRead, err := m.ReadAt(p, m.offset)
	m.offset += int64(numRead)
	return numRead, err
}

func (m *memOpenFile) ReadAt(p []byte, off int64) (n int, err error) {
	if m.flag&allModeFlags == os.O_WRONLY {
		return 0, syscall.EBADF
	}
	if off < 0 {
		return 0, syscall.EINVAL
	}

	m.file.dataMtx.Lock()
	defer m.file.dataMtx.Unlock()
	sliceOff := min(off, int64(len(m.file.data)))
	numRead := copy(p, m.file.data[sliceOff:])
	if numRead == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return numRead, nil
}

func (m *memOpenFile) Readdir(count int) ([]os.FileInfo, error) {
	return nil, syscall.ENOTDIR
}

func (m *memOpenFile) Seek(offset int64, whence int) (int64, error) {
	m.file.dataMtx.Lock()
	defer m.file.dataMtx.Unlock()
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += m.offset
	case io.SeekEnd:
		offset += int64(len(m.file.data))
	default:
		return 0, syscall.EINVAL
	}
	if offset < 0 {
		return 0, syscall.EINVAL
	}
	m.offset = offset
	return m.offset, nil
}

// reserve adds delta to the bytes used, failing with ENOSPC
// when the capacity would be exceeded.
func (m *MemFS) reserve(delta int64) error {
	for {
		used := m.used.Load()
		if delta > 0 && m.capacity > 0 && used+delta > m.capacity {
			return syscall.ENOSPC
		}
		if m.used.CompareAndSwap(used, used+delta) {
			return nil
		}
	}
}

// resizeLocked grows or shrinks the file to size, checking
// the capacity of the file system.
func (m *memOpenFile) resizeLocked(size int64) error {
	if size > MaxFileSize {
		return syscall.EFBIG
	}
	delta := size - int64(len(m.file.data))
	if err := m.fs.reserve(delta); err != nil {
		return err
	}
	if delta > 0 {
		filling := make([]byte, int(delta))
		m.file.data = append(m.file.data, filling...)
	} else {
		m.file.data = m.file.data[:size]
	}
	return nil
}

func (m *memOpenFile) Truncate(size int64) error {
	if m.flag&allModeFlags == os.O_RDONLY {
		return syscall.EBADF
	}
	if size < 0 {
		return syscall.EINVAL
	}
	defer m.item.touch()
	m.file.dataMtx.Lock()
	defer m.file.dataMtx.Unlock()
	return m.resizeLocked(size)
}

func (m *memOpenFile) writeWithDataLock(f func() (int, error)) (int, error) {
	if m.flag&allModeFlags == os.O_RDONLY {
		return 0, syscall.EBADF
	}
	defer m.item.touch()
	m.file.dataMtx.Lock()
	defer m.file.dataMtx.Unlock()
	return f()
}

func (m *memOpenFile) writeAtLocked(p []byte, off int64) (int, error) {
	if off > MaxFileSize-int64(len(p)) {
		return 0, syscall.EFBIG
	}
	if end := off + int64(len(p)); end > int64(len(m.file.data)) {
		if err := m.resizeLocked(end); err != nil {
			return 0, err
		}
	}
	return copy(m.file.data[off:], p), nil
}

func (m *memOpenFile) Write(p []byte) (n int, err error) {
	return m.writeWithDataLock(func() (int, error) {
		if m.flag&os.O_APPEND != 0 {
			m.offset = int64(len(m.file.data))
		}
		numWritten, err := m.writeAtLocked(p, m.offset)
		m.offset += int64(numWritten)
		return numWritten, err
	})
}

func (m *memOpenFile) WriteAt(p []byte, off int64) (n int, err error) {
	return m.writeWithDataLock(func() (int, error) {
		if m.flag&os.O_APPEND != 0 {
			return 0, syscall.EBADF
		}
		if off < 0 {
			return 0, syscall.EINVAL
		}
		return m.writeAtLocked(p, off)
	})
}

var _ gofs.File = (*memOpenFile)(nil)

func (m *memOpenFile) Append(buf []byte) (int, error) {
	return m.writeWithDataLock(func() (int, error) {
		return m.writeAtLocked(buf, int64(len(m.file.data)))
	})
}

var _ gofs.FileAppender = (*memOpenFile)(nil)

type memOpenDir struct {
	fs       *MemFS
	item     *memItem
	dir      *memDir
	snapOnce sync.Once
	snapshot []os.FileInfo
	off      int64
}

const (
	errIsDir = syscall.EISDIR
)

func (m *memOpenDir) Close() error                                   { return nil }
func (m *memOpenDir) Read(p []byte) (n int, err error)               { return 0, errIsDir }
func (m *memOpenDir) ReadAt(p []byte, off int64) (n int, err error)  { return 0, errIsDir }
func (m *memOpenDir) Seek(offset int64, whence int) (int64, error)   { return 0, errIsDir }
func (m *memOpenDir) Truncate(size int64) error                      { return errIsDir }
func (m *memOpenDir) Write(p []byte) (n int, err error)              { return 0, errIsDir }
func (m *memOpenDir) WriteAt(p []byte, off int64) (n int, err error) { return 0, errIsDir }

func (m *memOpenDir) Readdir(count int) ([]os.FileInfo, error) {
	m.snapOnce.Do(func() {
		m.fs.mtx.Lock()
		defer m.fs.mtx.Unlock()
		var names []string
		for name := range m.dir.dentries {
			names = append(names, name)
		}
		sort.Strings(names)
		var snapshot []os.FileInfo
		for _, name := range names {
			stat := m.dir.dentries[name].stat()
			snapshot = append(snapshot, stat)
		}
		m.snapshot = snapshot
		m.off = 0
	})
	sliceOff := min(m.off, int64(len(m.snapshot)))
	if count <= 0 {
		result := append([]os.FileInfo(nil), m.snapshot[sliceOff:]...)
		m.off = int64(len(m.snapshot))
		return result, nil
	}
	result := make([]os.FileInfo, count)
	copied := copy(result, m.snapshot[sliceOff:])
	if copied == 0 {
		return nil, io.EOF
	}
	m.off += int64(copied)
	return result[:copied], nil
}

func (m *memOpenDir) Stat() (os.FileInfo, error) {
	return m.item.stat(), nil
}

func (m *memOpenDir) Sync() error {
	m.item.touch()
	return nil
}

var _ gofs.File = (*memOpenDir)(nil)

func isRoot(name string) bool {
	return name == "" || name == "/" || name == "."
}

// split cleans a slash path and returns its parent and its
// base name.
func split(name string) (string, string) {
	name = path.Clean("/" + name)
	dir, base := path.Split(name)
	return path.Clean(dir), base
}

func (m *MemFS) findDirLocked(name string) (*memItem, *memDir, error) {
	if isRoot(name) {
		return m.rootItem, m.rootDir, nil
	}
	parentPath, base := split(name)
	_, parentDir, err := m.findDirLocked(parentPath)
	if err != nil {
		return nil, nil, err
	}
	item, ok := parentDir.dentries[base]
	if !ok {
		return nil, nil, os.ErrNotExist
	}
	dir, isDir := item.obj.(*memDir)
	if !isDir {
		return nil, nil, syscall.ENOTDIR
	}
	return item, dir, nil
}

func (m *MemFS) OpenFile(name string, flag int, perm os.FileMode) (gofs.File, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if isRoot(name) {
		if flag&allModeFlags != os.O_RDONLY {
			return nil, syscall.EISDIR
		}
		return &memOpenDir{
			fs:   m,
			item: m.rootItem,
			dir:  m.rootDir,
		}, nil
	}

	dirPath, base := split(name)
	dirItem, dir, err := m.findDirLocked(dirPath)
	if err != nil {
		return nil, err
	}

	var result gofs.File
	if item, ok := dir.dentries[base]; ok {
		switch t := item.obj.(type) {
		case *memFile:
			result = &memOpenFile{
				fs:   m,
				item: item,
				flag: flag,
				file: t,
			}
		case *memDir:
			if flag&allModeFlags != os.O_RDONLY {
				return nil, syscall.EISDIR
			}
			result = &memOpenDir{
				fs:   m,
				item: item,
				dir:  t,
			}
		default:
			return nil, syscall.EACCES
		}
	}

	const createExclFlags = os.O_CREATE | os.O_EXCL
	if result != nil && flag&createExclFlags == createExclFlags {
		return nil, os.ErrExist
	}

	if flag&os.O_CREATE != 0 && result == nil {
		file := &memFile{}
		item := newMemItem(perm.Perm(), base, file)
		dir.dentries[base] = item
		m.numItems.Add(1)
		result = &memOpenFile{
			fs:   m,
			item: item,
			flag: flag,
			file: file,
		}
		dirItem.touch()
	}

	if result == nil {
		return nil, os.ErrNotExist
	}

	if flag&os.O_TRUNC != 0 {
		if err := result.Truncate(0); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (m *MemFS) Mkdir(name string, perm os.FileMode) error {
	if isRoot(name) {
		return os.ErrExist
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	dirPath, base := split(name)
	dirItem, dir, err := m.findDirLocked(dirPath)
	if err != nil {
		return err
	}
	if _, ok := dir.dentries[base]; ok {
		return os.ErrExist
	}

	dir.dentries[base] = newMemItem(
		perm.Perm()|fs.ModeDir,
		base,
		&memDir{
			dentries: make(map[string]*memItem),
		},
	)
	m.numItems.Add(1)
	dirItem.touch()
	return nil
}

func (m *MemFS) Remove(name string) error {
	if isRoot(name) {
		// Cannot delete root directory.
		return syscall.EBUSY
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	dirPath, base := split(name)
	dirItem, dir, err := m.findDirLocked(dirPath)
	if err != nil {
		return err
	}
	item, ok := dir.dentries[base]
	if !ok {
		return os.ErrNotExist
	}

	switch obj := item.obj.(type) {
	case *memFile:
		m.used.Add(-obj.size())
	case *memDir:
		if len(obj.dentries) > 0 {
			return syscall.ENOTEMPTY
		}
	default:
		return syscall.EACCES
	}

	delete(dir.dentries, base)
	m.numItems.Add(-1)
	dirItem.touch()
	return nil
}

func (m *MemFS) Rename(src string, tgt string) error {
	if isRoot(src) || isRoot(tgt) {
		return syscall.EBUSY
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	srcDirPath, srcBase := split(src)
	srcItem, srcDir, err := m.findDirLocked(srcDirPath)
	if err != nil {
		return err
	}
	item, ok := srcDir.dentries[srcBase]
	if !ok {
		return os.ErrNotExist
	}

	if (srcItem.mode.Perm() & 0200) == 0 {
		return syscall.EACCES
	}

	tgtDirPath, tgtBase := split(tgt)
	tgtItem, tgtDir, err := m.findDirLocked(tgtDirPath)
	if err != nil {
		return err
	}

	if (tgtItem.mode.Perm() & 0200) == 0 {
		return syscall.EACCES
	}

	// A directory cannot be moved into itself.
	if _, isDir := item.obj.(*memDir); isDir {
		for ancestor := tgtDirPath; ; ancestor, _ = split(ancestor) {
			if _, dir, _ := m.findDirLocked(ancestor); dir == item.obj {
				return syscall.EINVAL
			}
			if isRoot(ancestor) {
				break
			}
		}
	}

	// Replacing an existing entry follows rename(2).
	if existing, ok := tgtDir.dentries[tgtBase]; ok {
		if existing == item {
			return nil
		}
		switch obj := existing.obj.(type) {
		case *memDir:
			if _, isDir := item.obj.(*memDir); !isDir {
				return syscall.EISDIR
			}
			if len(obj.dentries) > 0 {
				return syscall.ENOTEMPTY
			}
		case *memFile:
			if _, isDir := item.obj.(*memDir); isDir {
				return syscall.ENOTDIR
			}
			m.used.Add(-obj.size())
		}
		m.numItems.Add(-1)
	}

	// Now it's safe to modify the file.
	delete(srcDir.dentries, srcBase)
	srcItem.touch()
	tgtDir.dentries[tgtBase] = item
	tgtItem.touch()
	func() {
		item.metaMtx.Lock()
		defer item.metaMtx.Unlock()
		item.name = tgtBase
	}()
	item.touch()
	return nil
}

func (m *MemFS) Stat(name string) (os.FileInfo, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if isRoot(name) {
		return m.rootItem.stat(), nil
	}

	dirPath, base := split(name)
	_, dir, err := m.findDirLocked(dirPath)
	if err != nil {
		return nil, err
	}
	item, ok := dir.dentries[base]
	if !ok {
		return nil, os.ErrNotExist
	}

	return item.stat(), nil
}

var _ gofs.FileSystem = (*MemFS)(nil)
