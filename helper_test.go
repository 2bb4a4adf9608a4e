package vfsswitch

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/go-vfsswitch/vfsswitch/log"
)

type Assert struct {
	*assert.Assertions
}

// EmptyMount checks that no node is registered on m.
func (assert *Assert) EmptyMount(m *Mount) {
	assert.NoError(m.lock.acquire("test"))
	defer m.lock.release()
	assert.Equal(0, len(m.nodes))
	assert.Equal(0, m.OpenNodes())
}

type recordInfo struct {
	name string
	size int64
	dir  bool
}

func (r recordInfo) Name() string { return r.name }
func (r recordInfo) Size() int64  { return r.size }
func (r recordInfo) Mode() os.FileMode {
	if r.dir {
		return os.ModeDir | 0o755
	}
	return 0o644
}
func (r recordInfo) ModTime() time.Time { return time.Time{} }
func (r recordInfo) IsDir() bool        { return r.dir }
func (r recordInfo) Sys() any           { return nil }

// recordBackend keeps flat files in a map, and records the
// calls it receives.
type recordBackend struct {
	mtx   sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	calls []string

	openErr  error
	closeErr error
	mountErr error

	// unmountHook runs when Unmount is called, without the
	// backend lock held.
	unmountHook func()
}

func newRecordBackend() *recordBackend {
	return &recordBackend{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

func (b *recordBackend) record(call string) {
	b.calls = append(b.calls, call)
}

func (b *recordBackend) Calls() []string {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *recordBackend) Mkfs(device any) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.record("mkfs")
	b.files = make(map[string][]byte)
	b.dirs = make(map[string]bool)
	return nil
}

func (b *recordBackend) Mount(m *Mount) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.record("mount " + m.Path())
	if b.mountErr != nil {
		return b.mountErr
	}
	m.SetContext(b)
	return nil
}

func (b *recordBackend) Unmount(m *Mount) error {
	b.mtx.Lock()
	hook := b.unmountHook
	b.mtx.Unlock()
	if hook != nil {
		hook()
	}
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.record("unmount " + m.Path())
	return nil
}

func (b *recordBackend) Statfs(m *Mount) (StatFS, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return StatFS{BlockSize: 512, Blocks: 100, BlocksFree: 100, Files: uint64(len(b.files))}, nil
}

func (b *recordBackend) Open(fd *Descriptor) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	path := fd.Node().Path()
	b.record("open " + path)
	if b.openErr != nil {
		return b.openErr
	}
	flags := fd.Flags()
	if flags&FlagDirectory != 0 {
		if flags&FlagCreate != 0 {
			b.dirs[path] = true
		}
		return nil
	}
	if _, ok := b.files[path]; !ok {
		if flags&FlagCreate == 0 {
			return os.ErrNotExist
		}
		b.files[path] = nil
	}
	if flags&FlagTruncate != 0 {
		b.files[path] = nil
	}
	return nil
}

func (b *recordBackend) Close(fd *Descriptor) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.record("close " + fd.Node().Path())
	return b.closeErr
}

func (b *recordBackend) Read(fd *Descriptor, buf []byte) (int, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	data := b.files[fd.Node().Path()]
	if fd.Pos() >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(buf, data[fd.Pos():])
	fd.SetPos(fd.Pos() + int64(n))
	return n, nil
}

func (b *recordBackend) Write(fd *Descriptor, buf []byte) (int, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	path := fd.Node().Path()
	data := b.files[path]
	pos := fd.Pos()
	if fd.Flags()&FlagAppend != 0 {
		pos = int64(len(data))
	}
	if end := pos + int64(len(buf)); end > int64(len(data)) {
		data = append(data, make([]byte, end-int64(len(data)))...)
	}
	copy(data[pos:], buf)
	b.files[path] = data
	fd.SetPos(pos + int64(len(buf)))
	return len(buf), nil
}

func (b *recordBackend) Flush(fd *Descriptor) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.record("flush " + fd.Node().Path())
	return nil
}

func (b *recordBackend) Lseek(fd *Descriptor, offset int64, whence int) (int64, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += fd.Pos()
	case io.SeekEnd:
		offset += int64(len(b.files[fd.Node().Path()]))
	}
	if offset < 0 {
		return 0, os.ErrInvalid
	}
	return offset, nil
}

func (b *recordBackend) Ftruncate(fd *Descriptor, length int64) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	path := fd.Node().Path()
	data := b.files[path]
	if length <= int64(len(data)) {
		b.files[path] = data[:length]
	} else {
		b.files[path] = append(data, make([]byte, length-int64(len(data)))...)
	}
	return nil
}

func (b *recordBackend) Getdents(fd *Descriptor, dirents []Dirent) (int, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	prefix := strings.TrimSuffix(fd.Node().Path(), "/") + "/"
	var names []string
	for name := range b.files {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	start := int(fd.Pos())
	if start >= len(names) {
		return 0, nil
	}
	n := 0
	for _, name := range names[start:] {
		if n == len(dirents) {
			break
		}
		dirents[n] = Dirent{Name: strings.TrimPrefix(name, prefix), Size: int64(len(b.files[name]))}
		n++
	}
	fd.SetPos(int64(start + n))
	return n, nil
}

func (b *recordBackend) Ioctl(fd *Descriptor, cmd uint32, arg any) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if p, ok := arg.(*int); ok {
		*p = int(cmd) * 2
	}
	return nil
}

func (b *recordBackend) Unlink(m *Mount, path string) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.record("unlink " + path)
	if _, ok := b.files[path]; !ok {
		return os.ErrNotExist
	}
	delete(b.files, path)
	return nil
}

func (b *recordBackend) Remove(m *Mount, path string) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.record("remove " + path)
	if _, ok := b.files[path]; ok {
		delete(b.files, path)
		return nil
	}
	if b.dirs[path] {
		delete(b.dirs, path)
		return nil
	}
	return os.ErrNotExist
}

func (b *recordBackend) Rename(m *Mount, oldPath, newPath string) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.record("rename " + oldPath + " " + newPath)
	data, ok := b.files[oldPath]
	if !ok {
		return os.ErrNotExist
	}
	delete(b.files, oldPath)
	b.files[newPath] = data
	return nil
}

func (b *recordBackend) Stat(m *Mount, path string) (os.FileInfo, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if data, ok := b.files[path]; ok {
		return recordInfo{name: path, size: int64(len(data))}, nil
	}
	if b.dirs[path] {
		return recordInfo{name: path, dir: true}, nil
	}
	return nil, os.ErrNotExist
}

// openOnly offers nothing but open and close.
type openOnly struct{}

func (openOnly) Open(fd *Descriptor) error  { return nil }
func (openOnly) Close(fd *Descriptor) error { return nil }

// newTestSwitch returns a switch with its own registry, with
// a recordBackend registered as "record" and an openOnly
// registered as "bare".
func newTestSwitch(opts ...Option) (*Switch, *recordBackend) {
	backend := newRecordBackend()
	registry := NewRegistry()
	registry.Register("record", backend)
	registry.Register("bare", openOnly{})
	return New(append([]Option{WithRegistry(registry)}, opts...)...), backend
}

// testDevice is a comparable device value.
type testDevice struct {
	name string
}

type recordEntry struct {
	topics log.Topics
	msg    string
}

// recordLog keeps every message it is given, and passes
// them to hook when it is set.
type recordLog struct {
	mtx     sync.Mutex
	entries []recordEntry
	hook    func(topics log.Topics, msg string)
}

func (l *recordLog) Enabled(log.Topics) bool      { return true }
func (l *recordLog) Call(string, log.M) string    { return "" }
func (l *recordLog) Return(string, string, log.M) {}

func (l *recordLog) Log(topics log.Topics, msg string) {
	l.mtx.Lock()
	l.entries = append(l.entries, recordEntry{topics: topics, msg: msg})
	hook := l.hook
	l.mtx.Unlock()
	if hook != nil {
		hook(topics, msg)
	}
}

func (l *recordLog) Logf(topics log.Topics, msg string, args ...any) {
	l.Log(topics, fmt.Sprintf(msg, args...))
}

// Messages returns the messages logged with topics.
func (l *recordLog) Messages(topics log.Topics) []string {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	var result []string
	for _, entry := range l.entries {
		if entry.topics&topics != 0 {
			result = append(result, entry.msg)
		}
	}
	return result
}

var _ log.Log = (*recordLog)(nil)
