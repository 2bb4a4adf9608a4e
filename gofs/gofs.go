package gofs

import (
	"io"
	"os"
	"path"
	"syscall"

	"github.com/pkg/errors"

	"github.com/go-vfsswitch/vfsswitch"
)

type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	io.Seeker

	Readdir(count int) ([]os.FileInfo, error)
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
}

var _ File = (*os.File)(nil)

type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Mkdir(name string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
	Rename(source, target string) error
	Remove(name string) error
}

// FileSystemFormat is implemented by devices that can be
// formatted by mkfs, discarding all their content.
type FileSystemFormat interface {
	FileSystem

	Format() error
}

// FileSystemStatfs is implemented by devices that can
// report their usage.
type FileSystemStatfs interface {
	FileSystem

	Statfs() (vfsswitch.StatFS, error)
}

// FileIoctl is implemented by files accepting ioctl
// commands.
type FileIoctl interface {
	File

	Ioctl(cmd uint32, arg any) error
}

// FileAppender is the append interface of a file. Without
// this interface, we will be imitating the append by
// writing at the size of the file, making it behaves
// strangely under certain racing circumstances.
type FileAppender interface {
	File

	// Append means the data will always be written to the
	// tail of the file, regardless of the file's current
	// open mode.
	Append([]byte) (int, error)
}

type fileMimicAppend struct {
	File
	flags int
}

func (f *fileMimicAppend) Append(b []byte) (int, error) {
	if f.flags&os.O_APPEND != 0 {
		return f.Write(b)
	}
	// BUG: since we imitates the append behaviour
	// by fetching the file size first and then
	// appending to it, two concurrent append
	// operations will overlaps with each other.
	fileInfo, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return f.WriteAt(b, fileInfo.Size())
}

type fileHandle struct {
	file  File
	flags int
	dir   bool
}

type fileSystem struct {
	fileMode os.FileMode
	dirMode  os.FileMode
	readOnly bool
}

// slashPath converts the path relative to a mount into the
// name passed to the FileSystem.
func slashPath(rel string) string {
	return path.Clean("/" + rel)
}

func deviceOf(m *vfsswitch.Mount) (FileSystem, error) {
	if fs, ok := m.Context().(FileSystem); ok {
		return fs, nil
	}
	if fs, ok := m.Device().(FileSystem); ok {
		return fs, nil
	}
	return nil, errors.Wrapf(vfsswitch.ErrInvalidArgument,
		"device of %q is not a gofs.FileSystem", m.Path())
}

func load(fd *vfsswitch.Descriptor) (*fileHandle, error) {
	handle, ok := fd.Context().(*fileHandle)
	if !ok {
		return nil, os.ErrClosed
	}
	return handle, nil
}

func (fs *fileSystem) Mkfs(device any) error {
	format, ok := device.(FileSystemFormat)
	if !ok {
		return errors.Wrapf(vfsswitch.ErrIOUnsupported, "format %T", device)
	}
	if fs.readOnly {
		return syscall.EROFS
	}
	return format.Format()
}

var _ vfsswitch.BehaviourMkfs = (*fileSystem)(nil)

func (fs *fileSystem) Mount(m *vfsswitch.Mount) error {
	inner, err := deviceOf(m)
	if err != nil {
		return err
	}
	info, err := inner.Stat("/")
	if err != nil {
		return errors.Wrapf(err, "stat root of %q", m.Path())
	}
	if !info.IsDir() {
		return syscall.ENOTDIR
	}
	m.SetContext(inner)
	return nil
}

var _ vfsswitch.BehaviourMount = (*fileSystem)(nil)

func (fs *fileSystem) Unmount(m *vfsswitch.Mount) error {
	m.SetContext(nil)
	return nil
}

var _ vfsswitch.BehaviourUnmount = (*fileSystem)(nil)

func (fs *fileSystem) Statfs(m *vfsswitch.Mount) (vfsswitch.StatFS, error) {
	inner, err := deviceOf(m)
	if err != nil {
		return vfsswitch.StatFS{}, err
	}
	statfs, ok := inner.(FileSystemStatfs)
	if !ok {
		return vfsswitch.StatFS{}, errors.Wrapf(
			vfsswitch.ErrIOUnsupported, "statfs %T", inner)
	}
	return statfs.Statfs()
}

var _ vfsswitch.BehaviourStatfs = (*fileSystem)(nil)

// osFlags translates the open mode of the descriptor into
// the flags of OpenFile.
func osFlags(flags vfsswitch.OpenFlag) int {
	result := 0
	switch {
	case flags&vfsswitch.FlagRead != 0 && flags&vfsswitch.FlagWrite != 0:
		result = os.O_RDWR
	case flags&vfsswitch.FlagWrite != 0:
		result = os.O_WRONLY
	default:
		result = os.O_RDONLY
	}
	if flags&vfsswitch.FlagAppend != 0 {
		result |= os.O_APPEND
	}
	if flags&vfsswitch.FlagCreate != 0 {
		result |= os.O_CREATE
	}
	if flags&vfsswitch.FlagTruncate != 0 {
		result |= os.O_TRUNC
	}
	if flags&vfsswitch.FlagExclusive != 0 {
		result |= os.O_EXCL
	}
	return result
}

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_APPEND |
	os.O_CREATE | os.O_TRUNC

func (fs *fileSystem) Open(fd *vfsswitch.Descriptor) error {
	inner, err := deviceOf(fd.Node().Mount())
	if err != nil {
		return err
	}
	name := slashPath(fd.Node().Path())
	flags := osFlags(fd.Flags())
	isDir := fd.Flags()&vfsswitch.FlagDirectory != 0
	if fs.readOnly && flags&writeFlags != 0 {
		return syscall.EROFS
	}

	// See if we are asked to create directories here.
	if isDir && flags&os.O_CREATE != 0 {
		if flags&os.O_TRUNC != 0 {
			return syscall.EINVAL
		}
		if err := inner.Mkdir(name, fs.dirMode); err != nil {
			if !os.IsExist(err) || flags&os.O_EXCL != 0 {
				return err
			}
		}
		// Clear the flags since the create directory has
		// already been handled properly above.
		flags = os.O_RDONLY
	}

	file, err := inner.OpenFile(name, flags, fs.fileMode)
	if err != nil {
		return err
	}
	opened := false
	defer func() {
		if !opened {
			_ = file.Close()
		}
	}()

	// Judge whether this is the stuff we would like to open.
	fileInfo, err := file.Stat()
	if err != nil {
		return err
	}
	if isDir && !fileInfo.IsDir() {
		return syscall.ENOTDIR
	}
	if fileInfo.IsDir() && flags&writeFlags != 0 {
		return syscall.EISDIR
	}

	fd.SetContext(&fileHandle{
		file:  file,
		flags: flags,
		dir:   fileInfo.IsDir(),
	})
	opened = true
	return nil
}

var _ vfsswitch.BehaviourOpen = (*fileSystem)(nil)

func (fs *fileSystem) Close(fd *vfsswitch.Descriptor) error {
	handle, err := load(fd)
	if err != nil {
		return err
	}
	if err := handle.file.Close(); err != nil {
		return err
	}
	fd.SetContext(nil)
	return nil
}

var _ vfsswitch.BehaviourClose = (*fileSystem)(nil)

func (fs *fileSystem) Read(fd *vfsswitch.Descriptor, buf []byte) (int, error) {
	handle, err := load(fd)
	if err != nil {
		return 0, err
	}
	if handle.dir {
		return 0, syscall.EISDIR
	}
	n, err := handle.file.ReadAt(buf, fd.Pos())
	fd.SetPos(fd.Pos() + int64(n))
	if n > 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

var _ vfsswitch.BehaviourRead = (*fileSystem)(nil)

func (fs *fileSystem) Write(fd *vfsswitch.Descriptor, buf []byte) (int, error) {
	handle, err := load(fd)
	if err != nil {
		return 0, err
	}
	if handle.dir {
		return 0, syscall.EISDIR
	}
	if handle.flags&os.O_APPEND == 0 {
		n, err := handle.file.WriteAt(buf, fd.Pos())
		fd.SetPos(fd.Pos() + int64(n))
		return n, err
	}
	var appender FileAppender
	if obj, ok := handle.file.(FileAppender); ok {
		appender = obj
	} else {
		appender = &fileMimicAppend{
			File:  handle.file,
			flags: handle.flags,
		}
	}
	n, err := appender.Append(buf)
	if fileInfo, statErr := handle.file.Stat(); statErr == nil {
		fd.SetPos(fileInfo.Size())
	} else if err == nil {
		err = statErr
	}
	return n, err
}

var _ vfsswitch.BehaviourWrite = (*fileSystem)(nil)

func (fs *fileSystem) Flush(fd *vfsswitch.Descriptor) error {
	handle, err := load(fd)
	if err != nil {
		return err
	}
	return handle.file.Sync()
}

var _ vfsswitch.BehaviourFlush = (*fileSystem)(nil)

func (fs *fileSystem) Lseek(
	fd *vfsswitch.Descriptor, offset int64, whence int,
) (int64, error) {
	handle, err := load(fd)
	if err != nil {
		return 0, err
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += fd.Pos()
	case io.SeekEnd:
		fileInfo, err := handle.file.Stat()
		if err != nil {
			return 0, err
		}
		offset += fileInfo.Size()
	default:
		return 0, syscall.EINVAL
	}
	if offset < 0 {
		return 0, syscall.EINVAL
	}
	return offset, nil
}

var _ vfsswitch.BehaviourLseek = (*fileSystem)(nil)

func (fs *fileSystem) Ftruncate(fd *vfsswitch.Descriptor, length int64) error {
	handle, err := load(fd)
	if err != nil {
		return err
	}
	if handle.dir {
		return syscall.EISDIR
	}
	if length < 0 {
		return syscall.EINVAL
	}
	return handle.file.Truncate(length)
}

var _ vfsswitch.BehaviourFtruncate = (*fileSystem)(nil)

// Getdents reads the directory sequentially, the position
// of the descriptor counting the entries already read.
func (fs *fileSystem) Getdents(
	fd *vfsswitch.Descriptor, dirents []vfsswitch.Dirent,
) (int, error) {
	handle, err := load(fd)
	if err != nil {
		return 0, err
	}
	if !handle.dir {
		return 0, syscall.ENOTDIR
	}
	if len(dirents) == 0 {
		return 0, nil
	}
	fileInfos, err := handle.file.Readdir(len(dirents))
	if err != nil && err != io.EOF {
		return 0, err
	}
	for i, fileInfo := range fileInfos {
		dirents[i] = vfsswitch.Dirent{
			Name: fileInfo.Name(),
			Mode: fileInfo.Mode(),
			Size: fileInfo.Size(),
		}
	}
	fd.SetPos(fd.Pos() + int64(len(fileInfos)))
	return len(fileInfos), nil
}

var _ vfsswitch.BehaviourGetdents = (*fileSystem)(nil)

func (fs *fileSystem) Ioctl(fd *vfsswitch.Descriptor, cmd uint32, arg any) error {
	handle, err := load(fd)
	if err != nil {
		return err
	}
	ioctl, ok := handle.file.(FileIoctl)
	if !ok {
		return syscall.ENOTTY
	}
	return ioctl.Ioctl(cmd, arg)
}

var _ vfsswitch.BehaviourIoctl = (*fileSystem)(nil)

func (fs *fileSystem) Unlink(m *vfsswitch.Mount, rel string) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	inner, err := deviceOf(m)
	if err != nil {
		return err
	}
	name := slashPath(rel)
	fileInfo, err := inner.Stat(name)
	if err != nil {
		return err
	}
	if fileInfo.IsDir() {
		return syscall.EISDIR
	}
	return inner.Remove(name)
}

var _ vfsswitch.BehaviourUnlink = (*fileSystem)(nil)

func (fs *fileSystem) Remove(m *vfsswitch.Mount, rel string) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	inner, err := deviceOf(m)
	if err != nil {
		return err
	}
	name := slashPath(rel)
	if name == "/" {
		return syscall.EBUSY
	}
	return inner.Remove(name)
}

var _ vfsswitch.BehaviourRemove = (*fileSystem)(nil)

func (fs *fileSystem) Rename(m *vfsswitch.Mount, source, target string) error {
	if fs.readOnly {
		return syscall.EROFS
	}
	inner, err := deviceOf(m)
	if err != nil {
		return err
	}
	source, target = slashPath(source), slashPath(target)
	if source == "/" || target == "/" {
		return syscall.EBUSY
	}
	return inner.Rename(source, target)
}

var _ vfsswitch.BehaviourRename = (*fileSystem)(nil)

func (fs *fileSystem) Stat(m *vfsswitch.Mount, rel string) (os.FileInfo, error) {
	inner, err := deviceOf(m)
	if err != nil {
		return nil, err
	}
	return inner.Stat(slashPath(rel))
}

var _ vfsswitch.BehaviourStat = (*fileSystem)(nil)

type newOption struct {
	fileMode os.FileMode
	dirMode  os.FileMode
	readOnly bool
}

// NewOption is the optional option used to
// initialize the gofs.
type NewOption func(*newOption) error

// WithFileMode sets the permission of created files.
func WithFileMode(mode os.FileMode) NewOption {
	return func(option *newOption) error {
		if mode&os.ModePerm != mode {
			return errors.Errorf("apply WithFileMode(%o): invalid permission bits", uint32(mode))
		}
		option.fileMode = mode
		return nil
	}
}

// WithDirMode sets the permission of created directories.
func WithDirMode(mode os.FileMode) NewOption {
	return func(option *newOption) error {
		if mode&os.ModePerm != mode {
			return errors.Errorf("apply WithDirMode(%o): invalid permission bits", uint32(mode))
		}
		option.dirMode = mode
		return nil
	}
}

// WithReadOnly rejects every operation modifying the
// file system with EROFS.
func WithReadOnly(readOnly bool) NewOption {
	return func(option *newOption) error {
		option.readOnly = readOnly
		return nil
	}
}

// NewOptions create the backend with a variadic
// array of options.
func NewOptions(opts ...NewOption) (vfsswitch.Backend, error) {
	option := newOption{
		fileMode: 0o666,
		dirMode:  0o777,
	}
	for _, opt := range opts {
		if err := opt(&option); err != nil {
			return nil, err
		}
	}
	return &fileSystem{
		fileMode: option.fileMode,
		dirMode:  option.dirMode,
		readOnly: option.readOnly,
	}, nil
}

// New create the backend with default settings,
// which is guaranteed to success.
func New() vfsswitch.Backend {
	result, err := NewOptions()
	if err != nil {
		panic(err)
	}
	return result
}
