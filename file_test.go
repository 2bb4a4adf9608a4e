package vfsswitch

import (
	"io"
	"os"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorClosed(t *testing.T) {
	assert := Assert{assert.New(t)}
	s, _ := newTestSwitch()
	require.NoError(t, s.Mount(nil, "/data", "record"))

	check := func(fd *Descriptor) {
		_, err := s.Read(fd, make([]byte, 4))
		assert.ErrorIs(err, ErrAccessDenied)
		_, err = s.Write(fd, []byte("data"))
		assert.ErrorIs(err, ErrAccessDenied)
		_, err = s.Lseek(fd, 0, io.SeekStart)
		assert.ErrorIs(err, ErrAccessDenied)
		assert.ErrorIs(s.Ioctl(fd, 1, nil), ErrAccessDenied)
		assert.ErrorIs(s.Flush(fd), ErrAccessDenied)
		assert.ErrorIs(s.Ftruncate(fd, 0), ErrAccessDenied)
		_, err = s.Getdents(fd, make([]Dirent, 1))
		assert.ErrorIs(err, ErrAccessDenied)
		assert.ErrorIs(s.Close(fd), ErrAccessDenied)
	}

	var fd Descriptor
	assert.False(fd.IsOpen())
	check(&fd)

	assert.NoError(s.Open(&fd, "/data/file", FlagRead|FlagWrite|FlagCreate))
	assert.True(fd.IsOpen())
	_, err := s.Write(&fd, []byte("data"))
	assert.NoError(err)
	_, err = s.Lseek(&fd, 0, io.SeekStart)
	assert.NoError(err)
	assert.NoError(s.Flush(&fd))

	assert.NoError(s.Close(&fd))
	assert.False(fd.IsOpen())
	assert.Nil(fd.Node())
	check(&fd)
}

func TestDescriptorIO(t *testing.T) {
	assert := Assert{assert.New(t)}
	s, backend := newTestSwitch()
	require.NoError(t, s.Mount(nil, "/data", "record"))

	var fd Descriptor
	require.NoError(t, s.Open(&fd, "/data/file", FlagRead|FlagWrite|FlagCreate))
	assert.Equal(FlagRead|FlagWrite|FlagCreate|FlagOpen, fd.Flags())
	assert.Equal(int64(0), fd.Pos())
	assert.Equal("/file", fd.Node().Path())

	n, err := s.Write(&fd, []byte("hello world"))
	assert.NoError(err)
	assert.Equal(11, n)
	assert.Equal(int64(11), fd.Pos())

	pos, err := s.Lseek(&fd, 6, io.SeekStart)
	assert.NoError(err)
	assert.Equal(int64(6), pos)
	assert.Equal(int64(6), fd.Pos())

	buf := make([]byte, 16)
	n, err = s.Read(&fd, buf)
	assert.NoError(err)
	assert.Equal("world", string(buf[:n]))

	_, err = s.Read(&fd, buf)
	assert.Equal(io.EOF, err)

	// A failing seek leaves the position unchanged.
	_, err = s.Lseek(&fd, -100, io.SeekCurrent)
	assert.Equal(os.ErrInvalid, err)
	assert.Equal(int64(11), fd.Pos())

	pos, err = s.Lseek(&fd, -5, io.SeekEnd)
	assert.NoError(err)
	assert.Equal(int64(6), pos)

	assert.NoError(s.Ftruncate(&fd, 5))
	assert.Equal("hello", string(backend.files["/file"]))

	var result int
	assert.NoError(s.Ioctl(&fd, 21, &result))
	assert.Equal(42, result)

	assert.NoError(s.Close(&fd))
}

func TestDescriptorAppend(t *testing.T) {
	assert := Assert{assert.New(t)}
	s, backend := newTestSwitch()
	require.NoError(t, s.Mount(nil, "/data", "record"))

	var fd Descriptor
	require.NoError(t, s.Open(&fd, "/data/log", FlagWrite|FlagCreate))
	_, err := s.Write(&fd, []byte("first\n"))
	assert.NoError(err)
	require.NoError(t, s.Close(&fd))

	require.NoError(t, s.Open(&fd, "/data/log", FlagWrite|FlagAppend))
	_, err = s.Write(&fd, []byte("second\n"))
	assert.NoError(err)
	require.NoError(t, s.Close(&fd))
	assert.Equal("first\nsecond\n", string(backend.files["/log"]))
}

func TestDescriptorGetdents(t *testing.T) {
	assert := Assert{assert.New(t)}
	s, backend := newTestSwitch()
	require.NoError(t, s.Mount(nil, "/data", "record"))
	backend.files["/dir/a"] = []byte("a")
	backend.files["/dir/b"] = []byte("bb")
	backend.files["/dir/c"] = []byte("ccc")

	var fd Descriptor
	require.NoError(t, s.Open(&fd, "/data/dir", FlagRead|FlagDirectory))
	dirents := make([]Dirent, 2)
	n, err := s.Getdents(&fd, dirents)
	assert.NoError(err)
	assert.Equal(2, n)
	assert.Equal(Dirent{Name: "a", Size: 1}, dirents[0])
	assert.Equal(Dirent{Name: "b", Size: 2}, dirents[1])
	n, err = s.Getdents(&fd, dirents)
	assert.NoError(err)
	assert.Equal(1, n)
	assert.Equal("c", dirents[0].Name)
	n, err = s.Getdents(&fd, dirents)
	assert.NoError(err)
	assert.Equal(0, n)
	assert.NoError(s.Close(&fd))
}

func TestDescriptorUnsupported(t *testing.T) {
	assert := Assert{assert.New(t)}
	s, _ := newTestSwitch()
	require.NoError(t, s.Mount(nil, "/bare", "bare"))

	var fd Descriptor
	require.NoError(t, s.Open(&fd, "/bare/file", FlagRead))
	_, err := s.Read(&fd, make([]byte, 1))
	assert.ErrorIs(err, ErrIOUnsupported)
	_, err = s.Write(&fd, []byte("x"))
	assert.ErrorIs(err, ErrIOUnsupported)
	_, err = s.Lseek(&fd, 0, io.SeekStart)
	assert.ErrorIs(err, ErrIOUnsupported)
	assert.ErrorIs(s.Flush(&fd), ErrIOUnsupported)
	assert.ErrorIs(s.Ftruncate(&fd, 0), ErrIOUnsupported)
	assert.ErrorIs(s.Ioctl(&fd, 0, nil), ErrIOUnsupported)
	_, err = s.Getdents(&fd, make([]Dirent, 1))
	assert.ErrorIs(err, ErrIOUnsupported)
	assert.NoError(s.Close(&fd))
}

func TestOpenErrors(t *testing.T) {
	assert := Assert{assert.New(t)}
	s, backend := newTestSwitch()
	require.NoError(t, s.Mount(nil, "/data", "record"))
	m, _, err := s.lookup("/data")
	require.NoError(t, err)

	var fd Descriptor
	assert.ErrorIs(s.Open(&fd, "/nothing/file", FlagRead), ErrNotFound)
	assert.ErrorIs(s.Open(&fd, "/data/../../file", FlagRead), ErrInvalidArgument)
	assert.False(fd.IsOpen())

	// A failing open unwinds the node it created.
	assert.ErrorIs(s.Open(&fd, "/data/missing", FlagRead), os.ErrNotExist)
	assert.False(fd.IsOpen())
	assert.EmptyMount(m)

	// And does not disturb a node already open.
	var other Descriptor
	require.NoError(t, s.Open(&other, "/data/file", FlagCreate))
	openErr := errors.New("device unplugged")
	backend.openErr = openErr
	assert.Equal(openErr, s.Open(&fd, "/data/file", FlagRead))
	backend.openErr = nil
	assert.False(fd.IsOpen())
	assert.Equal(1, other.Node().Refs())
	assert.Equal(1, m.OpenNodes())

	// Descriptors cannot be opened twice.
	assert.ErrorIs(s.Open(&other, "/data/file", FlagRead), ErrAlreadyExists)
	assert.Equal(1, other.Node().Refs())
	assert.NoError(s.Close(&other))
	assert.EmptyMount(m)
}

func TestCloseFailure(t *testing.T) {
	assert := Assert{assert.New(t)}
	s, backend := newTestSwitch()
	require.NoError(t, s.Mount(nil, "/data", "record"))

	var fd Descriptor
	require.NoError(t, s.Open(&fd, "/data/file", FlagWrite|FlagCreate))
	closeErr := errors.New("flush failed")
	backend.closeErr = closeErr
	assert.Equal(closeErr, s.Close(&fd))

	// The descriptor is still usable.
	assert.True(fd.IsOpen())
	_, err := s.Write(&fd, []byte("retry"))
	assert.NoError(err)
	assert.ErrorIs(s.Unmount("/data"), ErrBusy)

	backend.closeErr = nil
	assert.NoError(s.Close(&fd))
	assert.False(fd.IsOpen())
	assert.NoError(s.Unmount("/data"))
}

func TestNodeSharing(t *testing.T) {
	assert := Assert{assert.New(t)}
	s, _ := newTestSwitch(WithCwd("/data"))
	require.NoError(t, s.Mount(nil, "/data", "record"))
	m, _, err := s.lookup("/data")
	require.NoError(t, err)

	var fd1, fd2, fd3 Descriptor
	require.NoError(t, s.Open(&fd1, "/data/log.txt", FlagWrite|FlagCreate))
	require.NoError(t, s.Open(&fd2, "log.txt", FlagRead))
	require.NoError(t, s.Open(&fd3, "/data/other.txt", FlagWrite|FlagCreate))
	assert.Same(fd1.Node(), fd2.Node())
	assert.NotSame(fd1.Node(), fd3.Node())
	assert.Equal(2, fd1.Node().Refs())
	assert.Equal(2, m.OpenNodes())
	assert.Same(m, fd1.Node().Mount())

	node := fd1.Node()
	assert.NoError(s.Close(&fd1))
	assert.Equal(1, node.Refs())
	assert.NoError(s.Close(&fd2))
	assert.Equal(0, node.Refs())
	assert.Equal(1, m.OpenNodes())
	assert.NoError(s.Close(&fd3))
	assert.EmptyMount(m)
}

func TestConcurrentOpen(t *testing.T) {
	assert := Assert{assert.New(t)}
	s, _ := newTestSwitch()
	require.NoError(t, s.Mount(nil, "/data", "record"))
	m, _, err := s.lookup("/data")
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers*100)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				var fd Descriptor
				if err := s.Open(&fd, "/data/shared", FlagWrite|FlagCreate); err != nil {
					errs <- err
					continue
				}
				if _, err := s.Write(&fd, []byte("x")); err != nil {
					errs <- err
				}
				if err := s.Close(&fd); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(err)
	}
	assert.EmptyMount(m)
	assert.NoError(s.Unmount("/data"))
}
