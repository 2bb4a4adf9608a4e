package vfsswitch

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vfsswitch/vfsswitch/log"
)

func TestReleaseExhaustedNode(t *testing.T) {
	assert := Assert{assert.New(t)}
	logger := &recordLog{}
	s, _ := newTestSwitch(WithLogger(logger))
	require.NoError(t, s.Mount(nil, "/data", "record"))

	var fd Descriptor
	require.NoError(t, s.Open(&fd, "/data/file", FlagCreate))
	node := fd.Node()
	m := node.Mount()

	require.NoError(t, m.lock.acquire("test"))
	node.refs.Store(0)
	assert.NotPanics(func() { m.releaseNodeLocked(logger, node) })
	m.lock.release()

	assert.Equal([]string{`node "/file" of "/data" released with refs=0`},
		logger.Messages(log.TopicError))
	assert.EmptyMount(m)
	assert.Nil(m.findNodeLocked("/file"))

	// The mount is idle again, although fd still points at
	// the dropped node.
	fd.reset()
	assert.NoError(s.Unmount("/data"))
}

func TestReleaseNode(t *testing.T) {
	assert := Assert{assert.New(t)}
	logger := &recordLog{}
	s, _ := newTestSwitch(WithLogger(logger))
	require.NoError(t, s.Mount(nil, "/data", "record"))
	m, _, err := s.lookup("/data")
	require.NoError(t, err)

	require.NoError(t, m.lock.acquire("test"))
	first := m.retainNodeLocked(logger, "/file")
	second := m.retainNodeLocked(logger, "/file")
	assert.Same(first, second)
	assert.Equal(2, first.Refs())
	assert.Equal(1, m.OpenNodes())
	m.releaseNodeLocked(logger, first)
	assert.Same(first, m.findNodeLocked("/file"))
	m.releaseNodeLocked(logger, first)
	assert.Nil(m.findNodeLocked("/file"))
	m.lock.release()

	assert.EmptyMount(m)
	assert.Empty(logger.Messages(log.TopicError))
}

func TestOpenDuringUnmount(t *testing.T) {
	assert := Assert{assert.New(t)}
	logger := &recordLog{}
	s, backend := newTestSwitch(WithLogger(logger))
	require.NoError(t, s.Mount(nil, "/data", "record"))

	// Open has found the mount when its lookup is traced.
	resolved := make(chan struct{})
	var once sync.Once
	logger.hook = func(topics log.Topics, msg string) {
		if topics == log.TopicTrace && strings.HasPrefix(msg, `path "/data/file" resolved`) {
			once.Do(func() { close(resolved) })
		}
	}

	// Unmount is held inside the backend, with the lock of the
	// mount taken and the mount still in the table.
	entered := make(chan struct{})
	proceed := make(chan struct{})
	backend.unmountHook = func() {
		close(entered)
		<-proceed
	}

	unmountErr := make(chan error, 1)
	go func() { unmountErr <- s.Unmount("/data") }()
	<-entered

	var fd Descriptor
	openErr := make(chan error, 1)
	go func() { openErr <- s.Open(&fd, "/data/file", FlagCreate) }()
	<-resolved
	close(proceed)

	assert.NoError(<-unmountErr)
	assert.ErrorIs(<-openErr, ErrNotFound)
	assert.False(fd.IsOpen())
	assert.Empty(s.Mounts())
	assert.NotContains(backend.Calls(), "open /file")
}
