package vfsswitch

import (
	"sync/atomic"

	"github.com/go-vfsswitch/vfsswitch/log"
)

// FileNode is the open state of a file shared by all the
// descriptors opening the same path of the same mount.
//
// The node lives as long as one descriptor refers to it.
// While it lives, the path cannot be unlinked or renamed.
type FileNode struct {
	path  string
	mount *Mount
	refs  atomic.Int64
}

// Path is the path of the file relative to its mount.
func (n *FileNode) Path() string { return n.path }

// Mount is the mount owning the file.
func (n *FileNode) Mount() *Mount { return n.mount }

// Refs is the number of descriptors referring to the node.
func (n *FileNode) Refs() int { return int(n.refs.Load()) }

// retainNodeLocked returns the node of path, creating it when
// no descriptor has it open yet, and takes a reference.
func (m *Mount) retainNodeLocked(logger log.Log, path string) *FileNode {
	if n, ok := m.nodes[path]; ok {
		refs := n.refs.Add(1)
		if logger.Enabled(log.TopicTrace) {
			logger.Logf(log.TopicTrace, "node %q of %q retained, refs=%d", path, m.path, refs)
		}
		return n
	}
	n := &FileNode{path: path, mount: m}
	n.refs.Store(1)
	m.nodes[path] = n
	m.numNodes.Add(1)
	if logger.Enabled(log.TopicTrace) {
		logger.Logf(log.TopicTrace, "node %q of %q allocated", path, m.path)
	}
	return n
}

// releaseNodeLocked drops a reference of the node, removing
// it from the mount when the last one is gone.
func (m *Mount) releaseNodeLocked(logger log.Log, n *FileNode) {
	if refs := n.refs.Load(); refs <= 0 {
		logger.Logf(log.TopicError, "node %q of %q released with refs=%d", n.path, m.path, refs)
		m.dropNodeLocked(n)
		return
	}
	refs := n.refs.Add(-1)
	if refs > 0 {
		if logger.Enabled(log.TopicTrace) {
			logger.Logf(log.TopicTrace, "node %q of %q released, refs=%d", n.path, m.path, refs)
		}
		return
	}
	m.dropNodeLocked(n)
	if logger.Enabled(log.TopicTrace) {
		logger.Logf(log.TopicTrace, "node %q of %q freed", n.path, m.path)
	}
}

func (m *Mount) dropNodeLocked(n *FileNode) {
	if current, ok := m.nodes[n.path]; ok && current == n {
		delete(m.nodes, n.path)
		m.numNodes.Add(-1)
	}
}

// findNodeLocked returns the node of path if it is open.
func (m *Mount) findNodeLocked(path string) *FileNode {
	return m.nodes[path]
}
