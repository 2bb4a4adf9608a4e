package vfsswitch

import (
	"fmt"
	"sort"
	"strings"
)

// DebugStruct is the interface to signify that
// the struct has internal fields, which can be
// serialized by the .Fields method.
//
// Please notice that the .Fields method can return
// nil, and the caller must handle that.
type DebugStruct interface {
	Fields() map[string]any
}

// JoinDebugStructFields with comma, sorted by key.
func JoinDebugStructFields(s DebugStruct) string {
	m := s.Fields()
	if m == nil {
		return ""
	}
	var fields []string
	for key, value := range m {
		fields = append(fields, fmt.Sprintf("%s: %v", key, value))
	}
	sort.Strings(fields)
	return strings.Join(fields, ", ")
}

func (fd *Descriptor) Fields() map[string]any {
	if fd == nil || fd.node == nil {
		return nil
	}
	return map[string]any{
		"mount": fd.node.mount.path,
		"path":  fd.node.path,
		"pos":   fd.pos,
		"flags": fd.flags,
		"refs":  fd.node.Refs(),
	}
}

func (fd *Descriptor) String() string {
	if fd == nil || fd.node == nil {
		return "Descriptor{closed}"
	}
	return "Descriptor{" + JoinDebugStructFields(fd) + "}"
}

func (m *Mount) Fields() map[string]any {
	if m == nil {
		return nil
	}
	return map[string]any{
		"path":    m.path,
		"backend": m.driver.name,
		"nodes":   m.OpenNodes(),
	}
}

func (m *Mount) String() string {
	return "Mount{" + JoinDebugStructFields(m) + "}"
}

var (
	_ DebugStruct = (*Descriptor)(nil)
	_ DebugStruct = (*Mount)(nil)
)
