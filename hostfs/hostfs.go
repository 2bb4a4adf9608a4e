// Package hostfs exposes a directory of the host through
// the switch, as the "hostfs" backend.
//
// A Passthrough is the device of a "hostfs" mount:
//
//	err := sw.Mount(&hostfs.Passthrough{Dir: "/srv"}, "/host", "hostfs")
package hostfs

import (
	"os"
	"path/filepath"

	"github.com/go-vfsswitch/vfsswitch"
	"github.com/go-vfsswitch/vfsswitch/gofs"
)

func init() {
	vfsswitch.Register("hostfs", gofs.New())
}

// Passthrough forwards every operation to the files below
// Dir.
type Passthrough struct {
	Dir string
}

func (ptfs *Passthrough) path(name string) string {
	// Names are rooted slash paths cleaned by gofs, they
	// cannot climb above Dir.
	return filepath.Join(ptfs.Dir, filepath.FromSlash(name))
}

func (ptfs *Passthrough) OpenFile(name string, flag int, perm os.FileMode) (gofs.File, error) {
	return os.OpenFile(ptfs.path(name), flag, perm)
}

func (ptfs *Passthrough) Mkdir(name string, perm os.FileMode) error {
	return os.Mkdir(ptfs.path(name), perm)
}

func (ptfs *Passthrough) Remove(name string) error {
	return os.Remove(ptfs.path(name))
}

func (ptfs *Passthrough) Rename(source string, target string) error {
	return os.Rename(ptfs.path(source), ptfs.path(target))
}

func (ptfs *Passthrough) Stat(name string) (os.FileInfo, error) {
	return os.Stat(ptfs.path(name))
}

var (
	_ gofs.FileSystem       = (*Passthrough)(nil)
	_ gofs.FileSystemStatfs = (*Passthrough)(nil)
)
