// Package aferofs mounts any afero file system in the
// switch, as the "afero" backend.
package aferofs

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/go-vfsswitch/vfsswitch"
	"github.com/go-vfsswitch/vfsswitch/gofs"
)

// BlockSize is the block size reported by Statfs.
const BlockSize = 4096

func init() {
	vfsswitch.Register("afero", gofs.New())
}

// FS is the device of an "afero" mount.
type FS struct {
	afero.Afero
}

// New wraps an afero file system into a device.
func New(fs afero.Fs) *FS {
	return &FS{Afero: afero.Afero{Fs: fs}}
}

// FromSource creates a device from a source description:
//
//	mem           an empty in-memory file system
//	os:<dir>      the host directory dir
//	ro:<source>   source, read only
func FromSource(source string) (*FS, error) {
	switch {
	case source == "mem":
		return New(afero.NewMemMapFs()), nil
	case strings.HasPrefix(source, "os:"):
		dir := strings.TrimPrefix(source, "os:")
		if dir == "" {
			return nil, errors.Errorf("empty directory in afero source %q", source)
		}
		return New(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
	case strings.HasPrefix(source, "ro:"):
		inner, err := FromSource(strings.TrimPrefix(source, "ro:"))
		if err != nil {
			return nil, err
		}
		return New(afero.NewReadOnlyFs(inner.Fs)), nil
	default:
		return nil, errors.Errorf("unknown afero source %q", source)
	}
}

func (fs *FS) OpenFile(name string, flag int, perm os.FileMode) (gofs.File, error) {
	return fs.Fs.OpenFile(name, flag, perm)
}

// Format removes every entry below the root.
func (fs *FS) Format() error {
	infos, err := fs.ReadDir("/")
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := fs.RemoveAll("/" + info.Name()); err != nil {
			return errors.Wrapf(err, "format %q", info.Name())
		}
	}
	return nil
}

// Statfs walks the file system to count its files and the
// blocks they use. Afero has no notion of capacity, so no
// block is reported as free.
func (fs *FS) Statfs() (vfsswitch.StatFS, error) {
	var files, blocks uint64
	err := fs.Walk("/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		files++
		if !info.IsDir() {
			blocks += uint64((info.Size() + BlockSize - 1) / BlockSize)
		}
		return nil
	})
	if err != nil {
		return vfsswitch.StatFS{}, err
	}
	return vfsswitch.StatFS{
		BlockSize: BlockSize,
		Blocks:    blocks,
		Files:     files,
	}, nil
}

var (
	_ gofs.FileSystem       = (*FS)(nil)
	_ gofs.FileSystemFormat = (*FS)(nil)
	_ gofs.FileSystemStatfs = (*FS)(nil)
)
