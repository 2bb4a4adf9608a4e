//go:build linux || darwin

package hostfs

import (
	"golang.org/x/sys/unix"

	"github.com/go-vfsswitch/vfsswitch"
)

// Statfs reports the usage of the host file system
// holding Dir.
func (ptfs *Passthrough) Statfs() (vfsswitch.StatFS, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(ptfs.Dir, &st); err != nil {
		return vfsswitch.StatFS{}, err
	}
	return vfsswitch.StatFS{
		BlockSize:  uint64(st.Bsize),
		Blocks:     uint64(st.Blocks),
		BlocksFree: uint64(st.Bavail),
		Files:      uint64(st.Files),
		FilesFree:  uint64(st.Ffree),
	}, nil
}
