//go:build !linux && !darwin

package hostfs

import (
	"github.com/pkg/errors"

	"github.com/go-vfsswitch/vfsswitch"
)

func (ptfs *Passthrough) Statfs() (vfsswitch.StatFS, error) {
	return vfsswitch.StatFS{}, errors.Wrap(vfsswitch.ErrIOUnsupported, "statfs of host directory")
}
