package main

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/go-vfsswitch/vfsswitch/aferofs"
	"github.com/go-vfsswitch/vfsswitch/hostfs"
	"github.com/go-vfsswitch/vfsswitch/internal/config"
	"github.com/go-vfsswitch/vfsswitch/memfs"
)

// newDevice creates the device of a configured mount:
//
//	ramfs    source is the capacity, e.g. "64MiB", or empty
//	hostfs   source is the host directory
//	afero    source is described in aferofs.FromSource
func newDevice(mc config.MountConfig) (any, error) {
	switch mc.Backend {
	case "ramfs":
		if mc.Source == "" {
			return memfs.New(), nil
		}
		capacity, err := humanize.ParseBytes(mc.Source)
		if err != nil {
			return nil, errors.Wrapf(err, "ramfs capacity %q", mc.Source)
		}
		return memfs.NewSize(int64(capacity)), nil
	case "hostfs":
		if mc.Source == "" {
			return nil, errors.New("hostfs needs a source directory")
		}
		return &hostfs.Passthrough{Dir: mc.Source}, nil
	case "afero":
		source := mc.Source
		if source == "" {
			source = "mem"
		}
		return aferofs.FromSource(source)
	default:
		return nil, errors.Errorf("no device for backend %q", mc.Backend)
	}
}
