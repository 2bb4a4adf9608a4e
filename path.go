package vfsswitch

import (
	"strings"

	"github.com/pkg/errors"
)

// Separator is the only path separator of the namespace.
const Separator = '/'

// JoinPath concatenates the segments from left to right and
// normalizes the result.
//
// A segment starting with the separator discards everything
// accumulated before it, so the result is rooted at the last
// absolute segment supplied. This is how a working directory is
// overridden by an absolute argument:
//
//	JoinPath("/home", "docs")  // "/home/docs"
//	JoinPath("/home", "/etc")  // "/etc"
func JoinPath(base string, segments ...string) (string, error) {
	items := append([]string{base}, segments...)
	start := 0
	for i, s := range items {
		if strings.HasPrefix(s, "/") {
			start = i
		}
	}
	return NormalizePath(strings.Join(items[start:], "/"))
}

// NormalizePath collapses repeated separators, drops "." segments
// and resolves ".." segments against the segments emitted so far.
//
// A ".." with nothing left to remove would escape above the root,
// which fails with ErrInvalidArgument instead of producing "../"
// output. The result is always absolute and carries no trailing
// separator, except for the root itself.
func NormalizePath(p string) (string, error) {
	if strings.IndexByte(p, 0) >= 0 {
		return "", errors.Wrapf(ErrInvalidArgument, "path %q contains NUL", p)
	}
	emitted := make([]string, 0, strings.Count(p, "/")+1)
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(emitted) == 0 {
				return "", errors.Wrapf(ErrInvalidArgument, "path %q escapes root", p)
			}
			emitted = emitted[:len(emitted)-1]
		default:
			emitted = append(emitted, seg)
		}
	}
	return "/" + strings.Join(emitted, "/"), nil
}
