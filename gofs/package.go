// Package gofs aims at providing a simple but working
// Golang file system backend for the switch.
//
// The file system supports only file and directory, both
// of them can be opened by OpenFile operation, returning
// a file interface. The File interface should supports
// only read, write (append or random), close, seek, sync,
// readdir, truncate and stat operations.
//
// On the filesystem level, it supports Stat, OpenFile,
// Mkdir, Remove and Rename operations.
//
// The backend created by New expects the device of every
// mount to be a FileSystem, and offers every entry point
// of the switch on top of it. Paths are passed to the
// FileSystem in slash form, rooted at "/", so that the
// root of the mount is "/" itself.
//
// Formatting and usage reports are optional, and are
// available when the device implements FileSystemFormat
// or FileSystemStatfs. Likewise files may implement
// FileIoctl to receive ioctl commands.
package gofs
