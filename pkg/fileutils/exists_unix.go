//go:build !windows

package fileutils

import (
	"golang.org/x/sys/unix"
)

// Exists checks whether a file or directory exists at the given path.
// If the path is a symlink, the symlink is followed.
func Exists(path string) error {
	// unix.Faccessat is cheaper than os.Stat when only existence matters.
	return wrap("faccessat", path, unix.Faccessat(unix.AT_FDCWD, path, unix.F_OK, 0))
}

// Lexists checks whether a file or directory exists at the given path.
// If the path is a symlink, the symlink itself is checked.
func Lexists(path string) error {
	return wrap("faccessat", path, unix.Faccessat(unix.AT_FDCWD, path, unix.F_OK, unix.AT_SYMLINK_NOFOLLOW))
}

// IsReadWrite checks whether the current user may both read and write path.
// Access is checked against the real user and group IDs.
func IsReadWrite(path string) error {
	return wrap("faccessat", path, unix.Faccessat(unix.AT_FDCWD, path, unix.R_OK|unix.W_OK, 0))
}
