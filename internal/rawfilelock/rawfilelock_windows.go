//go:build windows

package rawfilelock

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const (
	reserved = 0
	allBytes = ^uint32(0)
)

type fileHandle windows.Handle

func openHandle(path string, mode int) (fileHandle, error) {
	mode |= windows.O_CLOEXEC
	fd, err := windows.Open(path, mode, windows.S_IWRITE)
	return fileHandle(fd), err
}

func lockHandle(fd fileHandle, lType LockType, nonblocking bool) error {
	flags := 0
	if lType != ReadLock {
		flags = windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	if nonblocking {
		flags |= windows.LOCKFILE_FAIL_IMMEDIATELY
	}
	// LockFileEx stacks locks instead of converting them; drop ours first, as
	// flock(2) does.
	if err := unlockHandle(fd); err != nil {
		return err
	}
	ol := new(windows.Overlapped)
	if err := windows.LockFileEx(windows.Handle(fd), uint32(flags), reserved, allBytes, allBytes, ol); err != nil {
		if nonblocking && err == windows.ERROR_LOCK_VIOLATION {
			return err
		}
		return errors.Wrapf(err, "LockFileEx %s lock", lType)
	}
	return nil
}

func unlockHandle(fd fileHandle) error {
	ol := new(windows.Overlapped)
	if err := windows.UnlockFileEx(windows.Handle(fd), reserved, allBytes, allBytes, ol); err != nil {
		// Releasing a handle that holds no lock is not an error for callers.
		if err == windows.ERROR_NOT_LOCKED {
			return nil
		}
		return errors.Wrap(err, "UnlockFileEx")
	}
	return nil
}

func unlockAndCloseHandle(fd fileHandle) {
	_ = unlockHandle(fd)
	closeHandle(fd)
}

func closeHandle(fd fileHandle) {
	windows.Close(windows.Handle(fd))
}

func isWouldBlock(err error) bool {
	return errors.Cause(err) == windows.ERROR_LOCK_VIOLATION
}
