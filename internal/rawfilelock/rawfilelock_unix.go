//go:build !windows

package rawfilelock

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type fileHandle uintptr

func openHandle(path string, mode int) (fileHandle, error) {
	mode |= unix.O_CLOEXEC
	fd, err := unix.Open(path, mode, 0o644)
	return fileHandle(fd), err
}

func lockHandle(fd fileHandle, lType LockType, nonblocking bool) error {
	how := unix.LOCK_SH
	if lType == WriteLock {
		how = unix.LOCK_EX
	}
	if nonblocking {
		how |= unix.LOCK_NB
	}
	for {
		err := unix.Flock(int(fd), how)
		if err == nil {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		if nonblocking && (err == unix.EWOULDBLOCK || err == unix.EAGAIN) {
			return err
		}
		if err == unix.ENOLCK {
			// Transient kernel resource shortage, try again shortly.
			time.Sleep(10 * time.Millisecond)
			continue
		}
		return errors.Wrapf(err, "flock %s lock on fd %d", lType, fd)
	}
}

func unlockHandle(fd fileHandle) error {
	for {
		err := unix.Flock(int(fd), unix.LOCK_UN)
		if err != unix.EINTR {
			if err != nil {
				return errors.Wrapf(err, "releasing flock on fd %d", fd)
			}
			return nil
		}
	}
}

func unlockAndCloseHandle(fd fileHandle) {
	_ = unlockHandle(fd)
	closeHandle(fd)
}

func closeHandle(fd fileHandle) {
	unix.Close(int(fd))
}

func isWouldBlock(err error) bool {
	cause := errors.Cause(err)
	return cause == unix.EWOULDBLOCK || cause == unix.EAGAIN
}
