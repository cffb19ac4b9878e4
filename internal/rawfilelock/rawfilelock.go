package rawfilelock

import (
	"os"
)

// LockType selects the kind of advisory lock taken on a FileHandle.
type LockType byte

const (
	// ReadLock is a shared lock; any number of holders may coexist.
	ReadLock LockType = iota
	// WriteLock is an exclusive lock.
	WriteLock
)

func (t LockType) String() string {
	if t == WriteLock {
		return "write"
	}
	return "read"
}

// FileHandle is the platform handle of an open lock file.
type FileHandle = fileHandle

// OpenLock opens the file at path to be used for locking.  Unless readOnly is
// set the file is created if it does not exist.  Parent directories are never
// created, a missing parent is reported as an error.
func OpenLock(path string, readOnly bool) (FileHandle, error) {
	flags := os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	} else {
		flags |= os.O_RDWR
	}

	fd, err := openHandle(path, flags)
	if err == nil {
		return fd, nil
	}

	return fd, &os.PathError{Op: "open", Path: path, Err: err}
}

// TryLockFile attempts to lock a file handle without blocking.  If the lock is
// held by someone else the returned error satisfies IsWouldBlock.
func TryLockFile(fd FileHandle, lockType LockType) error {
	return lockHandle(fd, lockType, true)
}

// LockFile locks a file handle, blocking until the lock is granted.  Taking a
// lock of a different type on a handle that is already locked converts the
// existing lock; the conversion is not atomic.
func LockFile(fd FileHandle, lockType LockType) error {
	return lockHandle(fd, lockType, false)
}

// UnlockFile releases whatever lock is held on the handle.  Shared and
// exclusive locks are released the same way.
func UnlockFile(fd FileHandle) error {
	return unlockHandle(fd)
}

// UnlockAndCloseHandle releases the lock and closes the handle.
func UnlockAndCloseHandle(fd FileHandle) {
	unlockAndCloseHandle(fd)
}

// CloseHandle closes the handle; the kernel drops any lock held through it.
func CloseHandle(fd FileHandle) {
	closeHandle(fd)
}

// IsWouldBlock reports whether err was returned by TryLockFile because the
// lock is held elsewhere.
func IsWouldBlock(err error) bool {
	return isWouldBlock(err)
}
