package interprocess

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/containers/ipmutex/internal/rawfilelock"
)

// Probe reports which lock is held on path as seen from a fresh open of the
// file: locks held through this process' own handles are included.  A missing
// lock file is reported as Unlocked.
func Probe(path string) (State, error) {
	fd, err := rawfilelock.OpenLock(path, true)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Unlocked, nil
		}
		return Unlocked, fmt.Errorf("probing lock file %q: %w", path, err)
	}
	defer rawfilelock.CloseHandle(fd)

	if err := rawfilelock.TryLockFile(fd, rawfilelock.WriteLock); err == nil {
		return Unlocked, nil
	} else if !rawfilelock.IsWouldBlock(err) {
		return Unlocked, fmt.Errorf("probing lock file %q: %w", path, err)
	}
	if err := rawfilelock.TryLockFile(fd, rawfilelock.ReadLock); err == nil {
		return SharedLock, nil
	} else if !rawfilelock.IsWouldBlock(err) {
		return Unlocked, fmt.Errorf("probing lock file %q: %w", path, err)
	}
	return ExclusiveLock, nil
}
