// Package ipmutex provides the system-wide interprocess mutex shared by all
// tools that modify the package metadata below a system root.
//
// The lock itself is implemented by package interprocess; this package only
// decides which lock file stands for "the system" and adds timeouts suitable
// for command-line tools.
package ipmutex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/containers/ipmutex/pkg/fileutils"
	"github.com/containers/ipmutex/pkg/interprocess"
	"github.com/containers/ipmutex/types"
	securejoin "github.com/cyphar/filepath-securejoin"
	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"
)

// CommonLockName is the location of the common lock below a system root.
const CommonLockName = "/var/run/zypp/common.lck"

// ErrLockTimeout is returned when the common lock could not be taken in time.
var ErrLockTimeout = errors.New("timed out waiting for the lock")

type (
	Mutex        = interprocess.Mutex
	State        = interprocess.State
	ScopedLock   = interprocess.ScopedLock
	SharableLock = interprocess.SharableLock
	GuardOption  = interprocess.GuardOption
)

const (
	Unlocked      = interprocess.Unlocked
	SharedLock    = interprocess.SharedLock
	ExclusiveLock = interprocess.ExclusiveLock
)

var (
	NewScopedLock   = interprocess.NewScopedLock
	NewSharableLock = interprocess.NewSharableLock
	DeferLock       = interprocess.DeferLock
	TryToLock       = interprocess.TryToLock
	Until           = interprocess.Until
	Within          = interprocess.Within
)

// IPMutex is a handle to the common lock of one system root.
type IPMutex struct {
	*interprocess.Mutex
}

// CommonLockFile returns the common lock file for sysroot.  If the current
// user may not use the system-wide file, a per-user file below /var/tmp is
// returned instead.
func CommonLockFile(sysroot string) (string, error) {
	return commonLockFile(sysroot, types.DefaultFallbackDir)
}

// LockFile returns the lock file selected by opts.
func LockFile(opts types.LockOptions) (string, error) {
	if opts.LockFile != "" {
		return opts.LockFile, nil
	}
	sysroot := opts.SysRoot
	if sysroot == "" {
		sysroot = types.DefaultSysRoot
	}
	fallbackDir := opts.FallbackDir
	if fallbackDir == "" {
		fallbackDir = types.DefaultFallbackDir
	}
	return commonLockFile(sysroot, fallbackDir)
}

func commonLockFile(sysroot, fallbackDir string) (string, error) {
	path, err := securejoin.SecureJoin(sysroot, CommonLockName)
	if err != nil {
		return "", fmt.Errorf("resolving %s below %q: %w", CommonLockName, sysroot, err)
	}
	err = usable(path)
	if err == nil {
		return path, nil
	}
	logrus.Debugf("not using %s: %v", path, err)

	name, err := currentUserName()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(fallbackDir, "zypp-"+name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating per-user lock directory: %w", err)
	}
	return filepath.Join(dir, filepath.Base(CommonLockName)), nil
}

// usable checks that path, or the directory it would be created in, is
// readable and writable.  A dangling symlink is not usable: opening it would
// create its target.
func usable(path string) error {
	if err := fileutils.Exists(path); err == nil {
		return fileutils.IsReadWrite(path)
	}
	if err := fileutils.Lexists(path); err == nil {
		return fmt.Errorf("%s is a dangling symlink", path)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return fileutils.IsReadWrite(dir)
}

// New returns a handle to the lock selected by opts.  The handle must be
// closed.
func New(opts types.LockOptions) (*IPMutex, error) {
	path, err := LockFile(opts)
	if err != nil {
		return nil, err
	}
	m, err := interprocess.Get(path)
	if err != nil {
		return nil, err
	}
	m.SetPollInterval(opts.PollInterval)
	return &IPMutex{Mutex: m}, nil
}

// Common returns a handle to the common lock of the running system.
func Common() (*IPMutex, error) {
	return CommonAt(types.DefaultSysRoot)
}

// CommonAt returns a handle to the common lock of the system below sysroot.
func CommonAt(sysroot string) (*IPMutex, error) {
	return New(types.LockOptions{SysRoot: sysroot})
}

// LockWithin takes the exclusive lock, waiting at most timeout.  A timeout
// of zero or less waits for as long as it takes.
func (m *IPMutex) LockWithin(timeout time.Duration) error {
	if timeout <= 0 {
		return m.Lock()
	}
	if !m.TimedLock(time.Now().Add(timeout)) {
		return m.timeoutError(timeout)
	}
	return nil
}

// LockSharableWithin takes a shared lock, waiting at most timeout.  A
// timeout of zero or less waits for as long as it takes.
func (m *IPMutex) LockSharableWithin(timeout time.Duration) error {
	if timeout <= 0 {
		return m.LockSharable()
	}
	if !m.TimedLockSharable(time.Now().Add(timeout)) {
		return m.timeoutError(timeout)
	}
	return nil
}

func (m *IPMutex) timeoutError(timeout time.Duration) error {
	return fmt.Errorf("%w: could not lock %s within %s, another instance may be running",
		ErrLockTimeout, m.Path(), units.HumanDuration(timeout))
}
