package interprocess

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// Mutex is a handle to the interprocess mutex of one lock file path.
//
// All open handles for a path share the same lock, so locking through one of
// them is visible through all others.  Lock requests that the current state
// already satisfies return immediately; note that LockSharable on an
// exclusively locked mutex downgrades it to a shared lock, and that Unlock and
// UnlockSharable are the same operation.
//
// The zero value is an unbound placeholder; locking it panics.  Handles
// obtained from a Registry or Clone must be closed.
type Mutex struct {
	core    *mutexCore
	closed  atomic.Bool
	poll    atomic.Int64
	cleanup runtime.Cleanup
}

// Stats describes the shared lock behind a handle.
type Stats struct {
	Path           string
	State          State
	References     int
	SharedHolds    int
	ExclusiveHolds int
	// LockCalls counts the lock and unlock syscalls issued so far.
	LockCalls uint64
}

func newMutex(c *mutexCore) *Mutex {
	m := &Mutex{core: c}
	m.poll.Store(int64(c.pollInterval))
	// Handles that are dropped without Close still give up their reference.
	m.cleanup = runtime.AddCleanup(m, func(c *mutexCore) {
		c.unref()
	}, c)
	return m
}

// Wait returns the point in time seconds from now, for use with TimedLock and
// TimedLockSharable.
func Wait(seconds uint) time.Time {
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// SetPollInterval sets how often timed lock requests made through this handle
// retry while another process holds a conflicting lock.  Other handles for the
// same path keep their own interval.
func (m *Mutex) SetPollInterval(d time.Duration) {
	if d > 0 {
		m.poll.Store(int64(d))
	}
}

// PollInterval returns the retry interval of timed lock requests.
func (m *Mutex) PollInterval() time.Duration {
	return time.Duration(m.poll.Load())
}

func (m *Mutex) attempt(mode waitMode, deadline time.Time) attempt {
	return attempt{mode: mode, deadline: deadline, poll: m.PollInterval()}
}

func (m *Mutex) bound() *mutexCore {
	if m == nil || m.core == nil {
		panic("internal error: lock operation on an unbound interprocess mutex")
	}
	if m.closed.Load() {
		panic(fmt.Sprintf("internal error: lock operation on a closed handle for %s", m.core.path))
	}
	return m.core
}

// Lock takes the exclusive lock, blocking until it is available.  Upgrading a
// shared lock waits for all other shared holders, including other processes
// sharing it with this one.
func (m *Mutex) Lock() error {
	_, err := m.bound().lockAs(ExclusiveLock, blocking)
	return err
}

// TryLock takes the exclusive lock if that is possible without waiting.
func (m *Mutex) TryLock() bool {
	ok, _ := m.bound().lockAs(ExclusiveLock, m.attempt(waitNever, time.Time{}))
	return ok
}

// TimedLock takes the exclusive lock, waiting no longer than until deadline.
func (m *Mutex) TimedLock(deadline time.Time) bool {
	ok, _ := m.bound().lockAs(ExclusiveLock, m.attempt(waitUntil, deadline))
	return ok
}

// WaitLock is TimedLock(Wait(seconds)).
func (m *Mutex) WaitLock(seconds uint) bool {
	return m.TimedLock(Wait(seconds))
}

// Unlock releases the lock, whichever kind is held.
func (m *Mutex) Unlock() error {
	return m.bound().unlock()
}

// LockSharable takes a shared lock, blocking until it is available.
func (m *Mutex) LockSharable() error {
	_, err := m.bound().lockAs(SharedLock, blocking)
	return err
}

// TryLockSharable takes a shared lock if that is possible without waiting.
func (m *Mutex) TryLockSharable() bool {
	ok, _ := m.bound().lockAs(SharedLock, m.attempt(waitNever, time.Time{}))
	return ok
}

// TimedLockSharable takes a shared lock, waiting no longer than until deadline.
func (m *Mutex) TimedLockSharable(deadline time.Time) bool {
	ok, _ := m.bound().lockAs(SharedLock, m.attempt(waitUntil, deadline))
	return ok
}

// WaitLockSharable is TimedLockSharable(Wait(seconds)).
func (m *Mutex) WaitLockSharable(seconds uint) bool {
	return m.TimedLockSharable(Wait(seconds))
}

// UnlockSharable releases the lock, whichever kind is held.
func (m *Mutex) UnlockSharable() error {
	return m.bound().unlock()
}

// State returns the lock currently held through the mutex.
func (m *Mutex) State() State {
	if m == nil || m.core == nil {
		return Unlocked
	}
	return m.core.currentState()
}

// Path returns the lock file path, or "" for an unbound handle.
func (m *Mutex) Path() string {
	if m == nil || m.core == nil {
		return ""
	}
	return m.core.path
}

// Stats returns a snapshot of the shared lock's bookkeeping.
func (m *Mutex) Stats() Stats {
	if m == nil || m.core == nil {
		return Stats{}
	}
	return m.core.stats()
}

func (m *Mutex) String() string {
	if m == nil || m.core == nil {
		return "(unbound)"
	}
	return fmt.Sprintf("%s (%s)", m.core.path, m.State())
}

// Clone returns another handle sharing the lock of m.  It must be closed
// independently of m.
func (m *Mutex) Clone() *Mutex {
	c := m.bound()
	if !c.ref() {
		panic(fmt.Sprintf("internal error: cloning a handle for %s after its lock was closed", c.path))
	}
	return newMutex(c)
}

// Close gives up the handle.  When the last handle for a path is closed the
// lock file is closed, releasing any lock still held.  Closing twice, or
// closing an unbound handle, does nothing.
func (m *Mutex) Close() error {
	if m == nil || m.core == nil || !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cleanup.Stop()
	m.core.unref()
	return nil
}
