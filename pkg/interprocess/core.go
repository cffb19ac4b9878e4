package interprocess

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containers/ipmutex/internal/rawfilelock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// waitMode says how long an acquisition may wait for a conflicting holder.
type waitMode int

const (
	waitBlocking waitMode = iota
	waitNever
	waitUntil
)

// mutexCore owns the open lock file of one path and the lock state held
// through it.  It is shared by all handles for that path and closed when the
// last of them goes away.
type mutexCore struct {
	// The following fields are only set when constructing *mutexCore, and must never be modified afterwards.
	path         string
	pollInterval time.Duration // default for new handles
	fd           rawfilelock.FileHandle

	// transition serializes state changes within the process.  It is held
	// across the lock syscalls, never across a Registry lookup.
	transition *semaphore.Weighted

	// mu guards the fields below.  Only holders of transition modify state.
	mu     sync.Mutex
	state  State
	refs   int
	closed bool
	// holds counts the guards currently owning a lock of each kind; base is
	// the state found when the first of them was taken.
	holds [ExclusiveLock + 1]int
	base  State

	lockCalls atomic.Uint64
}

func newCore(path string, readOnly bool, poll time.Duration) (*mutexCore, error) {
	fd, err := rawfilelock.OpenLock(path, readOnly)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %q: %w", path, err)
	}
	return &mutexCore{
		path:         path,
		pollInterval: poll,
		fd:           fd,
		transition:   semaphore.NewWeighted(1),
		state:        Unlocked,
		refs:         1,
	}, nil
}

// ref adds a reference unless the core has already been closed.
func (c *mutexCore) ref() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.refs++
	return true
}

// unref drops a reference; dropping the last one closes the lock file, which
// also releases any lock held through it.
func (c *mutexCore) unref() {
	c.mu.Lock()
	c.refs--
	last := c.refs == 0
	c.mu.Unlock()
	if !last {
		return
	}

	// Wait for any in-flight syscall on the descriptor before closing it.
	_ = c.transition.Acquire(context.Background(), 1)
	defer c.transition.Release(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs > 0 || c.closed {
		return
	}
	c.closed = true
	if c.state != Unlocked {
		logrus.Debugf("closing interprocess mutex %s while holding a %s lock", c.path, c.state)
	}
	c.state = Unlocked
	rawfilelock.UnlockAndCloseHandle(c.fd)
}

func (c *mutexCore) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *mutexCore) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *mutexCore) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// attempt describes how long one acquisition may wait, and how often it
// retries while another process holds a conflicting lock.
type attempt struct {
	mode     waitMode
	deadline time.Time
	poll     time.Duration
}

var blocking = attempt{mode: waitBlocking}

// expired reports whether a waitUntil attempt has no time left.
func (a attempt) expired() bool {
	return a.mode != waitUntil || !time.Now().Before(a.deadline)
}

// sleep waits one poll interval, never past the deadline.
func (a attempt) sleep() {
	time.Sleep(min(a.poll, time.Until(a.deadline)))
}

// enter obtains the right to change the state, honouring a's mode.
func (c *mutexCore) enter(a attempt) bool {
	switch a.mode {
	case waitNever:
		return c.transition.TryAcquire(1)
	case waitUntil:
		ctx, cancel := context.WithDeadline(context.Background(), a.deadline)
		defer cancel()
		if err := c.transition.Acquire(ctx, 1); err == nil {
			return true
		}
		// A deadline in the past still gets one attempt.
		return c.transition.TryAcquire(1)
	}
	_ = c.transition.Acquire(context.Background(), 1)
	return true
}

func (c *mutexCore) leave() {
	c.transition.Release(1)
}

// lockAs switches the core to want, unless it already is in that state.
func (c *mutexCore) lockAs(want State, a attempt) (bool, error) {
	if !c.enter(a) {
		return false, nil
	}
	defer c.leave()
	return c.switchTo(want, a)
}

// unlock releases whatever lock is held.
func (c *mutexCore) unlock() error {
	c.enter(blocking)
	defer c.leave()
	_, err := c.switchTo(Unlocked, blocking)
	return err
}

// switchTo moves from the current state to want.  The caller must hold the
// transition semaphore.
func (c *mutexCore) switchTo(want State, a attempt) (bool, error) {
	from := c.currentState()
	if from == want {
		return true, nil
	}

	if want == Unlocked {
		c.lockCalls.Add(1)
		if err := rawfilelock.UnlockFile(c.fd); err != nil {
			return false, fmt.Errorf("unlocking %q: %w", c.path, err)
		}
		c.setState(Unlocked)
		return true, nil
	}

	lockType := rawfilelock.ReadLock
	if want == ExclusiveLock {
		lockType = rawfilelock.WriteLock
	}
	// A downgrade can only ever wait for the instant between the kernel
	// dropping our exclusive lock and granting the shared one.
	if a.mode == waitBlocking || from == ExclusiveLock {
		c.lockCalls.Add(1)
		if err := rawfilelock.LockFile(c.fd, lockType); err != nil {
			c.restore(from)
			return false, fmt.Errorf("taking %s lock on %q: %w", want, c.path, err)
		}
		c.setState(want)
		return true, nil
	}

	if !c.tryUntil(lockType, from, a) {
		return false, nil
	}
	c.setState(want)
	return true, nil
}

// tryUntil attempts the non-blocking acquisition once for waitNever, or
// repeatedly until the deadline for waitUntil.  The kernel drops a shared
// lock before it tries to convert it, so a failed upgrade takes the shared
// lock back before waiting again.
func (c *mutexCore) tryUntil(lockType rawfilelock.LockType, from State, a attempt) bool {
	logged := false
	for {
		c.lockCalls.Add(1)
		err := rawfilelock.TryLockFile(c.fd, lockType)
		if err == nil {
			return true
		}
		if !rawfilelock.IsWouldBlock(err) {
			logrus.Warnf("trying to take %s lock on %s: %v", lockType, c.path, err)
			c.reshare(from, a)
			return false
		}
		if !c.reshare(from, a) || a.expired() {
			return false
		}
		if !logged {
			logrus.Debugf("waiting up to %v for %s lock on %s", time.Until(a.deadline), lockType, c.path)
			logged = true
		}
		a.sleep()
	}
}

// reshare takes back the shared lock a failed upgrade from from may have
// dropped, without waiting past a's deadline.  If that is not possible the
// core is left unlocked.
func (c *mutexCore) reshare(from State, a attempt) bool {
	if from != SharedLock {
		return true
	}
	for {
		c.lockCalls.Add(1)
		err := rawfilelock.TryLockFile(c.fd, rawfilelock.ReadLock)
		if err == nil {
			return true
		}
		if !rawfilelock.IsWouldBlock(err) || a.expired() {
			logrus.Warnf("lost shared lock on %s while trying to upgrade it: %v", c.path, err)
			c.setState(Unlocked)
			return false
		}
		a.sleep()
	}
}

// restore restores the state we had before a failed blocking conversion.
func (c *mutexCore) restore(from State) {
	switch from {
	case Unlocked:
		return
	case SharedLock:
		c.lockCalls.Add(1)
		if err := rawfilelock.LockFile(c.fd, rawfilelock.ReadLock); err != nil {
			logrus.Warnf("restoring shared lock on %s: %v", c.path, err)
			c.setState(Unlocked)
		}
	case ExclusiveLock:
		logrus.Warnf("lost exclusive lock on %s while downgrading it", c.path)
		c.setState(Unlocked)
	}
}

// hold takes a lock of kind want on behalf of a guard.  A request already
// satisfied by the current state costs no syscall.
func (c *mutexCore) hold(want State, a attempt) (bool, error) {
	if !c.enter(a) {
		return false, nil
	}
	defer c.leave()

	from := c.currentState()
	if !from.Satisfies(want) {
		ok, err := c.switchTo(want, a)
		if !ok {
			return false, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holds[SharedLock]+c.holds[ExclusiveLock] == 0 {
		c.base = from
	}
	c.holds[want]++
	return true, nil
}

// release gives up a guard's hold of kind held, moving the core to the
// weakest state that still satisfies the remaining holds and the state found
// before the first of them.
func (c *mutexCore) release(held State) error {
	c.enter(blocking)
	defer c.leave()

	c.mu.Lock()
	if c.holds[held] == 0 {
		c.mu.Unlock()
		panic(fmt.Sprintf("internal error: releasing a %s hold on %s that was never taken", held, c.path))
	}
	c.holds[held]--
	target := c.base
	if c.holds[SharedLock] > 0 && target < SharedLock {
		target = SharedLock
	}
	if c.holds[ExclusiveLock] > 0 {
		target = ExclusiveLock
	}
	if c.holds[SharedLock]+c.holds[ExclusiveLock] == 0 {
		c.base = Unlocked
	}
	current := c.state
	c.mu.Unlock()

	// Never take a lock here; the holder may have unlocked the raw mutex itself.
	if current <= target {
		return nil
	}
	_, err := c.switchTo(target, blocking)
	return err
}

func (c *mutexCore) stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Path:           c.path,
		State:          c.state,
		References:     c.refs,
		SharedHolds:    c.holds[SharedLock],
		ExclusiveHolds: c.holds[ExclusiveLock],
		LockCalls:      c.lockCalls.Load(),
	}
}
