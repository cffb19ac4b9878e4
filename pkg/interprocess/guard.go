package interprocess

import (
	"fmt"
	"time"
)

// GuardOption selects how a guard acquires its lock when it is constructed.
// Without options the guard blocks until the lock is taken.
type GuardOption func(*guardConfig)

type guardConfig struct {
	deferred bool
	mode     waitMode
	deadline time.Time
	timeout  time.Duration
}

// DeferLock constructs the guard without locking; call Lock, TryLock or
// TimedLock later.
func DeferLock() GuardOption {
	return func(c *guardConfig) {
		c.deferred = true
	}
}

// TryToLock makes a single non-blocking attempt at construction.
func TryToLock() GuardOption {
	return func(c *guardConfig) {
		c.mode = waitNever
	}
}

// Until waits at most until deadline at construction.
func Until(deadline time.Time) GuardOption {
	return func(c *guardConfig) {
		c.mode = waitUntil
		c.deadline = deadline
		c.timeout = 0
	}
}

// Within waits at most timeout, counted from construction.
func Within(timeout time.Duration) GuardOption {
	return func(c *guardConfig) {
		c.mode = waitUntil
		c.deadline = time.Time{}
		c.timeout = timeout
	}
}

// guard ties one lock of a given kind to the lifetime of a scope.  It only
// records its own contribution: several guards on the same mutex may own
// their locks at the same time while the kernel sees a single file lock.
type guard struct {
	m    *Mutex
	kind State
	owns bool
}

func (g *guard) init(m *Mutex, kind State, options []GuardOption) error {
	m.bound()
	g.m = m
	g.kind = kind

	var cfg guardConfig
	for _, o := range options {
		o(&cfg)
	}
	if cfg.deferred {
		return nil
	}
	switch cfg.mode {
	case waitNever:
		g.TryLock()
	case waitUntil:
		deadline := cfg.deadline
		if deadline.IsZero() {
			deadline = time.Now().Add(cfg.timeout)
		}
		g.TimedLock(deadline)
	default:
		return g.Lock()
	}
	return nil
}

func (g *guard) acquire(mode waitMode, deadline time.Time) (bool, error) {
	if g.m == nil {
		panic(fmt.Sprintf("internal error: locking a %s guard without a mutex", g.kind))
	}
	if g.owns {
		panic(fmt.Sprintf("internal error: %s guard for %s already owns its lock", g.kind, g.m.Path()))
	}
	ok, err := g.m.bound().hold(g.kind, g.m.attempt(mode, deadline))
	g.owns = ok
	return ok, err
}

// Lock blocks until the guard owns its lock.
func (g *guard) Lock() error {
	_, err := g.acquire(waitBlocking, time.Time{})
	return err
}

// TryLock takes the lock if that is possible without waiting.
func (g *guard) TryLock() bool {
	ok, _ := g.acquire(waitNever, time.Time{})
	return ok
}

// TimedLock takes the lock, waiting no longer than until deadline.
func (g *guard) TimedLock(deadline time.Time) bool {
	ok, _ := g.acquire(waitUntil, deadline)
	return ok
}

// Unlock gives up the guard's lock.  It does nothing if the guard does not
// own one.
func (g *guard) Unlock() error {
	if g.m == nil || !g.owns {
		return nil
	}
	g.owns = false
	return g.m.bound().release(g.kind)
}

// Owns reports whether this guard holds its lock.
func (g *guard) Owns() bool {
	return g.owns
}

// Mutex returns the mutex the guard is bound to.
func (g *guard) Mutex() *Mutex {
	return g.m
}

// Close releases the lock if the guard owns it; it is meant to be deferred
// right after construction and is safe to call repeatedly.
func (g *guard) Close() error {
	return g.Unlock()
}

// ScopedLock guards an exclusive lock.
type ScopedLock struct {
	guard
}

// NewScopedLock binds a new exclusive guard to m and, unless DeferLock is
// given, acquires the lock.  An error is only returned if a blocking
// acquisition failed; check Owns after TryToLock, Until or Within.
func NewScopedLock(m *Mutex, options ...GuardOption) (*ScopedLock, error) {
	l := &ScopedLock{}
	if err := l.init(m, ExclusiveLock, options); err != nil {
		return nil, err
	}
	return l, nil
}

// SharableLock guards a shared lock.  It is satisfied without a syscall when
// the mutex is already locked exclusively.
type SharableLock struct {
	guard
}

// NewSharableLock binds a new shared guard to m and, unless DeferLock is
// given, acquires the lock.  An error is only returned if a blocking
// acquisition failed; check Owns after TryToLock, Until or Within.
func NewSharableLock(m *Mutex, options ...GuardOption) (*SharableLock, error) {
	l := &SharableLock{}
	if err := l.init(m, SharedLock, options); err != nil {
		return nil, err
	}
	return l, nil
}
