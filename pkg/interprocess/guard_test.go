package interprocess

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedLockImmediate(t *testing.T) {
	path := tempLockPath(t)
	m := getMutex(t, NewRegistry(), path)

	l, err := NewScopedLock(m)
	require.NoError(t, err)
	assert.True(t, l.Owns())
	assert.Same(t, m, l.Mutex())
	assert.Equal(t, ExclusiveLock, m.State())

	require.NoError(t, l.Close())
	assert.False(t, l.Owns())
	assert.Equal(t, Unlocked, m.State())
	require.NoError(t, l.Close(), "closing twice is harmless")
	require.NoError(t, l.Unlock(), "unlocking a guard that does not own is harmless")
	assert.Equal(t, 0, m.Stats().ExclusiveHolds)
}

func TestSharableLockImmediate(t *testing.T) {
	m := getMutex(t, NewRegistry(), tempLockPath(t))

	l, err := NewSharableLock(m)
	require.NoError(t, err)
	assert.True(t, l.Owns())
	assert.Equal(t, SharedLock, m.State())
	require.NoError(t, l.Close())
	assert.Equal(t, Unlocked, m.State())
}

func TestGuardDeferLock(t *testing.T) {
	m := getMutex(t, NewRegistry(), tempLockPath(t))

	l, err := NewScopedLock(m, DeferLock())
	require.NoError(t, err)
	assert.False(t, l.Owns())
	assert.Equal(t, Unlocked, m.State())

	assert.True(t, l.TryLock())
	assert.True(t, l.Owns())
	assert.Panics(t, func() { l.TryLock() }, "locking an owning guard is a programming error")
	require.NoError(t, l.Unlock())

	require.NoError(t, l.Lock())
	assert.Equal(t, ExclusiveLock, m.State())
	require.NoError(t, l.Unlock())

	assert.True(t, l.TimedLock(time.Now().Add(time.Second)))
	require.NoError(t, l.Close())
	assert.Equal(t, Unlocked, m.State())
}

func TestGuardTryToLockAndTimeouts(t *testing.T) {
	path := tempLockPath(t)
	holder := getMutex(t, NewRegistry(), path)
	m := getMutex(t, NewRegistry(WithPollInterval(time.Millisecond)), path)
	require.NoError(t, holder.Lock())

	for name, options := range map[string][]GuardOption{
		"try":    {TryToLock()},
		"until":  {Until(time.Now().Add(20 * time.Millisecond))},
		"within": {Within(20 * time.Millisecond)},
		"past":   {Until(time.Now().Add(-time.Second))},
	} {
		start := time.Now()
		s, err := NewSharableLock(m, options...)
		require.NoError(t, err, name)
		assert.False(t, s.Owns(), name)
		x, err := NewScopedLock(m, options...)
		require.NoError(t, err, name)
		assert.False(t, x.Owns(), name)
		assert.Less(t, time.Since(start), time.Second, name)
		assert.Equal(t, Unlocked, m.State(), name)
		require.NoError(t, s.Close())
		require.NoError(t, x.Close())
	}

	require.NoError(t, holder.Unlock())
	l, err := NewScopedLock(m, Within(time.Second))
	require.NoError(t, err)
	defer l.Close()
	assert.True(t, l.Owns())
}

func TestSharableGuardSatisfiedByExclusiveLock(t *testing.T) {
	m := getMutex(t, NewRegistry(), tempLockPath(t))

	x, err := NewScopedLock(m)
	require.NoError(t, err)
	calls := m.Stats().LockCalls

	s, err := NewSharableLock(m, TryToLock())
	require.NoError(t, err)
	assert.True(t, s.Owns())
	assert.Equal(t, ExclusiveLock, m.State(), "shared guard must not downgrade an exclusive lock")
	assert.Equal(t, calls, m.Stats().LockCalls, "shared guard must be satisfied without a syscall")

	require.NoError(t, s.Close())
	assert.Equal(t, ExclusiveLock, m.State(), "releasing the nested shared guard keeps the exclusive lock")
	require.NoError(t, x.Close())
	assert.Equal(t, Unlocked, m.State())
}

func TestGuardOwnsReflectsOwnAcquisition(t *testing.T) {
	path := tempLockPath(t)
	m := getMutex(t, NewRegistry(), path)
	other := getMutex(t, NewRegistry(), path)

	s, err := NewSharableLock(m)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, other.LockSharable())

	// The upgrade fails because of the other reader, while s still owns its
	// shared lock.
	x, err := NewScopedLock(m, TryToLock())
	require.NoError(t, err)
	assert.False(t, x.Owns())
	assert.True(t, s.Owns())
	assert.Equal(t, SharedLock, m.State())
	require.NoError(t, x.Close())
	assert.Equal(t, SharedLock, m.State(), "closing a guard that failed must not release anything")
}

func TestNestedGuardsRestoreState(t *testing.T) {
	path := tempLockPath(t)
	m := getMutex(t, NewRegistry(), path)

	s, err := NewSharableLock(m)
	require.NoError(t, err)
	x, err := NewScopedLock(m)
	require.NoError(t, err)
	assert.Equal(t, ExclusiveLock, m.State())

	inner, err := NewScopedLock(m)
	require.NoError(t, err)
	require.NoError(t, inner.Close())
	assert.Equal(t, ExclusiveLock, m.State(), "releasing a nested exclusive guard keeps the outer one")

	require.NoError(t, x.Close())
	assert.Equal(t, SharedLock, m.State(), "releasing the exclusive guard falls back to the shared one")
	probed, err := Probe(path)
	require.NoError(t, err)
	assert.Equal(t, SharedLock, probed)

	require.NoError(t, s.Close())
	assert.Equal(t, Unlocked, m.State())
}

func TestGuardsKeepRawLock(t *testing.T) {
	m := getMutex(t, NewRegistry(), tempLockPath(t))
	require.NoError(t, m.Lock())

	s, err := NewSharableLock(m)
	require.NoError(t, err)
	x, err := NewScopedLock(m)
	require.NoError(t, err)
	require.NoError(t, x.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, ExclusiveLock, m.State(), "guards must not release a lock they did not take")
}

func TestGuardReleasedOnAllExits(t *testing.T) {
	path := tempLockPath(t)
	m := getMutex(t, NewRegistry(), path)
	other := getMutex(t, NewRegistry(), path)
	errEarly := errors.New("early return")

	critical := func(fail bool) error {
		l, err := NewScopedLock(m)
		if err != nil {
			return err
		}
		defer l.Close()
		if fail {
			return errEarly
		}
		return nil
	}
	panicky := func() {
		l, err := NewSharableLock(m)
		require.NoError(t, err)
		defer l.Close()
		panic("boom")
	}

	require.NoError(t, critical(false))
	assert.True(t, other.TryLock())
	require.NoError(t, other.Unlock())

	require.ErrorIs(t, critical(true), errEarly)
	assert.True(t, other.TryLock())
	require.NoError(t, other.Unlock())

	assert.Panics(t, panicky)
	assert.Equal(t, Unlocked, m.State())
	assert.True(t, other.TryLock())
}

func TestGuardUnboundPanics(t *testing.T) {
	assert.Panics(t, func() { NewScopedLock(&Mutex{}) })
	assert.Panics(t, func() { NewSharableLock(nil) })

	var l ScopedLock
	assert.False(t, l.Owns())
	assert.NoError(t, l.Close())
	assert.Panics(t, func() { l.Lock() })
}
