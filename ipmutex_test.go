package ipmutex

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/containers/ipmutex/pkg/interprocess"
	"github.com/containers/ipmutex/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommonLockFile(t *testing.T) {
	root := t.TempDir()
	path, err := CommonLockFile(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "var", "run", "zypp", "common.lck"), path)

	fi, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err, "the lock directory should have been created")
	assert.True(t, fi.IsDir())
}

func TestCommonLockFileStaysBelowRoot(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need extra privileges on windows")
	}
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "var"), 0o755))
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "var", "run")))

	path, err := CommonLockFile(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, outside, "zypp", "common.lck"), path)
	_, err = os.Stat(filepath.Join(outside, "zypp"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "nothing should be created outside of the root")
}

func TestCommonLockFileFallback(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("needs a non-root user on a unix system")
	}
	root := t.TempDir()
	zypp := filepath.Join(root, "var", "run", "zypp")
	require.NoError(t, os.MkdirAll(zypp, 0o755))
	require.NoError(t, os.Chmod(zypp, 0o555))
	t.Cleanup(func() { _ = os.Chmod(zypp, 0o755) })

	fallback := t.TempDir()
	path, err := commonLockFile(root, fallback)
	require.NoError(t, err)
	name, err := currentUserName()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fallback, "zypp-"+name, "common.lck"), path)
}

func TestCommonLockFileExistingFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "var", "run", "zypp", "common.lck")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	got, err := commonLockFile(root, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestLockFileOverride(t *testing.T) {
	path, err := LockFile(types.LockOptions{SysRoot: "/nonexistent", LockFile: "/run/custom.lck"})
	require.NoError(t, err)
	assert.Equal(t, "/run/custom.lck", path)
}

func openCommon(t *testing.T, opts types.LockOptions) *IPMutex {
	t.Helper()
	m, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCommonAtSharesTheLock(t *testing.T) {
	root := t.TempDir()
	a, err := CommonAt(root)
	require.NoError(t, err)
	defer a.Close()
	b := openCommon(t, types.LockOptions{SysRoot: root})

	require.NoError(t, a.Lock())
	assert.Equal(t, ExclusiveLock, b.State())
	require.NoError(t, b.Unlock())
	assert.Equal(t, Unlocked, a.State())
}

func TestLockWithin(t *testing.T) {
	opts := types.LockOptions{SysRoot: t.TempDir(), PollInterval: time.Millisecond}
	m := openCommon(t, opts)

	path, err := LockFile(opts)
	require.NoError(t, err)
	other, err := interprocess.NewRegistry().Get(path)
	require.NoError(t, err)
	defer other.Close()
	require.NoError(t, other.Lock())

	start := time.Now()
	err = m.LockWithin(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorContains(t, err, "another instance may be running")
	assert.ErrorContains(t, err, path)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, Unlocked, m.State())

	err = m.LockSharableWithin(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, other.Unlock())
	require.NoError(t, m.LockSharableWithin(time.Second))
	assert.Equal(t, SharedLock, m.State())
	require.NoError(t, m.LockWithin(0))
	assert.Equal(t, ExclusiveLock, m.State())
}

func TestGuardsThroughAliases(t *testing.T) {
	m := openCommon(t, types.LockOptions{SysRoot: t.TempDir()})

	func() {
		l, err := NewScopedLock(m.Mutex, Within(time.Second))
		require.NoError(t, err)
		defer l.Close()
		assert.True(t, l.Owns())

		s, err := NewSharableLock(m.Mutex, TryToLock())
		require.NoError(t, err)
		defer s.Close()
		assert.True(t, s.Owns())
		assert.Equal(t, ExclusiveLock, m.State())
	}()
	assert.Equal(t, Unlocked, m.State())
}

func TestNewSharesTheLockAcrossPollIntervals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "common.lck")
	a := openCommon(t, types.LockOptions{LockFile: path})
	b := openCommon(t, types.LockOptions{LockFile: path, PollInterval: 20 * time.Millisecond})

	assert.Equal(t, interprocess.DefaultPollInterval, a.PollInterval())
	assert.Equal(t, 20*time.Millisecond, b.PollInterval())
	assert.Equal(t, 2, a.Stats().References)

	require.NoError(t, a.Lock())
	assert.Equal(t, ExclusiveLock, b.State())
	assert.True(t, b.TryLock(), "the process must not conflict with its own lock")
	require.NoError(t, b.LockSharableWithin(200*time.Millisecond))
	assert.Equal(t, SharedLock, a.State())
}

func TestUsableRejectsDanglingSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need extra privileges on windows")
	}
	dir := t.TempDir()
	link := filepath.Join(dir, "common.lck")
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing", "target"), link))

	assert.ErrorContains(t, usable(link), "dangling symlink")
	assert.NoError(t, usable(filepath.Join(dir, "plain.lck")))
}
