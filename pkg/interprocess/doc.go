// Package interprocess provides a mutex that synchronizes access to on-disk
// state across processes (not goroutines!) by means of an advisory lock on a
// lock file.
//
// Every lock file path maps to at most one live lock per process: all handles
// returned by a Registry for the same path share one underlying file lock and
// one lock state (unlocked, shared or exclusive).  Lock requests that are
// already satisfied by that state are no-ops, so nested critical sections in
// one process never deadlock against the process' own lock.  Goroutines using
// the same path are therefore NOT excluded from each other; use a sync.RWMutex
// for that.
//
// The underlying lock is released when the last handle referencing it is
// closed, and by the kernel if the process dies.
//
//	m, err := interprocess.Get("/var/run/zypp/common.lck")
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	l, err := interprocess.NewScopedLock(m, interprocess.Within(5*time.Second))
//	if err != nil {
//		return err
//	}
//	defer l.Close()
//	if !l.Owns() {
//		return errors.New("another instance is running")
//	}
package interprocess
