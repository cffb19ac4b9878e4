package interprocess

// State is the lock currently held through a mutex.
type State int

const (
	// Unlocked means no lock is held.
	Unlocked State = iota
	// SharedLock means a shared (read) lock is held.
	SharedLock
	// ExclusiveLock means an exclusive (write) lock is held.
	ExclusiveLock
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case SharedLock:
		return "shared"
	case ExclusiveLock:
		return "exclusive"
	}
	return "invalid"
}

// Satisfies reports whether holding s fulfils a request for want; an
// exclusive lock satisfies a request for a shared one.
func (s State) Satisfies(want State) bool {
	return s >= want
}
