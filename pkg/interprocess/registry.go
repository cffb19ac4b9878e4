package interprocess

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
	"weak"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often timed lock requests retry while another
// process holds a conflicting lock.
const DefaultPollInterval = 10 * time.Millisecond

// Registry hands out handles to interprocess mutexes, making sure that all
// handles for the same lock file path within the process share one lock.
//
// The registry only keeps weak references: the lock for a path lives as long
// as some handle for it is open, and is recreated on demand afterwards.
type Registry struct {
	pollInterval time.Duration
	readOnly     bool

	mu    sync.Mutex
	cores map[string]weak.Pointer[mutexCore]
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPollInterval sets the default retry interval of timed lock requests made
// through handles from this registry.
func WithPollInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithReadOnly makes the registry open lock files read-only; such files must
// already exist.
func WithReadOnly() RegistryOption {
	return func(r *Registry) {
		r.readOnly = true
	}
}

// NewRegistry returns an empty Registry.
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		pollInterval: DefaultPollInterval,
		cores:        make(map[string]weak.Pointer[mutexCore]),
	}
	for _, o := range options {
		o(r)
	}
	return r
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return NewRegistry()
})

// Default returns the process-wide Registry.  It is created on first use and
// never torn down.
func Default() *Registry {
	return defaultRegistry()
}

// Get returns a handle for path from the process-wide Registry.
func Get(path string) (*Mutex, error) {
	return Default().Get(path)
}

// Get returns a new handle to the mutex for path.  If a handle for the same
// path is still open the new one shares its lock, otherwise the lock file is
// opened (and created, if necessary).  The caller must Close the handle.
func (r *Registry) Get(path string) (*Mutex, error) {
	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("ensuring that path %q is an absolute path: %w", path, err)
	}
	cleanPath = filepath.Clean(cleanPath)

	r.mu.Lock()
	defer r.mu.Unlock()

	if wp, ok := r.cores[cleanPath]; ok {
		if c := wp.Value(); c != nil && c.ref() {
			logrus.Debugf("reusing interprocess mutex %s", cleanPath)
			return newMutex(c), nil
		}
		// The old lock is gone, the entry is replaced below.
	}

	c, err := newCore(cleanPath, r.readOnly, r.pollInterval)
	if err != nil {
		return nil, err
	}
	r.cores[cleanPath] = weak.Make(c)
	logrus.Debugf("new interprocess mutex %s", cleanPath)
	return newMutex(c), nil
}

// Len returns the number of paths with at least one open handle.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, wp := range r.cores {
		if c := wp.Value(); c != nil && !c.isClosed() {
			n++
		}
	}
	return n
}
