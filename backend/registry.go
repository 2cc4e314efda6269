package backend

import (
	"sync"
)

// Factory creates a new uploader instance.
type Factory func() (Uploader, error)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first available wins).
	backendPriority = []string{BackendNative, BackendSoftware}
)

// Register registers a backend factory with the given name.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns a list of registered backend names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get creates an uploader by name.
func Get(name string) (Uploader, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil, ErrBackendNotAvailable
	}
	return factory()
}

// Default creates the best available uploader based on priority.
// A backend whose factory fails is skipped.
func Default() (Uploader, error) {
	registryMu.RLock()
	factories := make([]Factory, 0, len(backends))
	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			factories = append(factories, factory)
		}
	}
	for name, factory := range backends {
		if name != BackendNative && name != BackendSoftware {
			factories = append(factories, factory)
		}
	}
	registryMu.RUnlock()

	for _, factory := range factories {
		if u, err := factory(); err == nil && u != nil {
			return u, nil
		}
	}
	return nil, ErrBackendNotAvailable
}

// MustDefault returns the default uploader or panics.
func MustDefault() Uploader {
	u, err := Default()
	if err != nil {
		panic("backend: no backend available")
	}
	return u
}
