package backend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrBackendNotFound   = errors.New("backend not found")
	ErrBackendRegistered = errors.New("backend already registered")
	ErrBackendInvalid    = errors.New("backend name is required")
)

// Factory builds a backend instance from options.
type Factory func(opts Options) (Backend, error)

type registration struct {
	factory Factory
	models  []string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// Register adds a backend factory by name together with the models it is
// known to work with.
func Register(name string, factory Factory, models ...string) error {
	if strings.TrimSpace(name) == "" {
		return ErrBackendInvalid
	}
	if factory == nil {
		return errors.New("backend factory is nil")
	}

	key := normalize(name)
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[key]; exists {
		return ErrBackendRegistered
	}

	registry[key] = registration{factory: factory, models: append([]string(nil), models...)}
	return nil
}

// New constructs the named backend.
func New(name string, opts Options) (Backend, error) {
	key := normalize(name)
	if key == "" {
		key = DefaultName()
	}

	registryMu.RLock()
	entry, ok := registry[key]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, key)
	}

	instance, err := entry.factory(opts)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", key, err)
	}
	return instance, nil
}

// Models returns the models registered for a backend.
func Models(name string) ([]string, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	entry, ok := registry[normalize(name)]
	if !ok {
		return nil, false
	}
	return append([]string(nil), entry.models...), true
}

// Names returns all registered backend names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultName returns the default backend name.
func DefaultName() string {
	return "openai"
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
