package connector

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a new, unconnected Connector.
type Factory func() Connector

// Registry holds the driver factories and the live connections, keyed by
// publish source name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	active    map[string]Connector
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		active:    make(map[string]Connector),
	}
}

// RegisterDriver registers a connector factory for a driver name.
func (r *Registry) RegisterDriver(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// HasDriver reports whether a factory is registered for driver.
func (r *Registry) HasDriver(driver string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[driver]
	return ok
}

// Dialect returns an unconnected connector for driver, for building SQL.
func (r *Registry) Dialect(driver string) (Dialect, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s (available: %v)", driver, sortedKeys(r.factories))
	}
	return factory(), nil
}

// Connect opens a connection for the named source and replaces any previous
// connection under that name.
func (r *Registry) Connect(name string, cfg ConnectionConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	factory, ok := r.factories[cfg.Driver]
	if !ok {
		return fmt.Errorf("unsupported driver: %s (available: %v)", cfg.Driver, sortedKeys(r.factories))
	}

	conn := factory()
	if err := conn.Connect(cfg); err != nil {
		return fmt.Errorf("connect source %q: %w", name, err)
	}

	if existing, ok := r.active[name]; ok {
		existing.Disconnect()
	}
	r.active[name] = conn
	return nil
}

// Get returns the live connection of a source.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.active[name]
	if !ok {
		return nil, fmt.Errorf("source %q not connected (connected: %v)", name, sortedKeys(r.active))
	}
	return conn, nil
}

// Disconnect closes and forgets the connection of a source.
func (r *Registry) Disconnect(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.active[name]
	if !ok {
		return fmt.Errorf("source %q not connected", name)
	}
	err := conn.Disconnect()
	delete(r.active, name)
	return err
}

// CloseAll disconnects every source.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, conn := range r.active {
		conn.Disconnect()
		delete(r.active, name)
	}
}

// Drivers returns the registered driver names in order.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.factories)
}

// Connected returns the names of the connected sources in order.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.active)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
