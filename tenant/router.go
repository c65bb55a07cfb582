package tenant

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lode-orm/lode/dialect"
)

// Opener creates a driver for a tenant on first use.
type Opener func(id ID) (dialect.Driver, error)

// Router maps tenant ids to drivers for DatabaseBased isolation.
// Drivers are opened lazily and reused; Close releases all of them.
type Router struct {
	mu      sync.RWMutex
	opener  Opener
	drivers map[ID]dialect.Driver
}

// NewRouter returns a Router that opens tenant drivers with the given
// opener.
func NewRouter(opener Opener) *Router {
	return &Router{opener: opener, drivers: map[ID]dialect.Driver{}}
}

// Register installs a pre-built driver for a tenant, overriding the
// opener for that id.
func (r *Router) Register(id ID, drv dialect.Driver) {
	r.mu.Lock()
	r.drivers[id] = drv
	r.mu.Unlock()
}

// Route returns the tenant's driver, opening it on first use.
func (r *Router) Route(id ID) (dialect.Driver, error) {
	if err := Validate(id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	drv, ok := r.drivers[id]
	r.mu.RUnlock()
	if ok {
		return drv, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if drv, ok := r.drivers[id]; ok {
		return drv, nil
	}
	if r.opener == nil {
		return nil, &InvalidError{ID: id, Reason: "no driver registered"}
	}
	drv, err := r.opener(id)
	if err != nil {
		return nil, fmt.Errorf("lode/tenant: open driver for %q: %w", id, err)
	}
	r.drivers[id] = drv
	return drv, nil
}

// Tenants returns the ids with open drivers.
func (r *Router) Tenants() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ID, 0, len(r.drivers))
	for id := range r.drivers {
		out = append(out, id)
	}
	return out
}

// Close closes every open driver, joining their errors.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, drv := range r.drivers {
		if err := drv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tenant %q: %w", id, err))
		}
	}
	r.drivers = map[ID]dialect.Driver{}
	return errors.Join(errs...)
}
