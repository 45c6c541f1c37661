package piper

import (
	"errors"
	"fmt"
	"sync"
)

// Component represents anything a Group can tear down.
// Senders, Receivers, Pipes and FanIns implement it.
type Component interface {
	// Stop stops the component and releases its resources
	Stop() error

	// IsRunning returns true if the component is currently running
	IsRunning() bool
}

// Group holds components that are stopped together. Components are stopped
// in reverse order of addition, so a Receiver added before its Sender is
// stopped after it and observes a clean close.
type Group struct {
	name       string
	components []Component
	mu         sync.RWMutex
}

// NewGroup creates a new group with the given name
func NewGroup(name string) *Group {
	return &Group{
		name:       name,
		components: make([]Component, 0),
	}
}

// Add adds components to this group
func (g *Group) Add(components ...Component) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.components = append(g.components, components...)
}

// Stop stops every component in reverse order and empties the group. All
// components are stopped even if some fail; the failures are joined.
func (g *Group) Stop() error {
	g.mu.Lock()
	components := g.components
	g.components = nil
	g.mu.Unlock()

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop component %d of %s: %w", i, g.name, err))
		}
	}
	return errors.Join(errs...)
}

// IsRunning returns true if any component in the group is running
func (g *Group) IsRunning() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, comp := range g.components {
		if comp.IsRunning() {
			return true
		}
	}
	return false
}

// Name returns the group's name
func (g *Group) Name() string {
	return g.name
}

// Count returns the number of components in this group
func (g *Group) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.components)
}
